// ============================================================================
// algorun framework - process-wide services
// ============================================================================
//
// Package: internal/framework
//
// Services bundles the long lived collaborators every execution needs:
//
//   Services
//   ├─ Artifacts   *artifact.Registry     named workspaces shared by all runs
//   ├─ Factory     *artifact.Factory      artifact construction by kind
//   ├─ Algorithms  *executable.Registry   registered algorithm versions
//   ├─ Metrics     *metrics.Collector     nil when metrics are disabled
//   ├─ History     *history.Store         nil when no history path is set
//   └─ Logger      *slog.Logger
//
// Default() builds one instance on first use; Reset() discards it so tests
// start from a clean state. Code that needs isolation calls New directly.
//
// ============================================================================

package framework

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/algorun/internal/algorithms"
	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/history"
	"github.com/ChuLiYu/algorun/internal/metrics"
	"github.com/ChuLiYu/algorun/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

// Config selects how Services are built.
type Config struct {
	Workers     int              // scheduler workers; 0 means one per CPU
	Policy      scheduler.Policy // scheduler dispatch order
	Logger      *slog.Logger     // nil means slog.Default()
	Registerer  prometheus.Registerer
	Metrics     bool   // create a metrics collector registered with Registerer
	HistoryPath string // empty disables history persistence
	SkipBuiltin bool   // do not register the built-in algorithms
}

// Services is the set of shared runtime collaborators.
type Services struct {
	Config     Config
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Artifacts  *artifact.Registry
	Factory    *artifact.Factory
	Algorithms *executable.Registry
	History    *history.Store

	unsubscribe func()
}

// New builds a Services instance from cfg.
func New(cfg Config) (*Services, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Services{Config: cfg, Logger: log}

	if cfg.Metrics {
		s.Metrics = metrics.NewCollector(cfg.Registerer)
	}
	s.Artifacts = artifact.NewRegistry(artifact.WithLogger(log))
	s.Factory = artifact.NewFactory()
	s.Algorithms = executable.NewRegistry(
		executable.WithArtifacts(s.Artifacts),
		executable.WithArtifactFactory(s.Factory),
		executable.WithMetrics(s.Metrics),
		executable.WithLogger(log),
	)
	if cfg.HistoryPath != "" {
		s.History = history.NewStore(cfg.HistoryPath)
	}

	s.unsubscribe = s.Artifacts.Subscribe(func(ev artifact.Event) {
		s.Metrics.RecordArtifactEvent(string(ev.Type), s.Artifacts.Len())
	})

	if !cfg.SkipBuiltin {
		if err := algorithms.Register(s.Algorithms, algorithms.WithScheduler(s.NewScheduler)); err != nil {
			return nil, fmt.Errorf("framework: register built-in algorithms: %w", err)
		}
	}
	log.Debug("framework services ready",
		"algorithms", len(s.Algorithms.Names()),
		"workers", cfg.Workers,
		"policy", cfg.Policy.String(),
		"metrics", cfg.Metrics)
	return s, nil
}

// NewScheduler returns a scheduler configured from the services.
func (s *Services) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(s.Config.Workers,
		scheduler.WithPolicy(s.Config.Policy),
		scheduler.WithMetrics(s.Metrics),
		scheduler.WithLogger(s.Logger),
	)
}

// SaveHistory merges the histories of all registered artifacts into the
// history store. It does nothing when history is disabled.
func (s *Services) SaveHistory() error {
	if s.History == nil {
		return nil
	}
	return s.History.Merge(history.Capture(s.Artifacts))
}

// Close drops every artifact and detaches the metrics subscription.
func (s *Services) Close() {
	s.Artifacts.Clear()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

var (
	defaultMu  sync.Mutex
	defaultSvc *Services
)

// Default returns the process-wide services, building them on first use with
// built-in algorithms, default logging and no metrics or history.
func Default() *Services {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSvc == nil {
		svc, err := New(Config{})
		if err != nil {
			// built-in registration into a fresh registry cannot collide
			panic(err)
		}
		defaultSvc = svc
	}
	return defaultSvc
}

// SetDefault installs svc as the process-wide services.
func SetDefault(svc *Services) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSvc != nil && defaultSvc != svc {
		defaultSvc.Close()
	}
	defaultSvc = svc
}

// Reset discards the process-wide services. The next Default call builds new
// ones.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSvc != nil {
		defaultSvc.Close()
		defaultSvc = nil
	}
}
