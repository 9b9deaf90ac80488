// ============================================================================
// algorun CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree over the algorithm runtime
//
// Command Structure:
//   algorun                        # Root command
//   ├── list                       # Registered algorithms and versions
//   ├── describe NAME              # Properties of one algorithm
//   │   └── --version, -v          # Version (default: pinned or latest)
//   ├── run [NAME]                 # Execute one algorithm or a job file
//   │   ├── --version, -v          # Version (default: pinned or latest)
//   │   ├── --set, -p key=value    # Property value, repeatable
//   │   ├── --file, -f             # HCL job file instead of NAME
//   │   └── --progress             # Print progress to stderr
//   ├── history [ARTIFACT]         # Persisted run records
//   ├── status                     # Configuration and runtime summary
//   └── --config, -c               # Config file (default: configs/default.yaml)
//
// Configuration Management:
//   YAML config file; a missing file at the default path means defaults.
//   - scheduler: worker count and dispatch policy
//   - logging:   level and format of the slog handler (written to stderr)
//   - metrics:   Prometheus endpoint served while a run is in progress
//   - history:   JSON file receiving the run records of produced artifacts
//   - versions:  algorithm -> version pins used when --version is not given
//
// run Command:
//   1. Load config and build framework services
//   2. Start the metrics server (if enabled)
//   3. Execute the algorithm or every block of the job file in order
//   4. Print the resulting artifacts
//   5. Merge artifact histories into the history file
//
//   Examples:
//     ./algorun run CreateMatrix -p OutputWorkspace=ws -p Bins=5 -p DataY=1:5
//     ./algorun run -f pipeline.hcl
//
// Error Handling:
//   Every failure is returned to cobra, which prints it; main exits with 1.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/framework"
	"github.com/ChuLiYu/algorun/internal/history"
	"github.com/ChuLiYu/algorun/internal/jobfile"
	"github.com/ChuLiYu/algorun/internal/logging"
	"github.com/ChuLiYu/algorun/internal/metrics"
	"github.com/ChuLiYu/algorun/internal/progress"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/internal/scheduler"
	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/default.yaml"

// Config represents the complete CLI configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		Workers int    `yaml:"workers"`
		Policy  string `yaml:"policy"`
	} `yaml:"scheduler"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`

	Versions map[string]int `yaml:"versions"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Scheduler.Policy = scheduler.LargestCostFirst.String()
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Metrics.Port = 9090
	return cfg
}

var configFile string

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "algorun",
		Short: "algorun: a versioned scientific algorithm runner",
		Long: `algorun executes registered algorithms against named in-memory workspaces:
- typed, validated algorithm properties
- versioned algorithm registry
- reference counted workspace registry with run history
- longest-cost-first parallel task scheduling`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")

	rootCmd.AddCommand(buildListCommand())
	rootCmd.AddCommand(buildDescribeCommand())
	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// ============================================================================
// list / describe
// ============================================================================

func buildListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openServices(io.Discard)
			if err != nil {
				return err
			}
			defer svc.Close()
			return listAlgorithms(cmd.OutOrStdout(), svc.Algorithms)
		},
	}
}

func listAlgorithms(w io.Writer, reg *executable.Registry) error {
	t := newTable("Name", "Version", "Category", "Summary")
	for _, e := range reg.Entries() {
		t.Row(e.Name, strconv.Itoa(e.Version), e.Category, e.Summary)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func buildDescribeCommand() *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "describe NAME",
		Short: "Show the properties of an algorithm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := openServices(io.Discard)
			if err != nil {
				return err
			}
			defer svc.Close()
			return describeAlgorithm(cmd.OutOrStdout(), svc.Algorithms, args[0], pinnedVersion(cfg, args[0], version))
		},
	}

	cmd.Flags().IntVarP(&version, "version", "v", 0, "algorithm version (default: pinned or latest)")
	return cmd
}

func describeAlgorithm(w io.Writer, reg *executable.Registry, name string, version int) error {
	e, err := reg.CreateVersion(name, version)
	if err != nil {
		return err
	}
	if err := e.Configure(); err != nil {
		return err
	}

	fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("%s v%d", e.Name(), e.Version())))
	if e.Category() != "" {
		fmt.Fprintln(w, mutedStyle.Render(e.Category()))
	}
	if e.Summary() != "" {
		fmt.Fprintln(w, e.Summary())
	}

	t := newTable("Property", "Direction", "Type", "Default", "Description")
	for _, p := range e.Props().Properties() {
		typ := p.TypeName()
		if p.IsArtifact() {
			typ = "workspace"
			if p.ArtifactKind() != "" {
				typ += " (" + p.ArtifactKind() + ")"
			}
		}
		doc := p.Doc()
		if p.IsOptional() {
			doc = strings.TrimSpace(doc + " [optional]")
		}
		t.Row(p.Name(), p.Direction().String(), typ, property.FormatValue(p.Default()), doc)
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var (
		version      int
		sets         []string
		jobFile      string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "run [NAME]",
		Short: "Run an algorithm or a job file",
		Long:  "Execute one algorithm with -p property values, or every algorithm block of an HCL job file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobFile == "" && len(args) == 0 {
				return fmt.Errorf("algorithm name or job file is required (use --file or -f)")
			}
			if jobFile != "" && len(args) > 0 {
				return fmt.Errorf("give either an algorithm name or a job file, not both")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := runOptions{
				jobFile: jobFile,
				version: version,
				sets:    sets,
				out:     cmd.OutOrStdout(),
				logs:    cmd.ErrOrStderr(),
			}
			if len(args) > 0 {
				opts.name = args[0]
			}
			if showProgress {
				opts.progress = cmd.ErrOrStderr()
			}
			return runAlgorithms(ctx, opts)
		},
	}

	cmd.Flags().IntVarP(&version, "version", "v", 0, "algorithm version (default: pinned or latest)")
	cmd.Flags().StringArrayVarP(&sets, "set", "p", nil, "property value as key=value, repeatable")
	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "HCL job file")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print progress updates to stderr")

	return cmd
}

type runOptions struct {
	name     string
	version  int
	sets     []string
	jobFile  string
	out      io.Writer
	logs     io.Writer
	progress io.Writer // nil disables progress output
}

func runAlgorithms(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.logs == nil {
		opts.logs = os.Stderr
	}
	svc, cfg, err := openServices(opts.logs)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx = logging.WithLogger(ctx, svc.Logger)

	if gatherer, ok := svc.Config.Registerer.(prometheus.Gatherer); ok && cfg.Metrics.Enabled {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			svc.Logger.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(metricsCtx, cfg.Metrics.Port, gatherer); err != nil {
				svc.Logger.Warn("metrics server error", "error", err)
			}
		}()
	}

	var (
		records []types.RunRecord
		runErr  error
	)
	if opts.jobFile != "" {
		job, err := jobfile.Load(opts.jobFile)
		if err != nil {
			return err
		}
		svc.Logger.Info("running job file", "file", opts.jobFile, "steps", len(job.Steps))
		records, runErr = job.Run(ctx, svc.Algorithms, cfg.Versions)
	} else {
		var rec types.RunRecord
		rec, runErr = runSingle(ctx, svc.Algorithms, opts, pinnedVersion(cfg, opts.name, opts.version))
		if rec.RunID != "" {
			records = append(records, rec)
		}
	}

	printRuns(opts.out, records)
	printArtifacts(opts.out, svc)
	if err := svc.SaveHistory(); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to save history: %w", err))
	}
	return runErr
}

func runSingle(ctx context.Context, reg *executable.Registry, opts runOptions, version int) (types.RunRecord, error) {
	e, err := reg.CreateVersion(opts.name, version)
	if err != nil {
		return types.RunRecord{}, err
	}
	if err := e.Configure(); err != nil {
		return types.RunRecord{}, err
	}
	values, err := parseSets(opts.sets)
	if err != nil {
		return types.RunRecord{}, err
	}
	for _, kv := range values {
		if err := e.Set(kv[0], kv[1]); err != nil {
			return types.RunRecord{}, err
		}
	}
	if opts.progress != nil {
		w := opts.progress
		e.OnProgress(func(u progress.Update) {
			fmt.Fprintf(w, "[%3.0f%%] %s\n", u.Fraction*100, u.Message)
		})
	}
	err = e.Execute(ctx)
	return e.LastRun(), err
}

// parseSets splits key=value pairs, keeping their order.
func parseSets(sets []string) ([][2]string, error) {
	out := make([][2]string, 0, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property assignment %q, want key=value: %w", s, types.ErrValidation)
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

func printRuns(w io.Writer, records []types.RunRecord) {
	if len(records) == 0 {
		return
	}
	t := newTable("Algorithm", "Version", "State", "Duration", "Error")
	for _, r := range records {
		t.Row(r.Algorithm, strconv.Itoa(r.Version), string(r.State), r.Duration.Round(time.Microsecond).String(), r.Error)
	}
	fmt.Fprintln(w, t.Render())
}

func printArtifacts(w io.Writer, svc *framework.Services) {
	names := svc.Artifacts.Names()
	if len(names) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no workspaces"))
		return
	}
	t := newTable("Workspace", "Kind", "Shape", "Runs")
	for _, name := range names {
		h, err := svc.Artifacts.Retrieve(name)
		if err != nil {
			continue
		}
		s := h.Artifact().Structure()
		t.Row(name, h.Kind(), fmt.Sprintf("%dx%d", s.Rows, s.Cols), strconv.Itoa(len(h.History())))
		h.Release()
	}
	fmt.Fprintln(w, t.Render())
}

// ============================================================================
// history / status
// ============================================================================

func buildHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history [ARTIFACT]",
		Short: "Show persisted run history",
		Long:  "List the workspaces with recorded history, or the runs that produced one workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configFile)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("history is disabled (set history.path in %s)", configFile)
			}
			store := history.NewStore(cfg.History.Path)
			if len(args) == 0 {
				return listHistory(cmd.OutOrStdout(), store)
			}
			return showHistory(cmd.OutOrStdout(), store, args[0])
		},
	}
}

func listHistory(w io.Writer, store *history.Store) error {
	names, err := store.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no recorded workspaces"))
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

func showHistory(w io.Writer, store *history.Store, name string) error {
	records, err := store.Lookup(name)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, headingStyle.Render(name))
	t := newTable("#", "Algorithm", "Version", "Started", "Properties")
	for i, r := range records {
		algorithm := r.Algorithm
		if r.Child {
			algorithm = "  " + algorithm
		}
		t.Row(strconv.Itoa(i+1), algorithm, strconv.Itoa(r.Version),
			time.UnixMilli(r.StartedAt).Format(time.RFC3339), formatProperties(r.Properties))
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}

func formatProperties(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+props[k])
	}
	return strings.Join(parts, " ")
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and runtime status",
		Long:  "Display the effective configuration, registered algorithms and history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.OutOrStdout())
		},
	}
}

func showStatus(w io.Writer) error {
	svc, cfg, err := openServices(io.Discard)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Fprintln(w, headingStyle.Render("algorun status"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  ├─ Config File:  %s\n", configFile)
	workers := "one per CPU"
	if cfg.Scheduler.Workers > 0 {
		workers = strconv.Itoa(cfg.Scheduler.Workers)
	}
	fmt.Fprintf(w, "  ├─ Workers:      %s\n", workers)
	fmt.Fprintf(w, "  ├─ Policy:       %s\n", svc.Config.Policy)
	fmt.Fprintf(w, "  └─ Logging:      %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Algorithms:")
	names := svc.Algorithms.Names()
	for i, name := range names {
		branch := "├─"
		if i == len(names)-1 {
			branch = "└─"
		}
		fmt.Fprintf(w, "  %s %s %v\n", branch, name, svc.Algorithms.Versions(name))
	}
	if pins := sortedPins(cfg.Versions); len(pins) > 0 {
		fmt.Fprintf(w, "  Pinned: %s\n", strings.Join(pins, ", "))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "History:")
	if svc.History == nil {
		fmt.Fprintln(w, "  └─ Disabled")
	} else {
		recorded, err := svc.History.Names()
		if err != nil {
			fmt.Fprintf(w, "  └─ %s: %v\n", svc.History.Path(), err)
		} else {
			fmt.Fprintf(w, "  └─ %s (%d workspaces)\n", svc.History.Path(), len(recorded))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  └─ Enabled on http://localhost:%d/metrics during runs\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "  └─ Disabled")
	}
	return nil
}

func sortedPins(pins map[string]int) []string {
	out := make([]string, 0, len(pins))
	for name, v := range pins {
		out = append(out, fmt.Sprintf("%s=v%d", name, v))
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// helpers
// ============================================================================

// openServices loads the config and builds framework services logging to w.
func openServices(w io.Writer) (*framework.Services, *Config, error) {
	cfg, err := loadConfigOrDefault(configFile)
	if err != nil {
		return nil, nil, err
	}
	policy, err := scheduler.ParsePolicy(cfg.Scheduler.Policy)
	if err != nil {
		return nil, nil, err
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, nil, err
	}

	svc, err := framework.New(framework.Config{
		Workers:     cfg.Scheduler.Workers,
		Policy:      policy,
		Logger:      logging.New(cfg.Logging.Level, cfg.Logging.Format, w),
		Registerer:  prometheus.NewRegistry(),
		Metrics:     cfg.Metrics.Enabled,
		HistoryPath: cfg.History.Path,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create services: %w", err)
	}
	return svc, cfg, nil
}

// pinnedVersion returns flag when set, else the configured pin, else 0
// (latest).
func pinnedVersion(cfg *Config, name string, flag int) int {
	if flag > 0 {
		return flag
	}
	return cfg.Versions[name]
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// loadConfigOrDefault reads path, falling back to defaults when the default
// config file does not exist.
func loadConfigOrDefault(path string) (*Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
	}
	return loadConfig(path)
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return cfg, nil
}
