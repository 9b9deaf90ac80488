// Package executable holds the algorithm registry and the executable state
// machine that configures, validates and runs algorithm bodies, including
// nested child executions.
package executable

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/metrics"
	"github.com/ChuLiYu/algorun/pkg/types"
)

// Factory returns a fresh Body.
type Factory func() Body

// Entry describes one registered (name, version) pair.
type Entry struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Category string `json:"category,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Registry maps (name, version) to body factories and creates executables
// bound to a shared artifact registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]map[int]Factory

	artifacts *artifact.Registry
	factory   *artifact.Factory
	metrics   *metrics.Collector
	log       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithArtifacts sets the artifact registry executables read and publish to.
func WithArtifacts(a *artifact.Registry) Option {
	return func(r *Registry) { r.artifacts = a }
}

// WithArtifactFactory sets the factory bodies use to create artifacts.
func WithArtifactFactory(f *artifact.Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithMetrics records executions in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithLogger sets the base logger of created executables.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry. Without WithArtifacts a private
// artifact registry is created.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]map[int]Factory),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.artifacts == nil {
		r.artifacts = artifact.NewRegistry(artifact.WithLogger(r.log))
	}
	if r.factory == nil {
		r.factory = artifact.NewFactory()
	}
	return r
}

// Artifacts returns the artifact registry executables are bound to.
func (r *Registry) Artifacts() *artifact.Registry { return r.artifacts }

// ArtifactFactory returns the factory available to bodies.
func (r *Registry) ArtifactFactory() *artifact.Factory { return r.factory }

// Register adds a factory under (name, version).
func (r *Registry) Register(name string, version int, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("executable: name and factory are required: %w", types.ErrValidation)
	}
	if version < 1 {
		return fmt.Errorf("executable: %s version %d: versions start at 1: %w", name, version, types.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.factories[name]
	if !ok {
		versions = make(map[int]Factory)
		r.factories[name] = versions
	}
	if _, exists := versions[version]; exists {
		return fmt.Errorf("executable: %s v%d: %w", name, version, types.ErrDuplicate)
	}
	versions[version] = f
	return nil
}

// RegisterBody registers f under the name and version its bodies report.
func (r *Registry) RegisterBody(f Factory) error {
	if f == nil {
		return fmt.Errorf("executable: nil factory: %w", types.ErrValidation)
	}
	b := f()
	if b == nil {
		return fmt.Errorf("executable: factory returned nil: %w", types.ErrValidation)
	}
	return r.Register(b.Name(), b.Version(), f)
}

// MustRegister is RegisterBody that panics on error.
func (r *Registry) MustRegister(f Factory) {
	if err := r.RegisterBody(f); err != nil {
		panic(err)
	}
}

// Unregister removes (name, version). Removing an unknown pair fails with
// ErrNotFound.
func (r *Registry) Unregister(name string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("executable: %s: %w", name, types.ErrNotFound)
	}
	if _, ok := versions[version]; !ok {
		return fmt.Errorf("executable: %s v%d: %w", name, version, types.ErrNotFound)
	}
	delete(versions, version)
	if len(versions) == 0 {
		delete(r.factories, name)
	}
	return nil
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.factories = make(map[string]map[int]Factory)
	r.mu.Unlock()
}

// Create returns an unconfigured executable of the highest registered version.
func (r *Registry) Create(name string) (*Executable, error) {
	return r.CreateVersion(name, 0)
}

// CreateVersion returns an unconfigured executable of the given version. A
// version of 0 selects the highest one.
func (r *Registry) CreateVersion(name string, version int) (*Executable, error) {
	f, v, err := r.lookup(name, version)
	if err != nil {
		return nil, err
	}
	body := f()
	if body == nil {
		return nil, fmt.Errorf("executable: %s v%d: factory returned nil: %w", name, v, types.ErrInvalidState)
	}
	return newExecutable(r, body, name, v), nil
}

func (r *Registry) lookup(name string, version int) (Factory, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.factories[name]
	if !ok || len(versions) == 0 {
		return nil, 0, fmt.Errorf("executable: %s: %w", name, types.ErrNotFound)
	}
	if version == 0 {
		version = highest(versions)
	}
	f, ok := versions[version]
	if !ok {
		return nil, 0, fmt.Errorf("executable: %s v%d: %w", name, version, types.ErrNotFound)
	}
	return f, version, nil
}

func highest(versions map[int]Factory) int {
	top := 0
	for v := range versions {
		top = max(top, v)
	}
	return top
}

// Latest returns the highest registered version of name.
func (r *Registry) Latest(name string) (int, error) {
	_, v, err := r.lookup(name, 0)
	return v, err
}

// Versions returns the registered versions of name in ascending order.
func (r *Registry) Versions(name string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.factories[name]))
	for v := range r.factories[name] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries describes every registration, sorted by name then version.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for name, versions := range r.factories {
		for v, f := range versions {
			e := Entry{Name: name, Version: v}
			if b := f(); b != nil {
				e.Category, e.Summary = b.Category(), b.Summary()
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}
