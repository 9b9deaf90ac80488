package executable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/logging"
	"github.com/ChuLiYu/algorun/internal/progress"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/google/uuid"
)

// Executable is one configurable, runnable instance of an algorithm.
//
// State machine:
//
//	Uninitialized --Configure--> Initialized --Execute--> Running --> Succeeded | Failed
//	Succeeded | Failed --Execute--> Running (re-run)
//
// An Executable is owned by one goroutine; Execute runs the body on the
// caller's goroutine.
type Executable struct {
	reg     *Registry
	body    Body
	name    string
	version int
	props   *property.Container
	log     *slog.Logger

	mu    sync.Mutex
	state types.ExecState

	runID     string
	started   time.Time
	last      types.RunRecord
	reporter  *progress.Reporter
	observers []func(progress.Update)

	// child execution
	parent       *Executable
	rangeStart   float64
	rangeEnd     float64
	storeOutputs bool
	childRuns    []types.RunRecord

	inputs   map[string]*artifact.Handle // property key -> handle resolved for this run
	injected map[string]*artifact.Handle // property key -> handle set by a parent
	outputs  map[string]*artifact.Handle // property key -> handle produced by the body
}

func newExecutable(reg *Registry, body Body, name string, version int) *Executable {
	return &Executable{
		reg:      reg,
		body:     body,
		name:     name,
		version:  version,
		props:    property.NewContainer(),
		log:      reg.log.With("algorithm", name, "version", version),
		state:    types.StateUninitialized,
		rangeEnd: 1,
		injected: make(map[string]*artifact.Handle),
		outputs:  make(map[string]*artifact.Handle),
	}
}

func (e *Executable) Name() string     { return e.name }
func (e *Executable) Version() int     { return e.version }
func (e *Executable) Category() string { return e.body.Category() }
func (e *Executable) Summary() string  { return e.body.Summary() }

// Body returns the wrapped algorithm body.
func (e *Executable) Body() Body { return e.body }

// Props returns the property container.
func (e *Executable) Props() *property.Container { return e.props }

// Logger returns the logger carrying algorithm, version and run_id.
func (e *Executable) Logger() *slog.Logger { return e.log }

// Artifacts returns the shared artifact registry.
func (e *Executable) Artifacts() *artifact.Registry { return e.reg.artifacts }

// ArtifactFactory returns the factory for creating artifacts.
func (e *Executable) ArtifactFactory() *artifact.Factory { return e.reg.factory }

// State returns the current lifecycle state.
func (e *Executable) State() types.ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsExecuted reports whether the last execution succeeded.
func (e *Executable) IsExecuted() bool { return e.State() == types.StateSucceeded }

// IsChild reports whether e was created by another executable.
func (e *Executable) IsChild() bool { return e.parent != nil }

// RunID returns the ID of the current or most recent execution.
func (e *Executable) RunID() string { return e.runID }

// LastRun returns the record of the most recent execution.
func (e *Executable) LastRun() types.RunRecord { return e.last }

// StoreOutputs makes a child publish its output artifacts to the registry
// like a top-level execution does. Top-level executions always publish.
func (e *Executable) StoreOutputs(store bool) { e.storeOutputs = store }

// OnProgress registers fn for progress updates of this execution. Updates
// carry the overall fraction of the outermost run.
func (e *Executable) OnProgress(fn func(progress.Update)) {
	e.observers = append(e.observers, fn)
}

func (e *Executable) setState(s types.ExecState) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.log.Debug("state changed", "from", string(prev), "to", string(s))
}

// Configure declares the body's properties. It may be called once.
func (e *Executable) Configure() error {
	if st := e.State(); st != types.StateUninitialized {
		return fmt.Errorf("executable: %s: configure in state %s: %w", e.name, st, types.ErrInvalidState)
	}
	d := &Declarer{props: e.props}
	e.body.Init(d)
	if d.err != nil {
		e.props = property.NewContainer()
		return fmt.Errorf("executable: %s: declare properties: %w", e.name, d.err)
	}
	e.setState(types.StateInitialized)
	return nil
}

// Set assigns a property value. A string given for a non-string property is
// parsed as SetFromString would.
func (e *Executable) Set(name string, v any) error {
	if s, ok := v.(string); ok {
		p, err := e.props.Lookup(name)
		if err != nil {
			return err
		}
		if !p.Type().Equals(property.String) {
			return e.props.SetFromString(name, s)
		}
	}
	return e.props.Set(name, v)
}

// SetAll assigns several properties, stopping at the first failure.
func (e *Executable) SetAll(values map[string]any) error {
	for name, v := range values {
		if err := e.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Report publishes local progress of the running body.
func (e *Executable) Report(fraction float64, msg string) {
	if e.reporter != nil {
		e.reporter.Report(fraction, msg)
	}
}

// SetSteps and Step report progress as a number of completed steps.
func (e *Executable) SetSteps(n int) {
	if e.reporter != nil {
		e.reporter.SetSteps(n)
	}
}

func (e *Executable) Step(msg string) {
	if e.reporter != nil {
		e.reporter.Step(msg)
	}
}

// ============================================================================
// Artifacts
// ============================================================================

// InputArtifact returns the handle resolved for an input artifact property.
// The handle stays valid while the body runs; bodies that keep it longer must
// Acquire it.
func (e *Executable) InputArtifact(prop string) (*artifact.Handle, error) {
	p, err := e.artifactProp(prop)
	if err != nil {
		return nil, err
	}
	h, ok := e.inputs[key(p.Name())]
	if !ok {
		return nil, fmt.Errorf("executable: %s: input artifact %q not resolved: %w", e.name, p.Name(), types.ErrNotFound)
	}
	return h, nil
}

// SetInputArtifact hands an input artifact to a child directly instead of
// through the registry. The executable acquires its own reference.
func (e *Executable) SetInputArtifact(prop string, h *artifact.Handle) error {
	p, err := e.artifactProp(prop)
	if err != nil {
		return err
	}
	if !p.Direction().IsInput() {
		return fmt.Errorf("executable: %s: %q is not an input: %w", e.name, p.Name(), types.ErrValidation)
	}
	if h == nil {
		return fmt.Errorf("executable: %s: nil handle for %q: %w", e.name, p.Name(), types.ErrValidation)
	}
	if p.ArtifactKind() != "" && h.Kind() != p.ArtifactKind() {
		return fmt.Errorf("executable: %s: %q wants %s, got %s: %w", e.name, p.Name(), p.ArtifactKind(), h.Kind(), types.ErrTypeMismatch)
	}
	if v, _ := e.props.GetString(p.Name()); v == "" {
		if err := e.props.Set(p.Name(), artifact.HiddenPrefix+strings.ToLower(p.Name())); err != nil {
			return err
		}
	}
	k := key(p.Name())
	if old, ok := e.injected[k]; ok {
		old.Release()
	}
	e.injected[k] = h.Acquire()
	return nil
}

// SetOutputArtifact records the artifact produced for an output property. The
// executable takes over the caller's reference.
func (e *Executable) SetOutputArtifact(prop string, h *artifact.Handle) error {
	p, err := e.artifactProp(prop)
	if err != nil {
		return err
	}
	if !p.Direction().IsOutput() {
		return fmt.Errorf("executable: %s: %q is not an output: %w", e.name, p.Name(), types.ErrValidation)
	}
	if h == nil {
		return fmt.Errorf("executable: %s: nil handle for %q: %w", e.name, p.Name(), types.ErrValidation)
	}
	if p.ArtifactKind() != "" && h.Kind() != p.ArtifactKind() {
		return fmt.Errorf("executable: %s: %q wants %s, got %s: %w", e.name, p.Name(), p.ArtifactKind(), h.Kind(), types.ErrTypeMismatch)
	}
	k := key(p.Name())
	if old, ok := e.outputs[k]; ok && old != h {
		old.Release()
	}
	e.outputs[k] = h
	return nil
}

// OutputArtifact returns an acquired reference to an artifact produced by the
// last execution and not published to the registry. Parents use it to pick up
// the results of children. The caller must Release it.
func (e *Executable) OutputArtifact(prop string) (*artifact.Handle, error) {
	p, err := e.artifactProp(prop)
	if err != nil {
		return nil, err
	}
	h, ok := e.outputs[key(p.Name())]
	if !ok {
		return nil, fmt.Errorf("executable: %s: no local output for %q: %w", e.name, p.Name(), types.ErrNotFound)
	}
	return h.Acquire(), nil
}

// Release drops every artifact reference the executable still holds.
func (e *Executable) Release() {
	for k, h := range e.outputs {
		h.Release()
		delete(e.outputs, k)
	}
	for k, h := range e.injected {
		h.Release()
		delete(e.injected, k)
	}
}

func (e *Executable) artifactProp(prop string) (*property.Property, error) {
	p, err := e.props.Lookup(prop)
	if err != nil {
		return nil, err
	}
	if !p.IsArtifact() {
		return nil, fmt.Errorf("executable: %s: %q is not an artifact property: %w", e.name, p.Name(), types.ErrTypeMismatch)
	}
	return p, nil
}

func key(name string) string { return strings.ToLower(name) }

// ============================================================================
// Execution
// ============================================================================

// Execute validates the properties, resolves input artifacts, runs the body
// and publishes output artifacts. Any failure leaves the executable Failed and
// is returned.
func (e *Executable) Execute(ctx context.Context) error {
	switch st := e.State(); st {
	case types.StateUninitialized, types.StateRunning:
		return fmt.Errorf("executable: %s: execute in state %s: %w", e.name, st, types.ErrInvalidState)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.props.Freeze()
	e.runID = uuid.NewString()
	e.childRuns = nil
	e.log = e.reg.log.With("algorithm", e.name, "version", e.version, "run_id", e.runID)
	if err := e.newReporter(); err != nil {
		return err
	}
	e.setState(types.StateRunning)
	e.reg.metrics.RecordExecutionStarted(e.name)
	e.log.Info("execution started")

	e.started = time.Now()
	published, err := e.run(ctx)
	elapsed := time.Since(e.started)

	e.releaseInputs()
	e.last = types.RunRecord{
		RunID:      e.runID,
		Algorithm:  e.name,
		Version:    e.version,
		Properties: e.props.Snapshot(),
		State:      types.StateSucceeded,
		Child:      e.parent != nil,
		StartedAt:  e.started.UnixMilli(),
		Duration:   elapsed,
		Outputs:    published,
	}
	if e.parent != nil {
		e.last.ParentRun = e.parent.runID
	}
	e.reg.metrics.RecordExecutionFinished(e.name, elapsed, err)

	if err != nil {
		e.last.State = types.StateFailed
		e.last.Error = err.Error()
		for k, h := range e.outputs {
			h.Release()
			delete(e.outputs, k)
		}
		e.notifyParent()
		e.setState(types.StateFailed)
		e.log.Error("execution failed", "error", err, "duration", elapsed)
		return err
	}
	e.notifyParent()
	e.setState(types.StateSucceeded)
	e.log.Info("execution succeeded", "duration", elapsed)
	return nil
}

func (e *Executable) newReporter() error {
	var r *progress.Reporter
	if e.parent != nil && e.parent.reporter != nil {
		sub, err := e.parent.reporter.Sub(e.rangeStart, e.rangeEnd)
		if err != nil {
			return err
		}
		r = sub
	} else {
		r = progress.Root()
	}
	for _, fn := range e.observers {
		r.Observe(fn)
	}
	e.reporter = r
	return nil
}

func (e *Executable) notifyParent() {
	if e.parent == nil {
		return
	}
	e.parent.childRuns = append(e.parent.childRuns, e.childRuns...)
	e.parent.childRuns = append(e.parent.childRuns, e.last)
}

func (e *Executable) run(ctx context.Context) ([]string, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if err := e.resolveInputs(); err != nil {
		return nil, err
	}
	// outputs of a previous run are replaced by this one
	for k, h := range e.outputs {
		h.Release()
		delete(e.outputs, k)
	}

	if err := e.execBody(ctx); err != nil {
		return nil, err
	}
	if err := e.collectOutputs(); err != nil {
		return nil, err
	}
	e.Report(1, "done")
	return e.publish()
}

func (e *Executable) validate() error {
	problems := e.props.ValidateAll()
	if v, ok := e.body.(InputValidator); ok {
		for name, msg := range v.ValidateInputs(e) {
			if _, seen := problems[name]; !seen {
				problems[name] = msg
			}
		}
	}
	if len(problems) > 0 {
		return &types.ValidationError{Problems: problems}
	}
	return nil
}

func (e *Executable) resolveInputs() error {
	e.inputs = make(map[string]*artifact.Handle)
	for _, p := range e.props.Properties() {
		if !p.IsArtifact() || !p.Direction().IsInput() {
			continue
		}
		k := key(p.Name())
		if h, ok := e.injected[k]; ok {
			e.inputs[k] = h.Acquire()
			continue
		}
		name := p.String()
		if name == "" {
			continue
		}
		h, err := e.reg.artifacts.RetrieveKind(name, p.ArtifactKind())
		if err != nil {
			if p.Direction() == types.DirInOut && errors.Is(err, types.ErrNotFound) {
				continue
			}
			e.releaseInputs()
			return fmt.Errorf("executable: %s: property %s: %w", e.name, p.Name(), err)
		}
		e.inputs[k] = h
	}
	return nil
}

func (e *Executable) releaseInputs() {
	for k, h := range e.inputs {
		h.Release()
		delete(e.inputs, k)
	}
}

func (e *Executable) execBody(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Debug("body panicked", "stack", string(debug.Stack()))
			err = &types.ExecutionError{Algorithm: e.name, Version: e.version, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()
	if bodyErr := e.body.Exec(logging.WithLogger(ctx, e.log), e); bodyErr != nil {
		return &types.ExecutionError{Algorithm: e.name, Version: e.version, Cause: bodyErr}
	}
	return nil
}

// collectOutputs checks that every required output was produced. In-out
// artifacts the body left alone are modified in place.
func (e *Executable) collectOutputs() error {
	for _, p := range e.props.Properties() {
		if !p.IsArtifact() || !p.Direction().IsOutput() {
			continue
		}
		k := key(p.Name())
		if _, ok := e.outputs[k]; ok {
			continue
		}
		if in, ok := e.inputs[k]; ok {
			e.outputs[k] = in.Acquire()
			continue
		}
		if p.String() != "" && !p.IsOptional() {
			return &types.ExecutionError{
				Algorithm: e.name, Version: e.version,
				Cause: fmt.Errorf("output %s was not produced", p.Name()),
			}
		}
	}
	return nil
}

// publish attaches history to the outputs and, for top-level executions or
// children asked to store outputs, adds them to the artifact registry.
func (e *Executable) publish() ([]string, error) {
	var history []types.RunRecord
	seen := make(map[string]bool)
	add := func(recs ...types.RunRecord) {
		for _, r := range recs {
			if r.RunID != "" && seen[r.RunID] {
				continue
			}
			seen[r.RunID] = true
			history = append(history, r)
		}
	}
	for _, p := range e.props.Properties() {
		if h, ok := e.inputs[key(p.Name())]; ok {
			add(h.History()...)
		}
	}
	add(e.childRuns...)

	self := types.RunRecord{
		RunID:      e.runID,
		Algorithm:  e.name,
		Version:    e.version,
		Properties: e.props.Snapshot(),
		State:      types.StateSucceeded,
		Child:      e.parent != nil,
		StartedAt:  e.started.UnixMilli(),
		Duration:   time.Since(e.started),
	}
	if e.parent != nil {
		self.ParentRun = e.parent.runID
	}
	add(self)

	store := e.parent == nil || e.storeOutputs
	var published []string
	for _, p := range e.props.Properties() {
		k := key(p.Name())
		h, ok := e.outputs[k]
		if !ok || !p.Direction().IsOutput() {
			continue
		}
		h.SetHistory(history)
		if !store {
			continue
		}
		name := p.String()
		if name == "" {
			continue
		}
		if err := e.reg.artifacts.AddOrReplace(name, h); err != nil {
			return published, fmt.Errorf("executable: %s: publish %s: %w", e.name, p.Name(), err)
		}
		delete(e.outputs, k)
		published = append(published, name)
	}
	return published, nil
}
