// Package artifact holds the named, shared data objects (workspaces) that
// algorithms read and write, the registry that maps names to them and the
// factory that builds them by kind.
package artifact

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// Artifact is any data object that can be published under a name.
type Artifact interface {
	Kind() string
	Structure() Structure
}

// Disposer is implemented by artifacts that release resources when the last
// handle reference goes away.
type Disposer interface {
	Dispose()
}

// Cloner is implemented by artifacts that can deep copy themselves,
// data included.
type Cloner interface {
	Clone() Artifact
}

// Structure describes the shape of an artifact without its data.
type Structure struct {
	Rows   int               `json:"rows"`
	Cols   int               `json:"cols"`
	Labels []string          `json:"labels,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Clone returns a deep copy.
func (s Structure) Clone() Structure {
	return Structure{
		Rows:   s.Rows,
		Cols:   s.Cols,
		Labels: slices.Clone(s.Labels),
		Meta:   maps.Clone(s.Meta),
	}
}

// ============================================================================
// Handle
// ============================================================================

// Handle is a reference counted owner of an artifact. NewHandle returns a
// handle holding one reference; every Acquire must be paired with a Release.
// The artifact is disposed when the count drops to zero.
type Handle struct {
	art  Artifact
	refs atomic.Int32

	mu      sync.Mutex
	history []types.RunRecord
}

// NewHandle wraps a with a single reference owned by the caller.
func NewHandle(a Artifact) *Handle {
	h := &Handle{art: a}
	h.refs.Store(1)
	return h
}

// Artifact returns the wrapped artifact.
func (h *Handle) Artifact() Artifact { return h.art }

// Kind is shorthand for Artifact().Kind().
func (h *Handle) Kind() string { return h.art.Kind() }

// Refs reports the current reference count.
func (h *Handle) Refs() int { return int(h.refs.Load()) }

// Acquire adds a reference and returns h for chaining.
func (h *Handle) Acquire() *Handle {
	h.refs.Add(1)
	return h
}

// Release drops a reference. It reports true when this call released the
// last reference and disposed the artifact. Releasing an already disposed
// handle does nothing.
func (h *Handle) Release() bool {
	for {
		cur := h.refs.Load()
		if cur <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(cur, cur-1) {
			if cur-1 > 0 {
				return false
			}
			if d, ok := h.art.(Disposer); ok {
				d.Dispose()
			}
			return true
		}
	}
}

// History returns the run records of the executions that produced this
// artifact, oldest first.
func (h *Handle) History() []types.RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.history)
}

// AppendHistory records additional runs.
func (h *Handle) AppendHistory(recs ...types.RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, recs...)
}

// SetHistory replaces the recorded runs.
func (h *Handle) SetHistory(recs []types.RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = slices.Clone(recs)
}
