package artifact

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// Constructor builds an empty artifact with the given structure.
type Constructor func(s Structure) (Artifact, error)

// Factory creates artifacts by kind name.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory returns a factory with the Matrix and Table kinds registered.
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[string]Constructor)}
	f.ctors[KindMatrix] = newMatrixFromStructure
	f.ctors[KindTable] = newTableFromStructure
	return f
}

// Register adds a constructor for kind.
func (f *Factory) Register(kind string, ctor Constructor) error {
	if kind == "" || ctor == nil {
		return fmt.Errorf("artifact: kind name and constructor are required: %w", types.ErrValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.ctors[kind]; exists {
		return fmt.Errorf("artifact: kind %q: %w", kind, types.ErrDuplicate)
	}
	f.ctors[kind] = ctor
	return nil
}

// Create builds a new artifact of kind and returns a handle holding one
// reference for the caller.
func (f *Factory) Create(kind string, s Structure) (*Handle, error) {
	f.mu.RLock()
	ctor, exists := f.ctors[kind]
	f.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("artifact: kind %q: %w", kind, types.ErrNotFound)
	}

	a, err := ctor(s.Clone())
	if err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", kind, err)
	}
	return NewHandle(a), nil
}

// CloneStructure creates an artifact of the same kind and shape as src with
// empty data. Run history is not carried over.
func (f *Factory) CloneStructure(src *Handle) (*Handle, error) {
	if src == nil {
		return nil, fmt.Errorf("artifact: clone of nil handle: %w", types.ErrValidation)
	}
	return f.Create(src.Kind(), src.Artifact().Structure())
}

// Kinds returns the registered kind names, sorted.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for kind := range f.ctors {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}
