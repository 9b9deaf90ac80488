package executable

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// CreateChild creates and configures a child executable of name (version 0
// selects the highest). The child's local progress [0, 1] is mapped onto
// [start, end] of this executable's progress. Children may only be created
// while the parent body runs. Overlapping ranges of sibling children are not
// detected.
func (e *Executable) CreateChild(name string, version int, start, end float64) (*Executable, error) {
	if st := e.State(); st != types.StateRunning {
		return nil, fmt.Errorf("executable: %s: create child in state %s: %w", e.name, st, types.ErrInvalidState)
	}
	if start < 0 || end > 1 || start > end {
		return nil, fmt.Errorf("executable: %s: child range [%g, %g]: %w", e.name, start, end, types.ErrValidation)
	}
	child, err := e.reg.CreateVersion(name, version)
	if err != nil {
		return nil, err
	}
	child.parent = e
	child.rangeStart, child.rangeEnd = start, end
	child.log = child.log.With("parent_run", e.runID)
	if err := child.Configure(); err != nil {
		return nil, err
	}
	return child, nil
}

// RunChild creates a child, assigns values (strings are parsed for non-string
// properties) and executes it. The child is returned even when execution
// fails so the caller can inspect it; the caller should Release it when done
// with its outputs.
func (e *Executable) RunChild(ctx context.Context, name string, version int, start, end float64, values map[string]any) (*Executable, error) {
	child, err := e.CreateChild(name, version, start, end)
	if err != nil {
		return nil, err
	}
	if err := child.SetAll(values); err != nil {
		return child, fmt.Errorf("executable: %s: child %s: %w", e.name, name, err)
	}
	if err := child.Execute(ctx); err != nil {
		return child, fmt.Errorf("executable: %s: child %s: %w", e.name, name, err)
	}
	return child, nil
}
