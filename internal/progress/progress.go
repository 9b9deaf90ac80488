// Package progress maps the local completion fraction of a (possibly nested)
// execution onto the range of the overall run it occupies.
package progress

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// Update is one observed progress value.
type Update struct {
	Fraction float64 // overall fraction in [0, 1]
	Message  string
}

// Reporter turns local fractions in [0, 1] into overall fractions in
// [Start, End]. Reported values never decrease. Reporters created with Sub
// forward into their parent, so a nested run reports through every level.
type Reporter struct {
	start, end float64

	mu        sync.Mutex
	last      float64
	steps     int
	done      int
	observers []func(Update)
	parent    *Reporter
}

// New returns a root reporter over [start, end].
func New(start, end float64) (*Reporter, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return &Reporter{start: start, end: end, last: start}, nil
}

// Root is New(0, 1).
func Root() *Reporter {
	return &Reporter{start: 0, end: 1}
}

func checkRange(start, end float64) error {
	if start < 0 || end > 1 || start > end {
		return fmt.Errorf("progress: range [%g, %g] is not within [0, 1]: %w", start, end, types.ErrValidation)
	}
	return nil
}

// Sub returns a reporter for the local sub-range [start, end] of r. A local
// fraction f of the child lands at r.Start + (start + f*(end-start)) *
// (r.End - r.Start) overall.
func (r *Reporter) Sub(start, end float64) (*Reporter, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	span := r.end - r.start
	s := r.start + start*span
	e := r.start + end*span
	return &Reporter{start: s, end: e, last: s, parent: r}, nil
}

// Start returns the lower bound of the overall range.
func (r *Reporter) Start() float64 { return r.start }

// End returns the upper bound of the overall range.
func (r *Reporter) End() float64 { return r.end }

// Map converts a local fraction to an overall fraction. Values outside [0, 1]
// are clamped.
func (r *Reporter) Map(local float64) float64 {
	switch {
	case local < 0:
		local = 0
	case local > 1:
		local = 1
	}
	return r.start + local*(r.end-r.start)
}

// SetSteps switches the reporter to step counting: every Step advances the
// local fraction by 1/n.
func (r *Reporter) SetSteps(n int) {
	r.mu.Lock()
	r.steps = n
	r.done = 0
	r.mu.Unlock()
}

// Step reports one completed step out of the count given to SetSteps.
func (r *Reporter) Step(msg string) {
	r.mu.Lock()
	if r.steps <= 0 {
		r.mu.Unlock()
		return
	}
	if r.done < r.steps {
		r.done++
	}
	f := float64(r.done) / float64(r.steps)
	r.mu.Unlock()
	r.Report(f, msg)
}

// Report publishes a local fraction. It is ignored when it would move the
// overall value backwards.
func (r *Reporter) Report(local float64, msg string) {
	r.publish(r.Map(local), msg)
}

func (r *Reporter) publish(overall float64, msg string) {
	r.mu.Lock()
	if overall < r.last {
		r.mu.Unlock()
		return
	}
	r.last = overall
	observers := slices.Clone(r.observers)
	parent := r.parent
	r.mu.Unlock()

	u := Update{Fraction: overall, Message: msg}
	for _, fn := range observers {
		fn(u)
	}
	if parent != nil {
		parent.publish(overall, msg)
	}
}

// Last returns the most recent overall fraction.
func (r *Reporter) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Observe registers fn for every accepted update.
func (r *Reporter) Observe(fn func(Update)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}
