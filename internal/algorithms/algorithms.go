// Package algorithms contains the built-in algorithm bodies: workspace
// management (create, clone, rename, delete) and a few numerical routines
// used to exercise scheduling and child delegation.
package algorithms

import (
	"errors"

	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/scheduler"
)

// Common property names.
const (
	PropInputWorkspace  = "InputWorkspace"
	PropOutputWorkspace = "OutputWorkspace"
	PropWorkspace       = "Workspace"
)

type options struct {
	newScheduler func() *scheduler.Scheduler
}

// Option configures Register.
type Option func(*options)

// WithScheduler sets the constructor of the schedulers parallel bodies use.
func WithScheduler(fn func() *scheduler.Scheduler) Option {
	return func(o *options) {
		if fn != nil {
			o.newScheduler = fn
		}
	}
}

// Register adds every built-in algorithm to reg.
func Register(reg *executable.Registry, opts ...Option) error {
	o := options{newScheduler: func() *scheduler.Scheduler { return scheduler.New(0) }}
	for _, opt := range opts {
		opt(&o)
	}

	factories := []executable.Factory{
		newCreateMatrix,
		newCreateTable,
		newCloneWorkspace,
		newDeleteWorkspace,
		newRenameWorkspace,
		newScaleV1,
		func() executable.Body { return newScaleV2(o.newScheduler) },
		newScaledCopy,
	}
	var errs []error
	for _, f := range factories {
		errs = append(errs, reg.RegisterBody(f))
	}
	return errors.Join(errs...)
}

// info implements the descriptive half of executable.Body.
type info struct {
	name     string
	version  int
	category string
	summary  string
}

func (i info) Name() string     { return i.name }
func (i info) Version() int     { return i.version }
func (i info) Category() string { return i.category }
func (i info) Summary() string  { return i.summary }
