// Package types defines the core domain model shared across algorun packages.
package types

import (
	"time"
)

// ExecState is the lifecycle state of an executable instance
type ExecState string

// Executable lifecycle states
const (
	StateUninitialized ExecState = "uninitialized" // created, properties not declared yet
	StateInitialized   ExecState = "initialized"   // properties declared, ready to execute
	StateRunning       ExecState = "running"       // body executing on the caller's goroutine
	StateSucceeded     ExecState = "succeeded"     // body returned normally
	StateFailed        ExecState = "failed"        // validation, artifact lookup or body failure
)

// Terminal reports whether the state is the end of an execution attempt.
func (s ExecState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Direction tells whether a property is read by, written by, or both read and
// written by an executable.
type Direction int

const (
	DirUnset Direction = iota
	DirInput
	DirOutput
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirOutput:
		return "output"
	case DirInOut:
		return "inout"
	default:
		return "unset"
	}
}

// IsInput reports whether the value is consumed by the executable.
func (d Direction) IsInput() bool { return d == DirInput || d == DirInOut }

// IsOutput reports whether the value is produced by the executable.
func (d Direction) IsOutput() bool { return d == DirOutput || d == DirInOut }

// RunRecord captures one execution of an algorithm.
// Records are attached to the artifacts an execution produced and persisted by
// the history store.
type RunRecord struct {
	RunID      string            `json:"run_id"`                // unique per execution attempt
	Algorithm  string            `json:"algorithm"`             // registered name
	Version    int               `json:"version"`               // registered version
	Properties map[string]string `json:"properties"`            // property values rendered as text
	State      ExecState         `json:"state"`                 // final state of the attempt
	Error      string            `json:"error,omitempty"`       // failure message, if any
	Child      bool              `json:"child,omitempty"`       // executed as a child of another algorithm
	StartedAt  int64             `json:"started_at"`            // Unix milliseconds
	Duration   time.Duration     `json:"duration"`              // wall time of the attempt
	ParentRun  string            `json:"parent_run,omitempty"`  // run ID of the parent, if any
	Outputs    []string          `json:"outputs,omitempty"`     // artifact names written
}

// HistoryData is the persisted form of artifact histories.
type HistoryData struct {
	Artifacts map[string][]RunRecord `json:"artifacts"`  // artifact name -> producing runs, oldest first
	SchemaVer int                    `json:"schema_ver"` // on-disk schema version
	SavedAt   int64                  `json:"saved_at"`   // Unix milliseconds
}
