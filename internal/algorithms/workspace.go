package algorithms

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
)

const categoryWorkspaces = "Utility\\Workspaces"

// ============================================================================
// CloneWorkspace
// ============================================================================

type cloneWorkspace struct{ info }

func newCloneWorkspace() executable.Body {
	return &cloneWorkspace{info{"CloneWorkspace", 1, categoryWorkspaces,
		"Copies an artifact, data included, under a new name."}}
}

func (*cloneWorkspace) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropInputWorkspace, types.DirInput, "", property.WithDoc("artifact to copy"))
	d.DeclareArtifact(PropOutputWorkspace, types.DirOutput, "", property.WithDoc("name of the copy"))
}

func (*cloneWorkspace) Exec(_ context.Context, e *executable.Executable) error {
	in, err := e.InputArtifact(PropInputWorkspace)
	if err != nil {
		return err
	}
	c, ok := in.Artifact().(artifact.Cloner)
	if !ok {
		return fmt.Errorf("%s artifacts cannot be copied: %w", in.Kind(), types.ErrTypeMismatch)
	}
	e.Report(0.5, "copying")
	return e.SetOutputArtifact(PropOutputWorkspace, artifact.NewHandle(c.Clone()))
}

// ============================================================================
// DeleteWorkspace
// ============================================================================

type deleteWorkspace struct{ info }

func newDeleteWorkspace() executable.Body {
	return &deleteWorkspace{info{"DeleteWorkspace", 1, categoryWorkspaces,
		"Removes an artifact from the registry."}}
}

func (*deleteWorkspace) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropWorkspace, types.DirInput, "", property.WithDoc("artifact to remove"))
}

func (*deleteWorkspace) Exec(_ context.Context, e *executable.Executable) error {
	name, err := e.Props().GetString(PropWorkspace)
	if err != nil {
		return err
	}
	e.Artifacts().Remove(name)
	return nil
}

// ============================================================================
// RenameWorkspace
// ============================================================================

type renameWorkspace struct{ info }

func newRenameWorkspace() executable.Body {
	return &renameWorkspace{info{"RenameWorkspace", 1, categoryWorkspaces,
		"Moves an artifact to a new name, keeping its history."}}
}

func (*renameWorkspace) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropInputWorkspace, types.DirInput, "")
	d.Declare(PropOutputWorkspace, "", types.DirInput,
		property.WithValidator(property.Mandatory()),
		property.WithDoc("new name; must not be taken"))
}

func (*renameWorkspace) Exec(_ context.Context, e *executable.Executable) error {
	from, _ := e.Props().GetString(PropInputWorkspace)
	to, _ := e.Props().GetString(PropOutputWorkspace)
	in, err := e.InputArtifact(PropInputWorkspace)
	if err != nil {
		return err
	}
	if err := e.Artifacts().Rename(from, to); err != nil {
		return err
	}
	// the handle is not an output, so record the rename on it directly
	in.AppendHistory(types.RunRecord{
		RunID:      e.RunID(),
		Algorithm:  e.Name(),
		Version:    e.Version(),
		Properties: e.Props().Snapshot(),
		State:      types.StateSucceeded,
		StartedAt:  time.Now().UnixMilli(),
	})
	return nil
}
