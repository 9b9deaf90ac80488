package algorithms

import (
	"context"
	"math"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
)

// scaledCopy clones its input with a CloneWorkspace child, then scales the
// copy with a Scale child. Neither intermediate result is published.
type scaledCopy struct{ info }

func newScaledCopy() executable.Body {
	return &scaledCopy{info{"ScaledCopy", 1, categoryArithmetic,
		"Copies a matrix and scales the copy, leaving the input untouched."}}
}

func (*scaledCopy) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropInputWorkspace, types.DirInput, artifact.KindMatrix)
	d.DeclareArtifact(PropOutputWorkspace, types.DirOutput, artifact.KindMatrix)
	d.Declare("Factor", 1.0, types.DirInput)
	d.Declare("ScaleVersion", 0, types.DirInput,
		property.WithValidator(property.Integer(), property.Between(0, math.MaxInt32)),
		property.WithDoc("Scale version to run; 0 selects the latest"))
}

func (*scaledCopy) Exec(ctx context.Context, e *executable.Executable) error {
	input, _ := e.Props().GetString(PropInputWorkspace)
	factor, err := e.Props().GetFloat("Factor")
	if err != nil {
		return err
	}
	version, err := e.Props().GetInt("ScaleVersion")
	if err != nil {
		return err
	}

	clone, err := e.RunChild(ctx, "CloneWorkspace", 0, 0, 0.3, map[string]any{
		PropInputWorkspace:  input,
		PropOutputWorkspace: artifact.HiddenPrefix + "scaledcopy_clone",
	})
	if clone != nil {
		defer clone.Release()
	}
	if err != nil {
		return err
	}
	copied, err := clone.OutputArtifact(PropOutputWorkspace)
	if err != nil {
		return err
	}
	defer copied.Release()

	scale, err := e.CreateChild("Scale", version, 0.3, 1)
	if err != nil {
		return err
	}
	defer scale.Release()
	if err := scale.SetInputArtifact(PropInputWorkspace, copied); err != nil {
		return err
	}
	if err := scale.SetAll(map[string]any{
		PropOutputWorkspace: artifact.HiddenPrefix + "scaledcopy_scaled",
		"Factor":            factor,
	}); err != nil {
		return err
	}
	if err := scale.Execute(ctx); err != nil {
		return err
	}

	result, err := scale.OutputArtifact(PropOutputWorkspace)
	if err != nil {
		return err
	}
	return e.SetOutputArtifact(PropOutputWorkspace, result)
}
