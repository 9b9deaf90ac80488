package executable

import (
	"context"
	"errors"
	"testing"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/progress"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteBeforeConfigure(t *testing.T) {
	r := newTestRegistry(&testBody{name: "Toy", version: 1})
	e, err := r.Create("Toy")
	require.NoError(t, err)

	err = e.Execute(context.Background())
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Equal(t, types.StateUninitialized, e.State())
}

func TestConfigureTwice(t *testing.T) {
	r := newTestRegistry(&testBody{name: "Toy", version: 1})
	e, err := r.Create("Toy")
	require.NoError(t, err)
	require.NoError(t, e.Configure())
	assert.Equal(t, types.StateInitialized, e.State())
	assert.ErrorIs(t, e.Configure(), types.ErrInvalidState)
}

func TestConfigureReportsDeclarationErrors(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Clash", version: 1,
		init: func(d *Declarer) {
			d.Declare("Value", 1, types.DirInput)
			d.Declare("value", 2, types.DirInput)
		},
	})
	e, err := r.Create("Clash")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Configure(), types.ErrDuplicate)
	assert.Equal(t, types.StateUninitialized, e.State())
}

func TestBodyFailure(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Fails", version: 1,
		exec: func(context.Context, *Executable) error { return errBoom },
	})
	e, err := r.Create("Fails")
	require.NoError(t, err)
	require.NoError(t, e.Configure())

	err = e.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.ErrorIs(t, err, errBoom)

	var execErr *types.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "Fails", execErr.Algorithm)

	assert.Equal(t, types.StateFailed, e.State())
	assert.False(t, e.IsExecuted())
	assert.Equal(t, types.StateFailed, e.LastRun().State)
	assert.Contains(t, e.LastRun().Error, "boom")
}

func TestBodyPanicIsRecovered(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Panics", version: 1,
		exec: func(context.Context, *Executable) error { panic("index out of range") },
	})
	e, _ := r.Create("Panics")
	require.NoError(t, e.Configure())

	err := e.Execute(context.Background())
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.Contains(t, err.Error(), "panic: index out of range")
	assert.Equal(t, types.StateFailed, e.State())
}

func TestValidationFailureSkipsBody(t *testing.T) {
	ran := false
	r := newTestRegistry(&testBody{
		name: "Strict", version: 1,
		init: func(d *Declarer) {
			d.Declare("Name", "", types.DirInput, property.WithValidator(property.Mandatory()))
		},
		exec: func(context.Context, *Executable) error { ran = true; return nil },
	})
	e, _ := r.Create("Strict")
	require.NoError(t, e.Configure())

	err := e.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrValidation)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "Name")
	assert.False(t, ran)
	assert.Equal(t, types.StateFailed, e.State())

	require.NoError(t, e.Set("Name", "given"))
	require.NoError(t, e.Execute(context.Background()))
	assert.True(t, ran)
	assert.True(t, e.IsExecuted())
}

func TestCrossValidation(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Range", version: 1,
		init: func(d *Declarer) {
			d.Declare("Min", 0.0, types.DirInput)
			d.Declare("Max", 1.0, types.DirInput)
		},
		validate: func(e *Executable) map[string]string {
			lo, _ := e.Props().GetFloat("Min")
			hi, _ := e.Props().GetFloat("Max")
			if lo > hi {
				return map[string]string{"Max": "must not be below Min"}
			}
			return nil
		},
	})
	e, _ := r.Create("Range")
	require.NoError(t, e.Configure())
	require.NoError(t, e.Set("Min", "5"))

	err := e.Execute(context.Background())
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must not be below Min", verr.Reason("Max"))
}

func TestRerunAfterSuccessAndFailure(t *testing.T) {
	calls := 0
	r := newTestRegistry(&testBody{
		name: "Flaky", version: 1,
		exec: func(context.Context, *Executable) error {
			calls++
			if calls == 2 {
				return errBoom
			}
			return nil
		},
	})
	e, _ := r.Create("Flaky")
	require.NoError(t, e.Configure())

	require.NoError(t, e.Execute(context.Background()))
	first := e.RunID()
	assert.Error(t, e.Execute(context.Background()))
	assert.Equal(t, types.StateFailed, e.State())
	require.NoError(t, e.Execute(context.Background()))
	assert.True(t, e.IsExecuted())
	assert.NotEqual(t, first, e.RunID())
	assert.Equal(t, 3, calls)
}

func TestStructureFrozenAfterExecute(t *testing.T) {
	r := newTestRegistry(&testBody{name: "Toy", version: 1})
	e, _ := r.Create("Toy")
	require.NoError(t, e.Configure())
	require.NoError(t, e.Execute(context.Background()))
	assert.ErrorIs(t, e.Props().Declare("Late", 1, types.DirInput), types.ErrInvalidState)
}

func TestOutputsArePublishedWithHistory(t *testing.T) {
	r := newTestRegistry(makeMatrix(), double())

	mk, _ := r.Create("MakeMatrix")
	require.NoError(t, mk.Configure())
	require.NoError(t, mk.Set("OutputWorkspace", "ws"))
	require.NoError(t, mk.Set("Value", 1.5))
	require.NoError(t, mk.Execute(context.Background()))
	assert.Equal(t, []string{"ws"}, mk.LastRun().Outputs)
	assert.Equal(t, []float64{1.5, 1.5, 1.5}, matrixY(r, "ws"))

	dbl, _ := r.Create("Double")
	require.NoError(t, dbl.Configure())
	require.NoError(t, dbl.Set("Workspace", "ws"))
	require.NoError(t, dbl.Execute(context.Background()))
	assert.Equal(t, []float64{3, 3, 3}, matrixY(r, "ws"))

	h, err := r.Artifacts().Retrieve("ws")
	require.NoError(t, err)
	defer h.Release()
	history := h.History()
	require.Len(t, history, 2)
	assert.Equal(t, "MakeMatrix", history[0].Algorithm)
	assert.Equal(t, "1.5", history[0].Properties["Value"])
	assert.Equal(t, "Double", history[1].Algorithm)
	assert.Equal(t, dbl.RunID(), history[1].RunID)
	assert.Equal(t, 2, h.Refs(), "registry plus this test")
}

func TestMissingInputArtifact(t *testing.T) {
	r := newTestRegistry(double())
	e, _ := r.Create("Double")
	require.NoError(t, e.Configure())
	require.NoError(t, e.Set("Workspace", "absent"))

	err := e.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrExecutionFailed, "in-out artifact absent means the body sees no input")
}

func TestInputArtifactErrors(t *testing.T) {
	reader := &testBody{
		name: "Reader", version: 1,
		init: func(d *Declarer) {
			d.DeclareArtifact("InputWorkspace", types.DirInput, artifact.KindMatrix)
		},
	}
	r := newTestRegistry(reader)

	e, _ := r.Create("Reader")
	require.NoError(t, e.Configure())
	require.NoError(t, e.Set("InputWorkspace", "absent"))
	assert.ErrorIs(t, e.Execute(context.Background()), types.ErrNotFound)

	require.NoError(t, r.Artifacts().Add("table", artifact.NewHandle(artifact.NewTable("a"))))
	require.NoError(t, e.Set("InputWorkspace", "table"))
	assert.ErrorIs(t, e.Execute(context.Background()), types.ErrTypeMismatch)

	require.NoError(t, e.Set("InputWorkspace", ""))
	assert.ErrorIs(t, e.Execute(context.Background()), types.ErrValidation)
}

func TestOutputNotProduced(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Lazy", version: 1,
		init: func(d *Declarer) {
			d.DeclareArtifact("OutputWorkspace", types.DirOutput, "")
		},
	})
	e, _ := r.Create("Lazy")
	require.NoError(t, e.Configure())
	require.NoError(t, e.Set("OutputWorkspace", "out"))
	err := e.Execute(context.Background())
	assert.ErrorIs(t, err, types.ErrExecutionFailed)
	assert.False(t, r.Artifacts().Has("out"))
}

func TestSetOutputArtifactChecks(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Checks", version: 1,
		init: func(d *Declarer) {
			d.DeclareArtifact("InputWorkspace", types.DirInput, "", property.Optional())
			d.DeclareArtifact("OutputWorkspace", types.DirOutput, artifact.KindMatrix)
			d.Declare("Plain", "", types.DirOutput)
		},
	})
	e, _ := r.Create("Checks")
	require.NoError(t, e.Configure())

	table := artifact.NewHandle(artifact.NewTable())
	assert.ErrorIs(t, e.SetOutputArtifact("OutputWorkspace", table), types.ErrTypeMismatch)
	assert.ErrorIs(t, e.SetOutputArtifact("InputWorkspace", table), types.ErrValidation)
	assert.ErrorIs(t, e.SetOutputArtifact("Plain", table), types.ErrTypeMismatch)
	assert.ErrorIs(t, e.SetOutputArtifact("Missing", table), types.ErrNotFound)
}

func TestObservedProgress(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "Steps", version: 1,
		exec: func(_ context.Context, e *Executable) error {
			e.SetSteps(2)
			e.Step("one")
			e.Step("two")
			return nil
		},
	})
	e, _ := r.Create("Steps")
	require.NoError(t, e.Configure())
	var got []float64
	e.OnProgress(func(u progress.Update) { got = append(got, u.Fraction) })
	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []float64{0.5, 1, 1}, got)
}

func TestArtifactDeclarationNeedsDirection(t *testing.T) {
	r := newTestRegistry(&testBody{
		name: "NoDir", version: 1,
		init: func(d *Declarer) { d.DeclareArtifact("Workspace", types.DirUnset, "") },
	})
	e, _ := r.Create("NoDir")
	assert.ErrorIs(t, e.Configure(), types.ErrValidation)
}
