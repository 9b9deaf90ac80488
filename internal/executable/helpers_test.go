package executable

import (
	"context"
	"errors"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
)

type testBody struct {
	name     string
	version  int
	init     func(d *Declarer)
	exec     func(ctx context.Context, e *Executable) error
	validate func(e *Executable) map[string]string
}

func (b *testBody) Name() string     { return b.name }
func (b *testBody) Version() int     { return b.version }
func (b *testBody) Category() string { return "Test" }
func (b *testBody) Summary() string  { return b.name + " for tests" }

func (b *testBody) Init(d *Declarer) {
	if b.init != nil {
		b.init(d)
	}
}

func (b *testBody) Exec(ctx context.Context, e *Executable) error {
	if b.exec == nil {
		return nil
	}
	return b.exec(ctx, e)
}

type validatingBody struct{ *testBody }

func (b validatingBody) ValidateInputs(e *Executable) map[string]string { return b.validate(e) }

func factoryOf(b *testBody) Factory {
	return func() Body {
		copied := *b
		if b.validate != nil {
			return validatingBody{&copied}
		}
		return &copied
	}
}

// makeMatrix creates a 1 x Bins matrix filled with Value.
func makeMatrix() *testBody {
	return &testBody{
		name:    "MakeMatrix",
		version: 1,
		init: func(d *Declarer) {
			d.DeclareArtifact("OutputWorkspace", types.DirOutput, artifact.KindMatrix)
			d.Declare("Bins", 3, types.DirInput, property.WithValidator(property.AtLeast(1)))
			d.Declare("Value", 1.0, types.DirInput)
		},
		exec: func(_ context.Context, e *Executable) error {
			bins, _ := e.Props().GetInt("Bins")
			value, _ := e.Props().GetFloat("Value")
			h, err := e.ArtifactFactory().Create(artifact.KindMatrix, artifact.Structure{Rows: 1, Cols: bins})
			if err != nil {
				return err
			}
			y := h.Artifact().(*artifact.Matrix).Y(0)
			for i := range y {
				y[i] = value
			}
			return e.SetOutputArtifact("OutputWorkspace", h)
		},
	}
}

// double multiplies a matrix in place.
func double() *testBody {
	return &testBody{
		name:    "Double",
		version: 1,
		init: func(d *Declarer) {
			d.DeclareArtifact("Workspace", types.DirInOut, artifact.KindMatrix)
		},
		exec: func(_ context.Context, e *Executable) error {
			h, err := e.InputArtifact("Workspace")
			if err != nil {
				return err
			}
			m := h.Artifact().(*artifact.Matrix)
			for i := 0; i < m.Histograms(); i++ {
				for j := range m.Y(i) {
					m.Y(i)[j] *= 2
				}
			}
			return nil
		},
	}
}

var errBoom = errors.New("boom")

func newTestRegistry(bodies ...*testBody) *Registry {
	r := NewRegistry()
	for _, b := range bodies {
		if err := r.Register(b.name, b.version, factoryOf(b)); err != nil {
			panic(err)
		}
	}
	return r
}

func matrixY(r *Registry, name string) []float64 {
	h, err := r.Artifacts().Retrieve(name)
	if err != nil {
		return nil
	}
	defer h.Release()
	return append([]float64(nil), h.Artifact().(*artifact.Matrix).Y(0)...)
}
