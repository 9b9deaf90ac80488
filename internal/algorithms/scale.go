package algorithms

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/logging"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/internal/scheduler"
	"github.com/ChuLiYu/algorun/pkg/types"
)

const categoryArithmetic = "Arithmetic"

const (
	opMultiply = "Multiply"
	opAdd      = "Add"
)

func declareScale(d *executable.Declarer) {
	d.DeclareArtifact(PropInputWorkspace, types.DirInput, artifact.KindMatrix)
	d.DeclareArtifact(PropOutputWorkspace, types.DirOutput, artifact.KindMatrix)
	d.Declare("Factor", 1.0, types.DirInput, property.WithDoc("multiplier or offset"))
	d.Declare("Operation", opMultiply, types.DirInput,
		property.WithValidator(property.OneOf(opMultiply, opAdd)))
}

type scaleParams struct {
	in, out *artifact.Matrix
	factor  float64
	op      string
}

// prepare clones the input structure and reads the properties. The returned
// handle holds one reference owned by the caller.
func prepare(e *executable.Executable) (*artifact.Handle, scaleParams, error) {
	in, err := e.InputArtifact(PropInputWorkspace)
	if err != nil {
		return nil, scaleParams{}, err
	}
	out, err := e.ArtifactFactory().CloneStructure(in)
	if err != nil {
		return nil, scaleParams{}, err
	}
	p := scaleParams{
		in:  in.Artifact().(*artifact.Matrix),
		out: out.Artifact().(*artifact.Matrix),
	}
	p.factor, _ = e.Props().GetFloat("Factor")
	p.op, _ = e.Props().GetString("Operation")
	return out, p, nil
}

// histogram scales one histogram of p.in into p.out.
func (p scaleParams) histogram(i int) {
	y, errs := p.in.Y(i), p.in.E(i)
	oy, oe := p.out.Y(i), p.out.E(i)
	for j := range y {
		switch p.op {
		case opAdd:
			oy[j] = y[j] + p.factor
			oe[j] = errs[j]
		default:
			oy[j] = y[j] * p.factor
			oe[j] = errs[j] * abs(p.factor)
		}
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// ============================================================================
// Scale v1: sequential
// ============================================================================

type scaleV1 struct{ info }

func newScaleV1() executable.Body {
	return &scaleV1{info{"Scale", 1, categoryArithmetic,
		"Multiplies or offsets every value of a matrix by a constant."}}
}

func (*scaleV1) Init(d *executable.Declarer) { declareScale(d) }

func (*scaleV1) Exec(_ context.Context, e *executable.Executable) error {
	out, p, err := prepare(e)
	if err != nil {
		return err
	}
	e.SetSteps(p.in.Histograms())
	for i := 0; i < p.in.Histograms(); i++ {
		p.histogram(i)
		e.Step(fmt.Sprintf("histogram %d", i))
	}
	return e.SetOutputArtifact(PropOutputWorkspace, out)
}

// ============================================================================
// Scale v2: one scheduler task per histogram
// ============================================================================

type scaleV2 struct {
	info
	newScheduler func() *scheduler.Scheduler
}

func newScaleV2(newScheduler func() *scheduler.Scheduler) executable.Body {
	return &scaleV2{
		info: info{"Scale", 2, categoryArithmetic,
			"Multiplies or offsets every value of a matrix by a constant, histograms in parallel."},
		newScheduler: newScheduler,
	}
}

func (*scaleV2) Init(d *executable.Declarer) { declareScale(d) }

func (b *scaleV2) Exec(ctx context.Context, e *executable.Executable) error {
	out, p, err := prepare(e)
	if err != nil {
		return err
	}
	n := p.in.Histograms()
	e.SetSteps(n)

	s := b.newScheduler()
	for i := 0; i < n; i++ {
		err := s.Submit(scheduler.Task{
			Name: fmt.Sprintf("histogram-%d", i),
			Cost: float64(p.in.Bins()),
			Run: func(context.Context) error {
				p.histogram(i)
				return nil
			},
		})
		if err != nil {
			out.Release()
			return err
		}
	}

	results, err := s.RunAll(ctx)
	for range results {
		e.Step("histogram done")
	}
	if err != nil {
		out.Release()
		return err
	}
	logging.FromContext(ctx).Debug("scaled in parallel", "histograms", n, "workers", s.Workers())
	return e.SetOutputArtifact(PropOutputWorkspace, out)
}
