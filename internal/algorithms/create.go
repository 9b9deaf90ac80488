package algorithms

import (
	"context"
	"fmt"
	"math"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
)

const categoryCreation = "Utility\\Creation"

// maxCells bounds the number of values a created matrix may hold.
const maxCells = 1 << 26

// ============================================================================
// CreateMatrix
// ============================================================================

type createMatrix struct{ info }

func newCreateMatrix() executable.Body {
	return &createMatrix{info{"CreateMatrix", 1, categoryCreation,
		"Builds a matrix artifact from explicit values or a constant fill."}}
}

func (*createMatrix) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropOutputWorkspace, types.DirOutput, artifact.KindMatrix)
	d.Declare("Histograms", 1, types.DirInput,
		property.WithValidator(property.Integer(), property.Between(1, math.MaxInt32)),
		property.WithDoc("number of histograms"))
	d.Declare("Bins", 10, types.DirInput,
		property.WithValidator(property.Integer(), property.Between(1, math.MaxInt32)),
		property.WithDoc("number of bins per histogram"))
	d.Declare("DataY", nil, types.DirInput,
		property.WithType(property.Numbers),
		property.WithDoc("values, either one histogram shared by all or Histograms*Bins values"))
	d.Declare("DataE", nil, types.DirInput,
		property.WithType(property.Numbers),
		property.WithDoc("errors, same layout as DataY; defaults to sqrt(|y|)"))
	d.Declare("Fill", 0.0, types.DirInput, property.WithDoc("value used when DataY is empty"))
	d.Declare("Title", "", types.DirInput)
	d.Declare("Unit", "", types.DirInput)
}

func (*createMatrix) ValidateInputs(e *executable.Executable) map[string]string {
	problems := make(map[string]string)
	hists, err := e.Props().GetInt("Histograms")
	if err != nil {
		problems["Histograms"] = err.Error()
	}
	bins, err := e.Props().GetInt("Bins")
	if err != nil {
		problems["Bins"] = err.Error()
	}
	if len(problems) > 0 {
		return problems
	}
	if hists*bins > maxCells {
		problems["Bins"] = fmt.Sprintf("%d histograms of %d bins exceed %d values", hists, bins, maxCells)
	}
	for _, name := range []string{"DataY", "DataE"} {
		vals, _ := e.Props().GetFloats(name)
		if n := len(vals); n != 0 && n != bins && n != hists*bins {
			problems[name] = fmt.Sprintf("has %d values; want %d or %d", n, bins, hists*bins)
		}
	}
	return problems
}

func (*createMatrix) Exec(_ context.Context, e *executable.Executable) error {
	props := e.Props()
	hists, err := props.GetInt("Histograms")
	if err != nil {
		return err
	}
	bins, err := props.GetInt("Bins")
	if err != nil {
		return err
	}
	dataY, err := props.GetFloats("DataY")
	if err != nil {
		return err
	}
	dataE, err := props.GetFloats("DataE")
	if err != nil {
		return err
	}
	fill, err := props.GetFloat("Fill")
	if err != nil {
		return err
	}
	title, _ := props.GetString("Title")
	unit, _ := props.GetString("Unit")

	h, err := e.ArtifactFactory().Create(artifact.KindMatrix, artifact.Structure{Rows: hists, Cols: bins})
	if err != nil {
		return err
	}
	m := h.Artifact().(*artifact.Matrix)
	m.SetTitle(title)
	m.SetUnit(unit)

	e.SetSteps(hists)
	for i := 0; i < hists; i++ {
		y, errs := m.Y(i), m.E(i)
		for j := 0; j < bins; j++ {
			y[j] = pick(dataY, i, j, bins, fill)
			if len(dataE) > 0 {
				errs[j] = pick(dataE, i, j, bins, 0)
			} else {
				errs[j] = math.Sqrt(math.Abs(y[j]))
			}
		}
		e.Step(fmt.Sprintf("histogram %d", i))
	}
	return e.SetOutputArtifact(PropOutputWorkspace, h)
}

// pick reads element (i, j) from values laid out either as one shared
// histogram or as consecutive histograms.
func pick(values []float64, i, j, bins int, fallback float64) float64 {
	switch len(values) {
	case 0:
		return fallback
	case bins:
		return values[j]
	default:
		return values[i*bins+j]
	}
}

// ============================================================================
// CreateTable
// ============================================================================

type createTable struct{ info }

func newCreateTable() executable.Body {
	return &createTable{info{"CreateTable", 1, categoryCreation,
		"Builds an empty table with named columns."}}
}

func (*createTable) Init(d *executable.Declarer) {
	d.DeclareArtifact(PropOutputWorkspace, types.DirOutput, artifact.KindTable)
	d.Declare("Columns", []string{}, types.DirInput, property.WithValidator(property.Mandatory()))
	d.Declare("Rows", 0, types.DirInput, property.WithValidator(property.Integer(), property.Between(0, maxCells)))
}

func (*createTable) Exec(_ context.Context, e *executable.Executable) error {
	cols, _ := e.Props().GetStrings("Columns")
	rows, err := e.Props().GetInt("Rows")
	if err != nil {
		return err
	}
	h, err := e.ArtifactFactory().Create(artifact.KindTable, artifact.Structure{
		Rows:   rows,
		Cols:   len(cols),
		Labels: cols,
	})
	if err != nil {
		return err
	}
	return e.SetOutputArtifact(PropOutputWorkspace, h)
}
