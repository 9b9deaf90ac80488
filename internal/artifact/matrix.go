package artifact

import (
	"fmt"
	"maps"
	"sync/atomic"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// KindMatrix is the kind name of Matrix.
const KindMatrix = "Matrix"

// Matrix metadata keys.
const (
	MetaTitle = "title"
	MetaUnit  = "unit"
)

// Matrix is a block of histograms sharing one bin count. Each histogram has
// values (Y) and errors (E).
type Matrix struct {
	y, e     [][]float64
	bins     int
	meta     map[string]string
	disposed atomic.Bool
}

// NewMatrix allocates a zeroed matrix.
func NewMatrix(histograms, bins int) *Matrix {
	m := &Matrix{
		y:    make([][]float64, histograms),
		e:    make([][]float64, histograms),
		bins: bins,
		meta: make(map[string]string),
	}
	for i := range m.y {
		m.y[i] = make([]float64, bins)
		m.e[i] = make([]float64, bins)
	}
	return m
}

func newMatrixFromStructure(s Structure) (Artifact, error) {
	if s.Rows < 0 || s.Cols < 0 {
		return nil, fmt.Errorf("matrix shape %dx%d: %w", s.Rows, s.Cols, types.ErrValidation)
	}
	m := NewMatrix(s.Rows, s.Cols)
	maps.Copy(m.meta, s.Meta)
	return m, nil
}

func (m *Matrix) Kind() string { return KindMatrix }

func (m *Matrix) Structure() Structure {
	return Structure{Rows: len(m.y), Cols: m.bins, Meta: maps.Clone(m.meta)}
}

// Histograms returns the number of histograms.
func (m *Matrix) Histograms() int { return len(m.y) }

// Bins returns the number of bins per histogram.
func (m *Matrix) Bins() int { return m.bins }

// Y returns the values of histogram i. The slice aliases the matrix storage.
func (m *Matrix) Y(i int) []float64 { return m.y[i] }

// E returns the errors of histogram i. The slice aliases the matrix storage.
func (m *Matrix) E(i int) []float64 { return m.e[i] }

func (m *Matrix) Title() string         { return m.meta[MetaTitle] }
func (m *Matrix) SetTitle(title string) { m.meta[MetaTitle] = title }
func (m *Matrix) Unit() string          { return m.meta[MetaUnit] }
func (m *Matrix) SetUnit(unit string)   { m.meta[MetaUnit] = unit }

// Clone deep copies the matrix.
func (m *Matrix) Clone() Artifact {
	c := NewMatrix(len(m.y), m.bins)
	for i := range m.y {
		copy(c.y[i], m.y[i])
		copy(c.e[i], m.e[i])
	}
	maps.Copy(c.meta, m.meta)
	return c
}

// Dispose drops the data. It is called when the last handle is released.
func (m *Matrix) Dispose() {
	m.disposed.Store(true)
	m.y, m.e = nil, nil
}

// Disposed reports whether Dispose has run.
func (m *Matrix) Disposed() bool { return m.disposed.Load() }
