package artifact

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ChuLiYu/algorun/pkg/types"
)

// KindTable is the kind name of Table.
const KindTable = "Table"

// Table is a list of rows of string cells under named columns.
type Table struct {
	columns []string
	rows    [][]string
	meta    map[string]string
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{columns: slices.Clone(columns), meta: make(map[string]string)}
}

func newTableFromStructure(s Structure) (Artifact, error) {
	if s.Rows < 0 {
		return nil, fmt.Errorf("table rows %d: %w", s.Rows, types.ErrValidation)
	}
	if len(s.Labels) != s.Cols {
		return nil, fmt.Errorf("table has %d columns but %d labels: %w", s.Cols, len(s.Labels), types.ErrValidation)
	}
	t := NewTable(s.Labels...)
	maps.Copy(t.meta, s.Meta)
	for range s.Rows {
		t.rows = append(t.rows, make([]string, len(t.columns)))
	}
	return t, nil
}

func (t *Table) Kind() string { return KindTable }

func (t *Table) Structure() Structure {
	return Structure{
		Rows:   len(t.rows),
		Cols:   len(t.columns),
		Labels: slices.Clone(t.columns),
		Meta:   maps.Clone(t.meta),
	}
}

// Clone deep copies the table.
func (t *Table) Clone() Artifact {
	c := NewTable(t.columns...)
	for _, row := range t.rows {
		c.rows = append(c.rows, slices.Clone(row))
	}
	maps.Copy(c.meta, t.meta)
	return c
}

// Columns returns the column names.
func (t *Table) Columns() []string { return slices.Clone(t.columns) }

// RowCount returns the number of rows.
func (t *Table) RowCount() int { return len(t.rows) }

// AppendRow adds a row. The cell count must match the column count.
func (t *Table) AppendRow(cells ...string) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("table row has %d cells, want %d: %w", len(cells), len(t.columns), types.ErrValidation)
	}
	t.rows = append(t.rows, slices.Clone(cells))
	return nil
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []string { return slices.Clone(t.rows[i]) }

// Cell returns the cell at row i under column.
func (t *Table) Cell(i int, column string) (string, error) {
	c := slices.Index(t.columns, column)
	if c < 0 {
		return "", fmt.Errorf("table column %q: %w", column, types.ErrNotFound)
	}
	return t.rows[i][c], nil
}

// SetCell overwrites the cell at row i under column.
func (t *Table) SetCell(i int, column, value string) error {
	c := slices.Index(t.columns, column)
	if c < 0 {
		return fmt.Errorf("table column %q: %w", column, types.ErrNotFound)
	}
	t.rows[i][c] = value
	return nil
}
