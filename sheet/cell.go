// Package sheet holds the format-independent model shared by every decoder:
// cells, rows, sheet descriptors and the RowSource contract.
package sheet

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// CellType classifies the raw value stored in a Cell.
type CellType int

// Cell types
const (
	CellEmpty   CellType = iota
	CellText             // Value is a string, or an index into the shared-string table
	CellNumber           // Value is a float64
	CellBoolean          // Value is a bool
	CellError            // Value is the error text, e.g. "#DIV/0!"
	CellBlank            // formatted but empty; XF is set
)

// Cell is one decoded cell. It carries raw ids only; rendering goes through a
// Renderer so that cells never reach back into the tables they reference.
type Cell struct {
	// Row is the 0-based row index as stored in the file.
	Row int

	// Column is the 0-based column index.
	Column int

	Type CellType

	// Value is the raw stored value: float64, string, bool or nil.
	Value any

	// XF is the style index, -1 when the format has none.
	XF int

	// SST is the shared-string id, -1 when the value is inline.
	SST int

	// Formula is the formula source text when the format keeps it.
	Formula string

	// Formatted is a display string computed by the decoder itself, if any.
	Formatted string
}

// NewCell returns an empty cell at the given position.
func NewCell(row, column int) Cell {
	return Cell{Row: row, Column: column, XF: -1, SST: -1}
}

// ColumnLetter returns the column part of the cell's coordinate.
func (c Cell) ColumnLetter() string {
	return ColumnLetter(c.Column)
}

// Coordinate returns the A1-style address of the cell.
func (c Cell) Coordinate() string {
	return ColumnLetter(c.Column) + strconv.Itoa(c.Row+1)
}

// Stringify renders a raw value the way a General format shows it.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return decimal.NewFromFloat(x).String()
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}
