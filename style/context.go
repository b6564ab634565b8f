// Package style resolves the raw references a decoded cell carries (shared
// string ids, extended-format indexes) into values and display strings.
package style

import (
	"sync"

	"github.com/yamitzky/sheetread/sheet"
)

// GeneralCode is the code reported for cells without a resolvable format.
const GeneralCode = "General"

// Context holds the style tables of one document. It is filled while the
// document's global records are read and must not be modified once a
// RowSource has been handed out; after that it is safe for concurrent use.
type Context struct {
	// Date1904 selects the 1904 date system.
	Date1904 bool

	xfs     []int // XF index -> format id
	formats map[int]string
	strings []string

	codes sync.Map // format code -> *Code
}

var _ sheet.Renderer = (*Context)(nil)

// NewContext returns an empty context using the 1900 date system.
func NewContext() *Context {
	return &Context{formats: make(map[int]string)}
}

// AddFormat registers a custom format code, shadowing any built-in code
// with the same id.
func (c *Context) AddFormat(id int, code string) {
	c.formats[id] = code
}

// AddXF appends an extended format that uses formatID and returns its index.
func (c *Context) AddXF(formatID int) int {
	c.xfs = append(c.xfs, formatID)
	return len(c.xfs) - 1
}

// AddSharedString appends to the shared-string table.
func (c *Context) AddSharedString(s string) {
	c.strings = append(c.strings, s)
}

// SharedString returns entry i of the shared-string table.
func (c *Context) SharedString(i int) (string, bool) {
	if i < 0 || i >= len(c.strings) {
		return "", false
	}
	return c.strings[i], true
}

// SharedStringCount returns the number of shared strings.
func (c *Context) SharedStringCount() int { return len(c.strings) }

// XFCount returns the number of extended formats.
func (c *Context) XFCount() int { return len(c.xfs) }

// FormatID returns the format id an extended format points at.
func (c *Context) FormatID(xf int) (int, bool) {
	if xf < 0 || xf >= len(c.xfs) {
		return 0, false
	}
	return c.xfs[xf], true
}

// FormatCode returns the number-format code for an extended format index.
// Custom codes win over built-ins; anything unresolvable is General.
func (c *Context) FormatCode(xf int) string {
	id, ok := c.FormatID(xf)
	if !ok {
		return GeneralCode
	}
	if code, ok := c.formats[id]; ok {
		return code
	}
	if code, ok := BuiltinFormat(id); ok {
		return code
	}
	return GeneralCode
}

// Code returns the parsed format code for an extended format index.
func (c *Context) Code(xf int) *Code {
	src := c.FormatCode(xf)
	if code, ok := c.codes.Load(src); ok {
		return code.(*Code)
	}
	code, _ := c.codes.LoadOrStore(src, Parse(src))
	return code.(*Code)
}

// Value resolves a cell's shared-string reference, falling back to the
// value stored in the cell.
func (c *Context) Value(cell sheet.Cell) any {
	if cell.SST >= 0 {
		if s, ok := c.SharedString(cell.SST); ok && s != "" {
			return s
		}
	}
	return cell.Value
}

// Formatted renders the cell through its number format.
func (c *Context) Formatted(cell sheet.Cell) string {
	if cell.Formatted != "" {
		return cell.Formatted
	}
	return c.Code(cell.XF).Render(c.Value(cell), c.Date1904)
}

// Formula returns the formula text kept on the cell.
func (c *Context) Formula(cell sheet.Cell) string {
	return cell.Formula
}
