package sheet

// Renderer turns the raw ids a Cell carries into values. The binary decoder
// uses a style context; formats that store display text directly use Literal.
type Renderer interface {
	// Value resolves the cell's raw value, following shared-string ids.
	Value(c Cell) any

	// Formatted returns the display string for the cell.
	Formatted(c Cell) string

	// Formula returns the formula source text, or "".
	Formula(c Cell) string
}

// Literal renders cells from their own fields.
type Literal struct{}

// Value returns c.Value.
func (Literal) Value(c Cell) any { return c.Value }

// Formatted returns the cached display string, falling back to the raw value.
func (Literal) Formatted(c Cell) string {
	if c.Formatted != "" {
		return c.Formatted
	}
	return Stringify(c.Value)
}

// Formula returns c.Formula.
func (Literal) Formula(c Cell) string { return c.Formula }

// Row is a 1-based row index plus its cells, bound to the renderer of the
// document it came from. Cells are ordered by column; gaps are not filled.
type Row struct {
	Index int
	Cells []Cell

	renderer Renderer
}

// NewRow binds cells to a renderer.
func NewRow(index int, cells []Cell, r Renderer) Row {
	if r == nil {
		r = Literal{}
	}
	return Row{Index: index, Cells: cells, renderer: r}
}

// Renderer returns the renderer the row is bound to.
func (r Row) Renderer() Renderer {
	if r.renderer == nil {
		return Literal{}
	}
	return r.renderer
}

// Cell returns the cell at the given column and whether it exists.
func (r Row) Cell(column int) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Column == column {
			return c, true
		}
	}
	return Cell{}, false
}

// Value returns the resolved value of the cell at column, or nil.
func (r Row) Value(column int) any {
	c, ok := r.Cell(column)
	if !ok {
		return nil
	}
	return r.Renderer().Value(c)
}

// Formatted returns the display string of the cell at column, or "".
func (r Row) Formatted(column int) string {
	c, ok := r.Cell(column)
	if !ok {
		return ""
	}
	return r.Renderer().Formatted(c)
}

// Formula returns the formula text of the cell at column, or "".
func (r Row) Formula(column int) string {
	c, ok := r.Cell(column)
	if !ok {
		return ""
	}
	return r.Renderer().Formula(c)
}

// Width returns one more than the highest column index present.
func (r Row) Width() int {
	w := 0
	for _, c := range r.Cells {
		if c.Column+1 > w {
			w = c.Column + 1
		}
	}
	return w
}

// Strings renders the row into a dense slice of display strings.
func (r Row) Strings() []string {
	out := make([]string, r.Width())
	rd := r.Renderer()
	for _, c := range r.Cells {
		out[c.Column] = rd.Formatted(c)
	}
	return out
}
