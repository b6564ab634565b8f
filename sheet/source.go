package sheet

import "iter"

// Info describes one sheet of a loaded document.
type Info struct {
	Name             string
	LastColumnLetter string // "" when the sheet has no columns
	LastColumnIndex  int    // -1 when the sheet has no columns
	TotalRows        int
	TotalColumns     int

	// Offset is the absolute position of the sheet's BOF record in the
	// workbook stream. Only the binary decoder sets it.
	Offset int
}

// NewInfo derives the column fields from the totals.
func NewInfo(name string, totalRows, totalColumns int) Info {
	info := Info{
		Name:            name,
		TotalRows:       totalRows,
		TotalColumns:    totalColumns,
		LastColumnIndex: totalColumns - 1,
	}
	if totalColumns > 0 {
		info.LastColumnLetter = ColumnLetter(info.LastColumnIndex)
	}
	return info
}

// RowSource is a finite, pull-based sequence of rows over a range of a sheet.
//
// Rows are yielded for 0-based positions [startRow-1, endRow), so the 1-based
// Row.Index runs from startRow to endRow. Seek restarts the sequence at a new
// start row. A RowSource is not safe for concurrent use.
type RowSource interface {
	Seek(startRow int) error
	Next() bool
	Row() Row
	Err() error
	Len() int
	Close() error
}

// Rows adapts a RowSource to a range-over-func iterator. Iteration stops at
// the first error, which is yielded with a zero Row.
func Rows(src RowSource) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for src.Next() {
			if !yield(src.Row(), nil) {
				return
			}
		}
		if err := src.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

// Window is the range bookkeeping every RowSource shares.
type Window struct {
	Start int // first 1-based row index
	End   int // last 1-based row index

	pos int // 0-based position of the next row
}

// NewWindow builds a window; endRow 0 selects totalRows.
func NewWindow(startRow, endRow, totalRows int) (Window, error) {
	if startRow < 1 {
		return Window{}, NewLookupError("start row %d out of range", startRow)
	}
	if endRow == 0 {
		endRow = totalRows
	}
	if endRow < 0 {
		return Window{}, NewLookupError("end row %d out of range", endRow)
	}
	return Window{Start: startRow, End: endRow}, nil
}

// Len returns End - Start + 1, floored at zero.
func (w *Window) Len() int {
	if n := w.End - w.Start + 1; n > 0 {
		return n
	}
	return 0
}

// Pos returns the 0-based position of the next row.
func (w *Window) Pos() int { return w.pos }

// Reset moves the cursor back to position 0 with a new start row.
func (w *Window) Reset(startRow int) error {
	if startRow < 1 {
		return NewLookupError("start row %d out of range", startRow)
	}
	w.Start = startRow
	w.pos = 0
	return nil
}

// SkipTo sets the cursor position directly.
func (w *Window) SkipTo(pos int) { w.pos = pos }

// Advance moves to the next position.
func (w *Window) Advance() { w.pos++ }

// Before reports whether the cursor has not yet reached the start row.
func (w *Window) Before() bool { return w.pos < w.Start-1 }

// Done reports whether the cursor is past the end row.
func (w *Window) Done() bool { return w.pos >= w.End }

// Index returns the 1-based index of the row at the cursor.
func (w *Window) Index() int { return w.pos + 1 }

// Workbook is a loaded document. Sheets are addressed by their position in
// Sheets() or by name; startRow and endRow follow the RowSource range rules.
type Workbook interface {
	Sheets() []Info
	RowSourceByIndex(i, startRow, endRow int) (RowSource, error)
	RowSourceByName(name string, startRow, endRow int) (RowSource, error)
	Close() error
}

// SheetIndex returns the position of the sheet called name.
func SheetIndex(wb Workbook, name string) (int, error) {
	for i, info := range wb.Sheets() {
		if info.Name == name {
			return i, nil
		}
	}
	return -1, NewLookupError("no sheet named <%s>", name)
}
