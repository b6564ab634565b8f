// Package xlsx reads Office Open XML workbooks through excelize. Values are
// streamed row by row; number formats are resolved by the shared style
// engine so that xlsx cells render exactly like xls cells.
package xlsx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/yamitzky/sheetread/sheet"
	"github.com/yamitzky/sheetread/style"
)

// customFormatBase is where format ids handed to custom codes start. excelize
// reports custom codes by text, so each extended format gets its own id.
const customFormatBase = 1000

// Options contains options for opening a workbook.
type Options struct {
	// FileContents is the file contents as bytes. If FileContents is
	// supplied, the filename is used only in messages.
	FileContents []byte

	// Password opens encrypted packages.
	Password string

	// Logfile receives diagnostics; nil discards them.
	Logfile io.Writer

	// Verbosity 1 reports the style table size.
	Verbosity int
}

// Book is an open xlsx workbook.
type Book struct {
	file   *excelize.File
	style  *style.Context
	infos  []sheet.Info
	logger io.Writer
}

var _ sheet.Workbook = (*Book)(nil)

// Open opens an xlsx file and measures its sheets.
func Open(filename string, options *Options) (*Book, error) {
	if options == nil {
		options = &Options{}
	}
	contents := options.FileContents
	if contents == nil {
		var err error
		if contents, err = os.ReadFile(filename); err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
	}
	return OpenContents(contents, options)
}

// OpenContents decodes an xlsx package held in memory.
func OpenContents(contents []byte, options *Options) (*Book, error) {
	if options == nil {
		options = &Options{}
	}
	if len(contents) == 0 {
		return nil, sheet.NewStructuralError("file size is 0 bytes")
	}
	f, err := excelize.OpenReader(bytes.NewReader(contents), excelize.Options{Password: options.Password})
	if err != nil {
		return nil, sheet.NewStructuralError("xlsx: %v", err)
	}
	b := &Book{file: f, style: style.NewContext(), logger: options.Logfile}
	if b.logger == nil {
		b.logger = io.Discard
	}
	if err := b.loadStyles(); err != nil {
		f.Close()
		return nil, err
	}
	if options.Verbosity >= 1 {
		fmt.Fprintf(b.logger, "xlsx: %d cell formats, date1904=%v\n", b.style.XFCount(), b.style.Date1904)
	}
	for _, name := range f.GetSheetList() {
		info, err := b.measure(name)
		if err != nil {
			f.Close()
			return nil, err
		}
		b.infos = append(b.infos, info)
	}
	return b, nil
}

// loadStyles copies the cell formats and the date system into the style
// context.
func (b *Book) loadStyles() error {
	props, err := b.file.GetWorkbookProps()
	if err != nil {
		return sheet.NewStructuralError("xlsx: %v", err)
	}
	if props.Date1904 != nil {
		b.style.Date1904 = *props.Date1904
	}
	for xf := 0; ; xf++ {
		st, err := b.file.GetStyle(xf)
		if err != nil || st == nil {
			break
		}
		if st.CustomNumFmt != nil {
			id := customFormatBase + xf
			b.style.AddFormat(id, *st.CustomNumFmt)
			b.style.AddXF(id)
			continue
		}
		b.style.AddXF(st.NumFmt)
	}
	return nil
}

// measure streams a sheet once to find its last row and widest row.
func (b *Book) measure(name string) (sheet.Info, error) {
	rows, err := b.file.Rows(name)
	if err != nil {
		return sheet.Info{}, sheet.NewStructuralError("xlsx sheet %q: %v", name, err)
	}
	defer rows.Close()
	total, width := 0, 0
	for rows.Next() {
		total++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return sheet.Info{}, sheet.NewStructuralError("xlsx sheet %q: %v", name, err)
		}
		width = max(width, len(cols))
	}
	if err := rows.Error(); err != nil {
		return sheet.Info{}, sheet.NewStructuralError("xlsx sheet %q: %v", name, err)
	}
	return sheet.NewInfo(name, total, width), nil
}

// Style returns the style context rows are rendered with.
func (b *Book) Style() *style.Context { return b.style }

// Sheets returns the sheet descriptors in workbook order.
func (b *Book) Sheets() []sheet.Info {
	return append([]sheet.Info(nil), b.infos...)
}

// RowSourceByIndex returns a RowSource over rows startRow..endRow of sheet i.
func (b *Book) RowSourceByIndex(i, startRow, endRow int) (sheet.RowSource, error) {
	if i < 0 || i >= len(b.infos) {
		return nil, sheet.NewLookupError("sheet index %d out of range", i)
	}
	win, err := sheet.NewWindow(startRow, endRow, b.infos[i].TotalRows)
	if err != nil {
		return nil, err
	}
	it := &RowIterator{book: b, name: b.infos[i].Name, win: win}
	if err := it.Seek(startRow); err != nil {
		return nil, err
	}
	return it, nil
}

// RowSourceByName is RowSourceByIndex for the sheet called name.
func (b *Book) RowSourceByName(name string, startRow, endRow int) (sheet.RowSource, error) {
	i, err := sheet.SheetIndex(b, name)
	if err != nil {
		return nil, err
	}
	return b.RowSourceByIndex(i, startRow, endRow)
}

// Close releases the package and any temporary files excelize created.
func (b *Book) Close() error {
	return b.file.Close()
}

// cell decodes the cell at 0-based (row, col) whose raw text is raw.
func (b *Book) cell(name string, row, col int, raw string) sheet.Cell {
	c := sheet.NewCell(row, col)
	ref, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		c.Type, c.Value = sheet.CellText, raw
		return c
	}
	if xf, err := b.file.GetCellStyle(name, ref); err == nil {
		c.XF = xf
	}
	if formula, err := b.file.GetCellFormula(name, ref); err == nil && formula != "" {
		c.Formula = "=" + formula
	}
	kind, _ := b.file.GetCellType(name, ref)
	switch kind {
	case excelize.CellTypeBool:
		c.Type, c.Value = sheet.CellBoolean, raw == "1" || raw == "TRUE"
	case excelize.CellTypeError:
		c.Type, c.Value = sheet.CellError, raw
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Type, c.Value = sheet.CellNumber, v
			break
		}
		c.Type, c.Value = sheet.CellText, raw
	default:
		c.Type, c.Value = sheet.CellText, raw
	}
	return c
}

// RowIterator streams one worksheet. Seeking reopens the stream.
type RowIterator struct {
	book *Book
	name string
	rows *excelize.Rows
	win  sheet.Window
	eof  bool
	row  sheet.Row
	err  error
}

var _ sheet.RowSource = (*RowIterator)(nil)

// Seek restarts the sequence at startRow.
func (it *RowIterator) Seek(startRow int) error {
	if err := it.win.Reset(startRow); err != nil {
		return err
	}
	if it.rows != nil {
		it.rows.Close()
	}
	rows, err := it.book.file.Rows(it.name)
	if err != nil {
		it.err = sheet.NewStructuralError("xlsx sheet %q: %v", it.name, err)
		return it.err
	}
	it.rows, it.eof, it.err = rows, false, nil
	for it.win.Before() && !it.eof {
		if !it.rows.Next() {
			it.eof = true
			break
		}
		it.win.Advance()
	}
	it.win.SkipTo(startRow - 1)
	return nil
}

// Next decodes the next row of the range.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.win.Done() {
		return false
	}
	var raw []string
	if !it.eof && it.rows.Next() {
		var err error
		if raw, err = it.rows.Columns(excelize.Options{RawCellValue: true}); err != nil {
			it.err = sheet.NewStructuralError("xlsx sheet %q: %v", it.name, err)
			return false
		}
	} else {
		it.eof = true
		if err := it.rows.Error(); err != nil {
			it.err = sheet.NewStructuralError("xlsx sheet %q: %v", it.name, err)
			return false
		}
	}
	var cells []sheet.Cell
	for col, v := range raw {
		if v == "" {
			continue
		}
		cells = append(cells, it.book.cell(it.name, it.win.Pos(), col, v))
	}
	it.row = sheet.NewRow(it.win.Index(), cells, it.book.style)
	it.win.Advance()
	return true
}

// Row returns the row decoded by the last successful Next.
func (it *RowIterator) Row() sheet.Row { return it.row }

// Err returns the error that stopped iteration, if any.
func (it *RowIterator) Err() error { return it.err }

// Len returns the number of rows in the range.
func (it *RowIterator) Len() int { return it.win.Len() }

// Close closes the worksheet stream.
func (it *RowIterator) Close() error {
	it.eof = true
	it.row = sheet.Row{}
	if it.rows == nil {
		return nil
	}
	err := it.rows.Close()
	it.rows = nil
	return err
}

// IsReadable reports whether excelize can open the file as a workbook.
func IsReadable(filename string) bool {
	f, err := excelize.OpenFile(filename)
	if err != nil {
		return false
	}
	defer f.Close()
	return len(f.GetSheetList()) > 0
}

// Reader opens xlsx files for the format facade.
type Reader struct {
	Options Options
}

// IsReadable reports whether excelize can open the file.
func (Reader) IsReadable(filename string) bool { return IsReadable(filename) }

// Load opens the file.
func (r Reader) Load(filename string) (sheet.Workbook, error) {
	opts := r.Options
	return Open(filename, &opts)
}

// ListSheetNames returns the sheet names in workbook order without
// measuring the sheets.
func (r Reader) ListSheetNames(filename string) ([]string, error) {
	var f *excelize.File
	var err error
	if r.Options.FileContents != nil {
		f, err = excelize.OpenReader(bytes.NewReader(r.Options.FileContents), excelize.Options{Password: r.Options.Password})
	} else {
		f, err = excelize.OpenFile(filename, excelize.Options{Password: r.Options.Password})
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if err != nil {
		return nil, sheet.NewStructuralError("xlsx: %v", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ListSheetInfo opens the file and returns its sheet descriptors.
func (r Reader) ListSheetInfo(filename string) ([]sheet.Info, error) {
	b, err := r.Load(filename)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.Sheets(), nil
}
