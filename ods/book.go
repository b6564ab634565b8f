// Package ods reads OpenDocument spreadsheets. The content part is parsed
// as a token stream; each RowSource re-reads it from the start of its table.
package ods

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yamitzky/sheetread/sheet"
)

const contentPart = "content.xml"

// Options contains options for opening a document.
type Options struct {
	// FileContents is the file contents as bytes. If FileContents is
	// supplied, the filename is used only in messages.
	FileContents []byte

	// Logfile receives diagnostics; nil discards them.
	Logfile io.Writer

	// Verbosity 1 reports each table found.
	Verbosity int
}

// Book is an open OpenDocument spreadsheet.
type Book struct {
	content []byte
	infos   []sheet.Info
}

var _ sheet.Workbook = (*Book)(nil)

// Open reads the named file.
func Open(filename string, options *Options) (*Book, error) {
	if options == nil {
		options = &Options{}
	}
	contents := options.FileContents
	if contents == nil {
		var err error
		if contents, err = os.ReadFile(filename); err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
	}
	return OpenContents(contents, options)
}

// OpenContents decodes a document held in memory and measures its tables.
func OpenContents(contents []byte, options *Options) (*Book, error) {
	if options == nil {
		options = &Options{}
	}
	logfile := options.Logfile
	if logfile == nil {
		logfile = io.Discard
	}
	content, err := readContent(contents)
	if err != nil {
		return nil, err
	}
	b := &Book{content: content}
	if b.infos, err = measure(content); err != nil {
		return nil, err
	}
	if options.Verbosity >= 1 {
		for _, info := range b.infos {
			fmt.Fprintf(logfile, "ods: table %q: %d rows, %d columns\n", info.Name, info.TotalRows, info.TotalColumns)
		}
	}
	return b, nil
}

// readContent extracts content.xml from the package.
func readContent(contents []byte) ([]byte, error) {
	if len(contents) == 0 {
		return nil, sheet.NewStructuralError("file size is 0 bytes")
	}
	zr, err := zip.NewReader(bytes.NewReader(contents), int64(len(contents)))
	if err != nil {
		return nil, sheet.NewStructuralError("ods: %v", err)
	}
	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, contentPart) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
		return data, nil
	}
	return nil, sheet.NewStructuralError("ods: missing %s", contentPart)
}

// measure walks every table once. Trailing empty rows and columns, which
// office suites write as large repeated blocks, are not counted.
func measure(content []byte) ([]sheet.Info, error) {
	cr := newContentReader(bytes.NewReader(content))
	var infos []sheet.Info
	for {
		name, err := cr.nextTable()
		if errors.Is(err, io.EOF) {
			return infos, nil
		}
		if err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
		pos, rows, cols := 0, 0, 0
		for {
			r, ok, err := cr.nextRow()
			if err != nil {
				return nil, sheet.NewStructuralError("ods table %q: %v", name, err)
			}
			if !ok {
				break
			}
			pos += r.count
			if w := r.width(); w > 0 {
				rows = pos
				cols = max(cols, w)
			}
		}
		infos = append(infos, sheet.NewInfo(name, rows, cols))
	}
}

// Sheets returns the table descriptors in document order.
func (b *Book) Sheets() []sheet.Info {
	return append([]sheet.Info(nil), b.infos...)
}

// RowSourceByIndex returns a RowSource over rows startRow..endRow of table i.
func (b *Book) RowSourceByIndex(i, startRow, endRow int) (sheet.RowSource, error) {
	if b.content == nil {
		return nil, sheet.NewLookupError("document is closed")
	}
	if i < 0 || i >= len(b.infos) {
		return nil, sheet.NewLookupError("sheet index %d out of range", i)
	}
	win, err := sheet.NewWindow(startRow, endRow, b.infos[i].TotalRows)
	if err != nil {
		return nil, err
	}
	it := &RowIterator{content: b.content, table: i, win: win}
	if err := it.Seek(startRow); err != nil {
		return nil, err
	}
	return it, nil
}

// RowSourceByName is RowSourceByIndex for the table called name.
func (b *Book) RowSourceByName(name string, startRow, endRow int) (sheet.RowSource, error) {
	i, err := sheet.SheetIndex(b, name)
	if err != nil {
		return nil, err
	}
	return b.RowSourceByIndex(i, startRow, endRow)
}

// Close drops the content part. Open row sources keep their own reference.
func (b *Book) Close() error {
	b.content = nil
	return nil
}

// RowIterator streams the rows of one table, expanding repeated rows.
type RowIterator struct {
	content []byte
	table   int
	cr      *contentReader
	win     sheet.Window

	current row // row element being expanded
	left    int // repetitions of current still to emit
	eof     bool
	out     sheet.Row
	err     error
}

var _ sheet.RowSource = (*RowIterator)(nil)

// Seek restarts the sequence at startRow.
func (it *RowIterator) Seek(startRow int) error {
	if err := it.win.Reset(startRow); err != nil {
		return err
	}
	it.cr = newContentReader(bytes.NewReader(it.content))
	it.current, it.left, it.eof, it.err = row{}, 0, false, nil
	for i := 0; i <= it.table; i++ {
		if _, err := it.cr.nextTable(); err != nil {
			it.err = sheet.NewStructuralError("ods: table %d: %v", it.table, err)
			return it.err
		}
	}
	for it.win.Before() && !it.eof {
		if _, err := it.advance(); err != nil {
			it.err = err
			return err
		}
		it.win.Advance()
	}
	it.win.SkipTo(startRow - 1)
	return nil
}

// advance returns the cells of the next row, or nil past the table end.
func (it *RowIterator) advance() ([]sheet.Cell, error) {
	if it.left == 0 && !it.eof {
		r, ok, err := it.cr.nextRow()
		if err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
		if !ok {
			it.eof = true
		} else {
			it.current, it.left = r, r.count
		}
	}
	if it.eof {
		return nil, nil
	}
	it.left--
	return it.current.cells, nil
}

// Next decodes the next row of the range.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.win.Done() {
		return false
	}
	src, err := it.advance()
	if err != nil {
		it.err = err
		return false
	}
	cells := make([]sheet.Cell, len(src))
	for i, c := range src {
		c.Row = it.win.Pos()
		cells[i] = c
	}
	it.out = sheet.NewRow(it.win.Index(), cells, sheet.Literal{})
	it.win.Advance()
	return true
}

// Row returns the row decoded by the last successful Next.
func (it *RowIterator) Row() sheet.Row { return it.out }

// Err returns the error that stopped iteration, if any.
func (it *RowIterator) Err() error { return it.err }

// Len returns the number of rows in the range.
func (it *RowIterator) Len() int { return it.win.Len() }

// Close stops the iteration.
func (it *RowIterator) Close() error {
	it.eof = true
	it.out = sheet.Row{}
	return nil
}

// IsReadable reports whether the file is a zip package with a content part.
func IsReadable(filename string) bool {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return false
	}
	defer zr.Close()
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, contentPart) {
			return true
		}
	}
	return false
}

// Reader opens OpenDocument spreadsheets for the format facade.
type Reader struct {
	Options Options
}

// IsReadable reports whether the file has a content part.
func (Reader) IsReadable(filename string) bool { return IsReadable(filename) }

// Load opens the file.
func (r Reader) Load(filename string) (sheet.Workbook, error) {
	opts := r.Options
	return Open(filename, &opts)
}

// ListSheetNames returns the table names without measuring the tables.
func (r Reader) ListSheetNames(filename string) ([]string, error) {
	contents := r.Options.FileContents
	if contents == nil {
		var err error
		if contents, err = os.ReadFile(filename); err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
	}
	content, err := readContent(contents)
	if err != nil {
		return nil, err
	}
	cr := newContentReader(bytes.NewReader(content))
	var names []string
	for {
		name, err := cr.nextTable()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
		names = append(names, name)
		if err := cr.dec.Skip(); err != nil {
			return nil, sheet.NewStructuralError("ods: %v", err)
		}
	}
}

// ListSheetInfo opens the file and returns its table descriptors.
func (r Reader) ListSheetInfo(filename string) ([]sheet.Info, error) {
	b, err := r.Load(filename)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.Sheets(), nil
}
