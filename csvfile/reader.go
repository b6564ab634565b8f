// Package csvfile reads delimited text as a one-sheet workbook, inferring the
// character encoding and the field delimiter when they are not given.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yamitzky/sheetread/sheet"
)

// Options contains options for opening delimited text.
type Options struct {
	// InputEncoding names the encoding of the input. Empty guesses it with
	// DetectEncoding.
	InputEncoding string

	// FallbackEncoding is used by the guess when nothing else matches.
	// Empty means DefaultFallbackEncoding.
	FallbackEncoding string

	// Delimiter separates fields. Zero infers it with InferDelimiter.
	Delimiter rune

	// FileContents is the file contents as bytes. If FileContents is
	// supplied, the filename only names the sheet.
	FileContents []byte

	// Logfile receives diagnostics; nil discards them.
	Logfile io.Writer

	// Verbosity 1 reports the detected dialect.
	Verbosity int
}

// File is a decoded delimited text document. Its single sheet is named after
// the file.
type File struct {
	// Encoding is the input encoding, given or detected.
	Encoding string

	// Delimiter is the field delimiter, given or inferred.
	Delimiter rune

	data []byte // UTF-8, after any sep= line
	info sheet.Info
}

var _ sheet.Workbook = (*File)(nil)

// Open reads and decodes the named file.
func Open(filename string, options *Options) (*File, error) {
	if options == nil {
		options = &Options{}
	}
	contents := options.FileContents
	if contents == nil {
		var err error
		if contents, err = os.ReadFile(filename); err != nil {
			return nil, fmt.Errorf("open csv: %w", err)
		}
	}
	return OpenContents(SheetName(filename), contents, options)
}

// OpenContents decodes delimited text held in memory; name becomes the sheet
// name.
func OpenContents(name string, contents []byte, options *Options) (*File, error) {
	if options == nil {
		options = &Options{}
	}
	logfile := options.Logfile
	if logfile == nil {
		logfile = io.Discard
	}

	f := &File{Encoding: options.InputEncoding, Delimiter: options.Delimiter}
	if f.Encoding == "" {
		f.Encoding = DetectEncoding(contents, options.FallbackEncoding)
	}
	data, err := toUTF8(contents, f.Encoding)
	if err != nil {
		return nil, err
	}

	first, rest, _ := bytes.Cut(data, []byte{'\n'})
	if d, ok := sepDirective(string(first)); ok {
		if f.Delimiter == 0 {
			f.Delimiter = d
		}
		data = rest
	}
	if f.Delimiter == 0 {
		f.Delimiter = InferDelimiter(bytes.NewReader(data))
	}
	if f.Delimiter == enclosure || f.Delimiter == '\r' || f.Delimiter == '\n' {
		return nil, sheet.NewLookupError("invalid delimiter %q", f.Delimiter)
	}
	f.data = data
	if options.Verbosity >= 1 {
		fmt.Fprintf(logfile, "csv %s: encoding %s, delimiter %q\n", name, f.Encoding, f.Delimiter)
	}

	rows, cols := 0, 0
	r := f.reader()
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, sheet.NewStructuralError("csv %s: %v", name, err)
		}
		rows++
		cols = max(cols, len(record))
	}
	f.info = sheet.NewInfo(name, rows, cols)
	return f, nil
}

func (f *File) reader() *recordReader {
	r := csv.NewReader(bytes.NewReader(f.data))
	r.Comma = f.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return &recordReader{data: f.data, r: r}
}

// recordReader reads records like csv.Reader but returns an empty record for
// every blank line, which csv.Reader skips, so row numbers follow the lines.
type recordReader struct {
	data    []byte
	r       *csv.Reader
	skipped int64 // blank-line bytes reported past the reader's offset
}

func (rr *recordReader) Read() ([]string, error) {
	rest := rr.data[rr.r.InputOffset()+rr.skipped:]
	switch {
	case bytes.HasPrefix(rest, []byte("\n")):
		rr.skipped++
		return []string{}, nil
	case bytes.HasPrefix(rest, []byte("\r\n")):
		rr.skipped += 2
		return []string{}, nil
	}
	rr.skipped = 0
	return rr.r.Read()
}

// Sheets returns the descriptor of the single sheet.
func (f *File) Sheets() []sheet.Info {
	return []sheet.Info{f.info}
}

// RowSourceByIndex returns a RowSource over rows startRow..endRow of sheet 0.
func (f *File) RowSourceByIndex(i, startRow, endRow int) (sheet.RowSource, error) {
	if i != 0 {
		return nil, sheet.NewLookupError("sheet index %d out of range", i)
	}
	win, err := sheet.NewWindow(startRow, endRow, f.info.TotalRows)
	if err != nil {
		return nil, err
	}
	it := &RowIterator{file: f, win: win}
	if err := it.Seek(startRow); err != nil {
		return nil, err
	}
	return it, nil
}

// RowSourceByName is RowSourceByIndex for the sheet called name.
func (f *File) RowSourceByName(name string, startRow, endRow int) (sheet.RowSource, error) {
	i, err := sheet.SheetIndex(f, name)
	if err != nil {
		return nil, err
	}
	return f.RowSourceByIndex(i, startRow, endRow)
}

// Close releases the decoded text.
func (f *File) Close() error {
	f.data = nil
	return nil
}

// RowIterator reads records sequentially; seeking rescans from the top.
type RowIterator struct {
	file *File
	r    *recordReader
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
	it.r = it.file.reader()
	it.eof = false
	it.err = nil
	for it.win.Before() {
		if _, err := it.read(); err != nil {
			it.err = err
			return err
		}
		it.win.Advance()
	}
	return nil
}

func (it *RowIterator) read() ([]string, error) {
	if it.eof {
		return nil, nil
	}
	record, err := it.r.Read()
	if errors.Is(err, io.EOF) {
		it.eof = true
		return nil, nil
	}
	if err != nil {
		return nil, sheet.NewStructuralError("csv %s: %v", it.file.info.Name, err)
	}
	return record, nil
}

// Next reads the next record of the range. Rows past the end of the data
// but inside the range come back empty.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.win.Done() {
		return false
	}
	record, err := it.read()
	if err != nil {
		it.err = err
		return false
	}
	cells := make([]sheet.Cell, 0, len(record))
	for col, v := range record {
		c := sheet.NewCell(it.win.Pos(), col)
		c.Type = sheet.CellText
		c.Value = v
		cells = append(cells, c)
	}
	it.row = sheet.NewRow(it.win.Index(), cells, sheet.Literal{})
	it.win.Advance()
	return true
}

// Row returns the row read by the last successful Next.
func (it *RowIterator) Row() sheet.Row { return it.row }

// Err returns the error that stopped iteration, if any.
func (it *RowIterator) Err() error { return it.err }

// Len returns the number of rows in the range.
func (it *RowIterator) Len() int { return it.win.Len() }

// Close stops the iteration.
func (it *RowIterator) Close() error {
	it.eof = true
	it.row = sheet.Row{}
	return nil
}

// SheetName is the base name of filename without its extension.
func SheetName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var textTypes = []string{"text/plain", "text/csv", "application/csv"}

// IsReadable reports whether the file looks like plain text. Empty files are
// readable.
func IsReadable(filename string) bool {
	st, err := os.Stat(filename)
	if err != nil || st.IsDir() {
		return false
	}
	if st.Size() == 0 {
		return true
	}
	mtype, err := mimetype.DetectFile(filename)
	if err != nil {
		return false
	}
	for m := mtype; m != nil; m = m.Parent() {
		for _, t := range textTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

// Reader opens delimited text for the format facade.
type Reader struct {
	Options Options
}

// IsReadable reports whether the file looks like plain text.
func (Reader) IsReadable(filename string) bool { return IsReadable(filename) }

// Load opens the file.
func (r Reader) Load(filename string) (sheet.Workbook, error) {
	opts := r.Options
	return Open(filename, &opts)
}

// ListSheetNames returns the name of the single sheet without reading the
// file.
func (Reader) ListSheetNames(filename string) ([]string, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	return []string{SheetName(filename)}, nil
}

// ListSheetInfo opens the file and returns its sheet descriptor.
func (r Reader) ListSheetInfo(filename string) ([]sheet.Info, error) {
	f, err := r.Load(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Sheets(), nil
}
