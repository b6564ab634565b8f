package xlrd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding"

	"github.com/yamitzky/sheetread/sheet"
	"github.com/yamitzky/sheetread/style"
)

// Options contains options for opening a workbook.
type Options struct {
	// Logfile is an open file to which messages and diagnostics are written.
	// Nil discards them.
	Logfile io.Writer

	// Verbosity increases the volume of trace material written to the logfile.
	// 1 reports skipped record kinds, 2 traces the container and records.
	Verbosity int

	// FileContents is the file contents as bytes.
	// If FileContents is supplied, the filename is used only in messages.
	FileContents []byte

	// EncodingOverride is used to overcome missing or bad codepage
	// information in BIFF5 files, e.g. "cp1251" or "shift_jis".
	EncodingOverride string
}

// Book represents the contents of a "workbook".
//
// You should not instantiate this type yourself. You use the Book
// object that was returned when you called OpenWorkbook.
type Book struct {
	// Datemode indicates which date system was in force when this file was last saved.
	// 0: 1900 system (the Excel for Windows default).
	// 1: 1904 system (the Excel for Macintosh default).
	Datemode int

	// BiffVersion is the version of BIFF used to create the file:
	// 50, 70 or 80.
	BiffVersion int

	// Codepage is the value of the CODEPAGE record, or 0 if there was none.
	Codepage int

	logfile   io.Writer
	verbosity int

	stream   []byte
	enc      encoding.Encoding
	override encoding.Encoding
	style    *style.Context
	sheets   []*Sheet
}

var _ sheet.Workbook = (*Book)(nil)

// OpenWorkbook opens an xls file for data extraction.
func OpenWorkbook(filename string, options *Options) (*Book, error) {
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
	return OpenWorkbookContents(contents, options)
}

// OpenWorkbookContents decodes an xls image held in memory. Besides compound
// documents it accepts a bare BIFF stream.
func OpenWorkbookContents(contents []byte, options *Options) (*Book, error) {
	if options == nil {
		options = &Options{}
	}
	if len(contents) == 0 {
		return nil, sheet.NewStructuralError("file size is 0 bytes")
	}

	bk := &Book{
		logfile:   options.Logfile,
		verbosity: options.Verbosity,
		style:     style.NewContext(),
	}
	if bk.logfile == nil {
		bk.logfile = io.Discard
	}
	if options.EncodingOverride != "" {
		enc, err := lookupEncoding(options.EncodingOverride)
		if err != nil {
			return nil, err
		}
		bk.override = enc
	}

	fileFormat, err := InspectFormat("", contents)
	if err != nil {
		return nil, err
	}
	switch fileFormat {
	case FormatXLS:
		cd, err := NewCompDoc(contents, bk.logfile, bk.verbosity)
		if err != nil {
			return nil, err
		}
		if bk.stream, err = cd.LocateNamedStream("Workbook", "Book"); err != nil {
			return nil, err
		}
	case "":
		bk.stream = contents
	default:
		return nil, sheet.NewStructuralError("%s; not supported", FileFormatDescriptions[fileFormat])
	}

	if err := bk.parseGlobals(); err != nil {
		return nil, err
	}
	return bk, nil
}

// getBOF reads the BOF record at pos, checks that it opens a substream of
// type rqdStream and returns the BIFF version with the position after it.
func getBOF(stream []byte, pos, rqdStream int) (int, int, error) {
	rec, next, err := readRecord(stream, pos)
	if err != nil {
		return 0, pos, sheet.NewStructuralError("expected BOF record at offset %d: %v", pos, err)
	}
	if rec.code != XL_BOF {
		return 0, pos, sheet.NewStructuralError("expected BOF record; found 0x%04x", rec.code)
	}
	if len(rec.data) < 4 || len(rec.data) > 20 {
		return 0, pos, sheet.NewStructuralError("invalid length (%d) for BOF record", len(rec.data))
	}

	version2 := le16(rec.data, 0)
	streamtype := le16(rec.data, 2)
	build := le16(rec.data, 4)
	year := le16(rec.data, 6)

	var version int
	switch version2 {
	case 0x0600:
		version = BIFF_VERSION_8
	case 0x0500:
		if year < 1994 || build == 2412 || build == 3218 || build == 3321 {
			version = BIFF_VERSION_5
		} else {
			version = BIFF_VERSION_7
		}
	default:
		return 0, pos, sheet.NewStructuralError("BIFF version 0x%04x is not supported", version2)
	}

	if streamtype == XL_WORKSPACE {
		return 0, pos, sheet.NewStructuralError("workspace file -- no spreadsheet data")
	}
	if streamtype != rqdStream {
		return 0, pos, sheet.NewStructuralError("BOF not workbook/worksheet: vers=0x%04x strm=0x%04x -> BIFF%s",
			version2, streamtype, BiffTextFromNum(version))
	}
	return version, next, nil
}

// parseGlobals reads the workbook globals substream up to its EOF.
func (b *Book) parseGlobals() error {
	version, pos, err := getBOF(b.stream, 0, XL_WORKBOOK_GLOBALS)
	if err != nil {
		return err
	}
	b.BiffVersion = version
	b.setEncoding()
	if b.verbosity >= 2 {
		fmt.Fprintf(b.logfile, "BIFF version %s, stream %d bytes\n", BiffTextFromNum(version), len(b.stream))
	}

	for pos < len(b.stream) {
		rec, next, err := readRecord(b.stream, pos)
		if err != nil {
			return err
		}
		pos = next
		if b.verbosity >= 2 {
			fmt.Fprintf(b.logfile, "globals: 0x%04x at %d, %d bytes\n", rec.code, rec.pos, len(rec.data))
		}

		switch rec.code {
		case XL_EOF:
			return nil
		case XL_FILEPASS:
			return sheet.NewStructuralError("workbook is encrypted")
		case XL_CODEPAGE:
			b.handleCodepage(rec.data)
		case XL_DATEMODE:
			b.handleDatemode(rec.data)
		case XL_FORMAT:
			err = b.handleFormat(rec.data)
		case XL_XF:
			b.handleXF(rec.data)
		case XL_SST:
			segments := [][]byte{rec.data}
			for pos < len(b.stream) {
				cont, after, cerr := readRecord(b.stream, pos)
				if cerr != nil || cont.code != XL_CONTINUE {
					break
				}
				segments = append(segments, cont.data)
				pos = after
			}
			err = b.handleSST(segments)
		case XL_BOUNDSHEET:
			err = b.handleBoundsheet(rec.data)
		}
		if err != nil {
			return err
		}
	}
	return sheet.NewStructuralError("workbook globals have no EOF record")
}

// setEncoding derives the decoder for 8-bit strings from the codepage.
func (b *Book) setEncoding() {
	if b.override != nil {
		b.enc = b.override
		return
	}
	b.enc = encodingForCodepage(b.Codepage)
}

func (b *Book) handleCodepage(data []byte) {
	b.Codepage = le16(data, 0)
	b.setEncoding()
}

func (b *Book) handleDatemode(data []byte) {
	if mode := le16(data, 0); mode == 0 || mode == 1 {
		b.Datemode = mode
		b.style.Date1904 = mode == 1
	}
}

// handleFormat records a custom number format under its format id.
func (b *Book) handleFormat(data []byte) error {
	id := le16(data, 0)
	var code string
	var err error
	if b.BiffVersion >= BIFF_FIRST_UNICODE {
		code, _, err = unpackUnicode(data, 2, 2)
	} else {
		code, _, err = unpackString(data, 2, 1, b.enc)
	}
	if err != nil {
		return fmt.Errorf("FORMAT record %d: %w", id, err)
	}
	b.style.AddFormat(id, code)
	return nil
}

// handleXF keeps the format id of each XF; the rest of the record describes
// fonts, borders and fills which are not needed for values.
func (b *Book) handleXF(data []byte) {
	b.style.AddXF(le16(data, 2))
}

func (b *Book) handleSST(segments [][]byte) error {
	if len(segments[0]) < 8 {
		return sheet.NewStructuralError("SST record too short")
	}
	unique := int(le32(segments[0], 4))
	segments[0] = segments[0][8:]
	r := newSSTReader(segments)
	for i := 0; i < unique; i++ {
		s, err := r.next()
		if err != nil {
			return fmt.Errorf("shared string %d of %d: %w", i, unique, err)
		}
		b.style.AddSharedString(s)
	}
	if b.verbosity >= 2 {
		fmt.Fprintf(b.logfile, "SST: %d strings in %d records\n", unique, len(segments))
	}
	return nil
}

// handleBoundsheet registers a worksheet. Charts and macro sheets are ignored.
func (b *Book) handleBoundsheet(data []byte) error {
	if len(data) < 6 {
		return sheet.NewStructuralError("BOUNDSHEET record too short")
	}
	offset := int(le32(data, 0))
	visibility := int(data[4])
	sheetType := int(data[5])

	var name string
	var err error
	if b.BiffVersion >= BIFF_FIRST_UNICODE {
		name, _, err = unpackUnicode(data, 6, 1)
	} else {
		name, _, err = unpackString(data, 6, 1, b.enc)
	}
	if err != nil {
		return fmt.Errorf("BOUNDSHEET record: %w", err)
	}

	if sheetType != XL_BOUNDSHEET_WORKSHEET {
		if b.verbosity >= 2 {
			fmt.Fprintf(b.logfile, "skipping sheet %q of type %d\n", name, sheetType)
		}
		return nil
	}
	if offset >= len(b.stream) {
		return sheet.NewStructuralError("sheet %q starts beyond the workbook stream", name)
	}
	b.sheets = append(b.sheets, newSheet(b, name, offset, visibility))
	return nil
}

// Style returns the style context shared by every sheet of the book.
func (b *Book) Style() *style.Context {
	return b.style
}

// NSheets returns the number of worksheets.
func (b *Book) NSheets() int {
	return len(b.sheets)
}

// SheetNames returns the worksheet names in workbook order.
func (b *Book) SheetNames() []string {
	names := make([]string, len(b.sheets))
	for i, sh := range b.sheets {
		names[i] = sh.Name
	}
	return names
}

// SheetByIndex returns a sheet by its index.
func (b *Book) SheetByIndex(sheetx int) (*Sheet, error) {
	if sheetx < 0 || sheetx >= len(b.sheets) {
		return nil, sheet.NewLookupError("sheet index %d out of range", sheetx)
	}
	return b.sheets[sheetx], nil
}

// SheetByName returns a sheet by its name.
func (b *Book) SheetByName(name string) (*Sheet, error) {
	for _, sh := range b.sheets {
		if sh.Name == name {
			return sh, nil
		}
	}
	return nil, sheet.NewLookupError("no sheet named <%s>", name)
}

// Sheets returns the dimensions of every worksheet. Sheets whose
// substream is unreadable are reported with zero totals.
func (b *Book) Sheets() []sheet.Info {
	infos := make([]sheet.Info, len(b.sheets))
	for i, sh := range b.sheets {
		info, err := sh.Info()
		if err != nil && b.verbosity >= 1 {
			fmt.Fprintf(b.logfile, "sheet %q: %v\n", sh.Name, err)
		}
		infos[i] = info
	}
	return infos
}

// RowSourceByIndex returns rows startRow..endRow of the sheet at index i.
func (b *Book) RowSourceByIndex(i, startRow, endRow int) (sheet.RowSource, error) {
	sh, err := b.SheetByIndex(i)
	if err != nil {
		return nil, err
	}
	return sh.Rows(startRow, endRow)
}

// RowSourceByName returns rows startRow..endRow of the named sheet.
func (b *Book) RowSourceByName(name string, startRow, endRow int) (sheet.RowSource, error) {
	sh, err := b.SheetByName(name)
	if err != nil {
		return nil, err
	}
	return sh.Rows(startRow, endRow)
}

// Close releases the workbook stream. RowSources already handed out keep
// their own reference and stay usable.
func (b *Book) Close() error {
	b.stream = nil
	return nil
}
