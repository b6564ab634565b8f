package xlrd

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yamitzky/sheetread/sheet"
)

// Sheet is one worksheet substream of a Book.
//
// You don't instantiate this type yourself. You access Sheet objects via
// the Book object that was returned when you called OpenWorkbook.
type Sheet struct {
	// Name is the name of the sheet.
	Name string

	// Visibility: 0 = visible, 1 = hidden, 2 = very hidden.
	Visibility int

	book   *Book
	stream []byte
	offset int // position of the sheet's BOF header

	infoOnce sync.Once
	info     sheet.Info
	infoErr  error

	indexOnce sync.Once
	index     map[int]int // 1-based row -> data position of its first cell record
	body      int         // position of the first record after BOF
	indexErr  error
}

func newSheet(b *Book, name string, offset, visibility int) *Sheet {
	return &Sheet{
		Name:       name,
		Visibility: visibility,
		book:       b,
		stream:     b.stream,
		offset:     offset,
	}
}

// records walks the substream from pos until EOF or the end of the stream,
// calling fn for each record. fn returns false to stop early.
func (s *Sheet) records(pos int, fn func(rec record) bool) error {
	for pos < len(s.stream) {
		rec, next, err := readRecord(s.stream, pos)
		if err != nil {
			return err
		}
		if rec.code == XL_EOF || !fn(rec) {
			return nil
		}
		pos = next
	}
	return nil
}

func (s *Sheet) start() (int, error) {
	_, pos, err := getBOF(s.stream, s.offset, XL_WORKSHEET)
	if err != nil {
		return 0, fmt.Errorf("sheet %q: %w", s.Name, err)
	}
	return pos, nil
}

// Info returns the sheet dimensions. They come from the DIMENSION record;
// cell records reaching beyond it widen the result.
func (s *Sheet) Info() (sheet.Info, error) {
	s.infoOnce.Do(func() {
		s.info = sheet.NewInfo(s.Name, 0, 0)
		s.info.Offset = s.offset
		pos, err := s.start()
		if err != nil {
			s.infoErr = err
			return
		}
		rows, cols := 0, 0
		biff8 := s.book.BiffVersion >= BIFF_FIRST_UNICODE
		s.infoErr = s.records(pos, func(rec record) bool {
			switch {
			case rec.code == XL_DIMENSION:
				if biff8 {
					rows = max(rows, int(le32(rec.data, 4)))
					cols = max(cols, le16(rec.data, 10))
				} else {
					rows = max(rows, le16(rec.data, 2))
					cols = max(cols, le16(rec.data, 6))
				}
			case IsCellOpcode(rec.code) && len(rec.data) >= 4:
				rows = max(rows, le16(rec.data, 0)+1)
				last := le16(rec.data, 2)
				if rec.code == XL_MULRK || rec.code == XL_MULBLANK {
					last = le16(rec.data, len(rec.data)-2)
				}
				cols = max(cols, last+1)
			}
			return true
		})
		s.info = sheet.NewInfo(s.Name, rows, cols)
		s.info.Offset = s.offset
	})
	return s.info, s.infoErr
}

// rowIndex builds the row-offset index from the ROW and DBCELL records of
// each row block. Rows of a block are matched to DBCELL offsets by their
// order inside the block.
func (s *Sheet) rowIndex() (map[int]int, int, error) {
	s.indexOnce.Do(func() {
		s.index = make(map[int]int)
		s.body, s.indexErr = s.start()
		if s.indexErr != nil {
			return
		}
		var block []int
		s.indexErr = s.records(s.body, func(rec record) bool {
			switch rec.code {
			case XL_ROW:
				block = append(block, le16(rec.data, 0))
			case XL_DBCELL:
				first := rec.pos - int(le32(rec.data, 0)) + 20
				sum := 0
				for k, row := range block {
					sum += le16(rec.data, 4+2*k)
					s.index[row+1] = first + sum
				}
				block = block[:0]
			}
			return true
		})
		if s.book.verbosity >= 2 {
			fmt.Fprintf(s.book.logfile, "sheet %q: %d indexed rows\n", s.Name, len(s.index))
		}
	})
	return s.index, s.body, s.indexErr
}

// Rows returns a RowSource over rows startRow..endRow; endRow 0 means the
// last row of the sheet.
func (s *Sheet) Rows(startRow, endRow int) (*RowIterator, error) {
	info, err := s.Info()
	if err != nil {
		return nil, err
	}
	win, err := sheet.NewWindow(startRow, endRow, info.TotalRows)
	if err != nil {
		return nil, err
	}
	index, body, err := s.rowIndex()
	if err != nil {
		return nil, err
	}
	it := &RowIterator{
		sheet:    s,
		index:    index,
		body:     body,
		win:      win,
		reported: make(map[string]bool),
	}
	if err := it.Seek(startRow); err != nil {
		return nil, err
	}
	return it, nil
}

// RowIterator decodes the cell records of one sheet row by row.
type RowIterator struct {
	sheet *Sheet
	index map[int]int
	body  int
	win   sheet.Window

	cursor int // header position of the next unread record
	eof    bool
	row    sheet.Row
	err    error

	// FORMULA cell waiting for the STRING record that carries its result
	pending *sheet.Cell

	reported map[string]bool
}

var _ sheet.RowSource = (*RowIterator)(nil)

// Seek repositions the iterator so the next row returned is startRow.
func (it *RowIterator) Seek(startRow int) error {
	if err := it.win.Reset(startRow); err != nil {
		return err
	}
	it.err = nil
	it.eof = false
	it.pending = nil
	it.cursor = it.body

	if pos, ok := it.index[startRow]; ok && startRow > 1 {
		it.cursor = pos - recordHeaderSize
		it.win.SkipTo(startRow - 1)
		return nil
	}
	for it.win.Before() && !it.eof {
		if _, err := it.readRow(it.win.Pos(), false); err != nil {
			it.err = err
			return err
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
	cells, err := it.readRow(it.win.Pos(), true)
	if err != nil {
		it.err = err
		return false
	}
	it.row = sheet.NewRow(it.win.Index(), cells, it.sheet.book.style)
	it.win.Advance()
	return true
}

// Row returns the row decoded by the last successful Next.
func (it *RowIterator) Row() sheet.Row { return it.row }

// Err returns the error that stopped iteration, if any.
func (it *RowIterator) Err() error { return it.err }

// Len returns the number of rows in the range.
func (it *RowIterator) Len() int { return it.win.Len() }

// Close drops the decoded state.
func (it *RowIterator) Close() error {
	it.row = sheet.Row{}
	it.pending = nil
	it.eof = true
	return nil
}

// endsRow reports whether rec belongs to a row after position p. The record
// is then left unread.
func (it *RowIterator) endsRow(rec record, p int) bool {
	cur, hasCur := it.index[p+1]
	next, hasNext := it.index[p+2]
	if hasNext && rec.pos == next && (!hasCur || rec.pos > cur) {
		return true
	}
	return IsCellOpcode(rec.code) && len(rec.data) >= 2 && le16(rec.data, 0) > p
}

// readRow consumes the records of the row at position p. With collect false
// the records are skipped without decoding.
func (it *RowIterator) readRow(p int, collect bool) ([]sheet.Cell, error) {
	var cells []sheet.Cell
	stream := it.sheet.stream
	for !it.eof {
		if it.cursor >= len(stream) {
			it.eof = true
			break
		}
		rec, next, err := readRecord(stream, it.cursor)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", it.sheet.Name, err)
		}
		if rec.code == XL_EOF {
			it.eof = true
			break
		}
		if it.endsRow(rec, p) {
			break
		}
		it.cursor = next
		if collect {
			cells = it.decode(rec, cells)
		}
	}
	slices.SortFunc(cells, func(a, b sheet.Cell) int { return a.Column - b.Column })
	return cells, nil
}

// put stores c, replacing a cell already decoded for the same column.
func put(cells []sheet.Cell, c sheet.Cell) []sheet.Cell {
	for i := range cells {
		if cells[i].Column == c.Column {
			cells[i] = c
			return cells
		}
	}
	return append(cells, c)
}

// decode appends the cells a record carries. Malformed cell records are
// dropped.
func (it *RowIterator) decode(rec record, cells []sheet.Cell) []sheet.Cell {
	data := rec.data
	if feature, ok := skippedFeatures[rec.code]; ok {
		it.report(feature)
		return cells
	}
	if rec.code == XL_STRING {
		return it.formulaString(data, cells)
	}
	if !IsCellOpcode(rec.code) || len(data) < 6 {
		return cells
	}

	row, col, xf := le16(data, 0), le16(data, 2), le16(data, 4)
	cell := sheet.NewCell(row, col)
	cell.XF = xf

	switch rec.code {
	case XL_BLANK:
		cell.Type = sheet.CellBlank
	case XL_MULBLANK:
		last := le16(data, len(data)-2)
		for i := 0; col+i <= last && 4+2*i+2 <= len(data)-2; i++ {
			c := sheet.NewCell(row, col+i)
			c.Type, c.XF = sheet.CellBlank, le16(data, 4+2*i)
			cells = put(cells, c)
		}
		return cells
	case XL_RK, XL_RK2:
		cell.Type, cell.Value = sheet.CellNumber, decodeRK(le32(data, 6))
	case XL_MULRK:
		last := le16(data, len(data)-2)
		for i := 0; col+i <= last && 10+6*i <= len(data)-2; i++ {
			c := sheet.NewCell(row, col+i)
			c.Type, c.XF = sheet.CellNumber, le16(data, 4+6*i)
			c.Value = decodeRK(le32(data, 6+6*i))
			cells = put(cells, c)
		}
		return cells
	case XL_NUMBER:
		cell.Type, cell.Value = sheet.CellNumber, float64At(data, 6)
	case XL_BOOLERR:
		if len(data) < 8 {
			return cells
		}
		if data[7] == 1 {
			cell.Type, cell.Value = sheet.CellError, errorText(data[6])
		} else {
			cell.Type, cell.Value = sheet.CellBoolean, data[6] != 0
		}
	case XL_LABEL, XL_RSTRING:
		s, err := it.inlineString(data, 6)
		if err != nil {
			it.logf("sheet %q %s: %v", it.sheet.Name, cell.Coordinate(), err)
			cell.Type = sheet.CellBlank
			break
		}
		cell.Type, cell.Value = sheet.CellText, s
	case XL_LABELSST:
		cell.Type, cell.SST = sheet.CellText, int(le32(data, 6))
		cell.Value = ""
	case XL_FORMULA, XL_FORMULA4:
		if len(data) < 14 {
			return cells
		}
		it.pending = nil
		if data[12] == 0xFF && data[13] == 0xFF {
			switch data[6] {
			case 0:
				cell.Type, cell.Value = sheet.CellText, ""
				pending := cell
				it.pending = &pending
			case 1:
				cell.Type, cell.Value = sheet.CellBoolean, data[8] != 0
			case 2:
				cell.Type, cell.Value = sheet.CellError, errorText(data[8])
			case 3:
				cell.Type, cell.Value = sheet.CellText, ""
			default:
				return cells
			}
		} else {
			cell.Type, cell.Value = sheet.CellNumber, float64At(data, 6)
		}
		cell.Formula = it.formulaText(data, cell)
		if it.pending != nil {
			it.pending.Formula = cell.Formula
		}
	}
	return put(cells, cell)
}

// formulaText decompiles the token array of a BIFF8 FORMULA record. Formulas
// that cannot be rendered keep an empty text.
func (it *RowIterator) formulaText(data []byte, cell sheet.Cell) string {
	if it.sheet.book.BiffVersion < BIFF_FIRST_UNICODE || len(data) < 22 {
		return ""
	}
	size := le16(data, 20)
	if 22+size > len(data) {
		return ""
	}
	text, err := decompileFormula(data[22 : 22+size])
	if err != nil {
		if it.sheet.book.verbosity >= 2 {
			it.logf("sheet %q %s: formula: %v", it.sheet.Name, cell.Coordinate(), err)
		}
		return ""
	}
	return text
}

// formulaString fills the pending FORMULA cell with the STRING result.
func (it *RowIterator) formulaString(data []byte, cells []sheet.Cell) []sheet.Cell {
	if it.pending == nil {
		return cells
	}
	cell := *it.pending
	it.pending = nil
	s, err := it.inlineString(data, 0)
	if err != nil {
		it.logf("sheet %q %s: %v", it.sheet.Name, cell.Coordinate(), err)
		return cells
	}
	cell.Value = s
	return put(cells, cell)
}

// inlineString decodes a 2-byte length string as used by LABEL and STRING.
func (it *RowIterator) inlineString(data []byte, pos int) (string, error) {
	b := it.sheet.book
	if b.BiffVersion >= BIFF_FIRST_UNICODE {
		s, _, err := unpackUnicode(data, pos, 2)
		return s, err
	}
	s, _, err := unpackString(data, pos, 2, b.enc)
	return s, err
}

// report logs a skipped record kind once per iterator.
func (it *RowIterator) report(feature string) {
	if it.reported[feature] {
		return
	}
	it.reported[feature] = true
	if it.sheet.book.verbosity >= 1 {
		err := &sheet.UnsupportedFeatureError{Feature: feature, Sheet: it.sheet.Name}
		fmt.Fprintln(it.sheet.book.logfile, err)
	}
}

func (it *RowIterator) logf(format string, args ...any) {
	if it.sheet.book.verbosity >= 1 {
		fmt.Fprintf(it.sheet.book.logfile, format+"\n", args...)
	}
}
