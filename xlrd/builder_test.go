package xlrd

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Test fixtures are synthesized: a BIFF stream writer plus a compound
// document writer with 512-byte sectors and a single allocation sector.

func u16(v int) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(v))
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func f64(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// xlString is a BIFF8 unicode string with a lenlen-byte count, compressed
// when every character fits in Latin-1.
func xlString(s string, lenlen int) []byte {
	runes := []rune(s)
	var out []byte
	if lenlen == 1 {
		out = []byte{byte(len(runes))}
	} else {
		out = u16(len(runes))
	}
	wide := false
	for _, r := range runes {
		if r > 0xff {
			wide = true
		}
	}
	if !wide {
		out = append(out, 0)
		for _, r := range runes {
			out = append(out, byte(r))
		}
		return out
	}
	out = append(out, 1)
	for _, w := range utf16.Encode(runes) {
		out = binary.LittleEndian.AppendUint16(out, w)
	}
	return out
}

// byteString is a BIFF5 8-bit string.
func byteString(b []byte, lenlen int) []byte {
	if lenlen == 1 {
		return append([]byte{byte(len(b))}, b...)
	}
	return append(u16(len(b)), b...)
}

type testRecord struct {
	code uint16
	data []byte
}

func cellHead(row, col, xf int) []byte {
	return cat(u16(row), u16(col), u16(xf))
}

func numberCell(row, col, xf int, v float64) testRecord {
	return testRecord{XL_NUMBER, cat(cellHead(row, col, xf), f64(v))}
}

func sstCell(row, col, xf, idx int) testRecord {
	return testRecord{XL_LABELSST, cat(cellHead(row, col, xf), u32(uint32(idx)))}
}

func labelCell(row, col, xf int, s string) testRecord {
	return testRecord{XL_LABEL, cat(cellHead(row, col, xf), xlString(s, 2))}
}

func rkCell(row, col, xf int, rk uint32) testRecord {
	return testRecord{XL_RK, cat(cellHead(row, col, xf), u32(rk))}
}

func blankCell(row, col, xf int) testRecord {
	return testRecord{XL_BLANK, cellHead(row, col, xf)}
}

func boolErrCell(row, col, xf int, value byte, isErr bool) testRecord {
	flag := byte(0)
	if isErr {
		flag = 1
	}
	return testRecord{XL_BOOLERR, cat(cellHead(row, col, xf), []byte{value, flag})}
}

// formulaCell writes a FORMULA record with an 8-byte result field followed
// by the parsed-expression tokens.
func formulaCell(row, col, xf int, result []byte, tokens ...byte) testRecord {
	return testRecord{XL_FORMULA, cat(cellHead(row, col, xf), result, u16(0), u32(0), u16(len(tokens)), tokens)}
}

// stringResult is the STRING record that follows a string-valued FORMULA.
func stringResult(s string) testRecord {
	return testRecord{XL_STRING, xlString(s, 2)}
}

func formulaSpecial(kind, value byte) []byte {
	return []byte{kind, 0, value, 0, 0, 0, 0xFF, 0xFF}
}

func mulRK(row, first int, xf int, rks ...uint32) testRecord {
	data := cat(u16(row), u16(first))
	for _, rk := range rks {
		data = cat(data, u16(xf), u32(rk))
	}
	return testRecord{XL_MULRK, cat(data, u16(first+len(rks)-1))}
}

func mulBlank(row, first, last, xf int) testRecord {
	data := cat(u16(row), u16(first))
	for c := first; c <= last; c++ {
		data = cat(data, u16(xf))
	}
	return testRecord{XL_MULBLANK, cat(data, u16(last))}
}

type testSheet struct {
	name string
	kind int // BOUNDSHEET type, XL_BOUNDSHEET_WORKSHEET by default

	rows, cols int          // DIMENSION values, written when rows > 0
	cells      []testRecord // cell records, grouped by row in order
	trailer    []testRecord // records written after the cell blocks
	noIndex    bool         // omit ROW and DBCELL records
}

type testBook struct {
	biff5    bool
	codepage int
	date1904 bool
	formats  map[int]string
	xfs      []int

	sst      []string
	sstSplit int // when > 0, SST string bytes are cut into CONTINUE records of this size

	sheets []testSheet
}

type streamWriter struct {
	buf bytes.Buffer
}

// record writes one record and returns the position of its header.
func (w *streamWriter) record(code uint16, data []byte) int {
	pos := w.buf.Len()
	w.buf.Write(u16(int(code)))
	w.buf.Write(u16(len(data)))
	w.buf.Write(data)
	return pos
}

func (w *streamWriter) bof(biff5 bool, streamType int) {
	version := 0x0600
	if biff5 {
		version = 0x0500
	}
	w.record(XL_BOF, cat(u16(version), u16(streamType), u16(0x0dbb), u16(1996), u32(0), u32(0)))
}

// buildStream writes the workbook globals and every sheet substream.
func (b testBook) buildStream() []byte {
	w := &streamWriter{}
	w.bof(b.biff5, XL_WORKBOOK_GLOBALS)
	if b.codepage != 0 {
		w.record(XL_CODEPAGE, u16(b.codepage))
	}
	if b.date1904 {
		w.record(XL_DATEMODE, u16(1))
	}
	for id, code := range b.formats {
		if b.biff5 {
			w.record(XL_FORMAT, cat(u16(id), byteString([]byte(code), 1)))
		} else {
			w.record(XL_FORMAT, cat(u16(id), xlString(code, 2)))
		}
	}
	for _, fmtID := range b.xfs {
		w.record(XL_XF, cat(u16(0), u16(fmtID), make([]byte, 16)))
	}
	if len(b.sst) > 0 {
		b.writeSST(w)
	}

	sheetPatch := make([]int, len(b.sheets))
	for i, sh := range b.sheets {
		name := xlString(sh.name, 1)
		if b.biff5 {
			name = byteString([]byte(sh.name), 1)
		}
		pos := w.record(XL_BOUNDSHEET, cat(u32(0), []byte{0, byte(sh.kind)}, name))
		sheetPatch[i] = pos + recordHeaderSize
	}
	w.record(XL_EOF, nil)

	for i, sh := range b.sheets {
		out := w.buf.Bytes()
		binary.LittleEndian.PutUint32(out[sheetPatch[i]:], uint32(w.buf.Len()))
		w.bof(b.biff5, XL_WORKSHEET)
		if sh.rows > 0 {
			if b.biff5 {
				w.record(XL_DIMENSION, cat(u16(0), u16(sh.rows), u16(0), u16(sh.cols), u16(0)))
			} else {
				w.record(XL_DIMENSION, cat(u32(0), u32(uint32(sh.rows)), u16(0), u16(sh.cols), u16(0)))
			}
		}
		writeCellBlocks(w, sh)
		for _, rec := range sh.trailer {
			w.record(rec.code, rec.data)
		}
		w.record(XL_EOF, nil)
	}
	return w.buf.Bytes()
}

// writeSST writes the shared-string table. With sstSplit set, the string
// bytes are cut into segments of that size and each segment after the first
// cut inside a string repeats the compression flag.
func (b testBook) writeSST(w *streamWriter) {
	head := cat(u32(uint32(len(b.sst))), u32(uint32(len(b.sst))))
	var body []byte
	for _, s := range b.sst {
		body = append(body, xlString(s, 2)...)
	}
	if b.sstSplit <= 0 {
		w.record(XL_SST, cat(head, body))
		return
	}

	// Character spans of each string, so a cut inside one can restate its
	// flag.
	type span struct {
		start, end int
		flag       byte
	}
	var chars []span
	pos := 0
	for _, s := range b.sst {
		enc := xlString(s, 2)
		chars = append(chars, span{pos + 3, pos + len(enc), enc[2]})
		pos += len(enc)
	}
	inChars := func(at int) (byte, bool) {
		for _, sp := range chars {
			if at >= sp.start && at < sp.end {
				return sp.flag, true
			}
		}
		return 0, false
	}

	first := true
	for len(body) > 0 {
		n := min(b.sstSplit, len(body))
		offset := pos - len(body)
		seg := body[:n]
		body = body[n:]
		if first {
			w.record(XL_SST, cat(head, seg))
			first = false
			continue
		}
		if flag, ok := inChars(offset); ok {
			seg = cat([]byte{flag}, seg)
		}
		w.record(XL_CONTINUE, seg)
	}
}

// writeCellBlocks groups the cell records into blocks of up to 32 rows, each
// preceded by its ROW records and followed by a DBCELL whose offsets point at
// the first cell record of each row.
func writeCellBlocks(w *streamWriter, sh testSheet) {
	var order []int
	byRow := make(map[int][]testRecord)
	row := 0
	for _, rec := range sh.cells {
		// STRING records carry no address and stay with the formula before them
		if rec.code != XL_STRING {
			row = int(binary.LittleEndian.Uint16(rec.data))
		}
		if _, ok := byRow[row]; !ok {
			order = append(order, row)
		}
		byRow[row] = append(byRow[row], rec)
	}
	if sh.noIndex {
		for _, row := range order {
			for _, rec := range byRow[row] {
				w.record(rec.code, rec.data)
			}
		}
		return
	}

	for len(order) > 0 {
		n := min(32, len(order))
		block := order[:n]
		order = order[n:]

		firstRow := w.buf.Len()
		for _, row := range block {
			w.record(XL_ROW, cat(u16(row), u16(0), u16(sh.cols), u16(0xff), make([]byte, 8)))
		}
		offsets := []byte{}
		prev := -1
		for i, row := range block {
			start := w.buf.Len()
			if i == 0 {
				offsets = append(offsets, u16((n-1)*20)...)
			} else {
				offsets = append(offsets, u16(start-prev)...)
			}
			prev = start
			for _, rec := range byRow[row] {
				w.record(rec.code, rec.data)
			}
		}
		dbcell := w.buf.Len()
		w.record(XL_DBCELL, cat(u32(uint32(dbcell-firstRow)), offsets))
	}
}

// compoundFile wraps stream as the "Workbook" stream of a compound document.
// Streams shorter than 4096 bytes go to the short-sector area.
func compoundFile(streamName string, stream []byte) []byte {
	const ssz = 512
	const sssz = 64
	const minStream = 4096

	short := len(stream) < minStream
	sat := make([]int32, ssz/4)
	for i := range sat {
		sat[i] = -1
	}
	sat[0] = -3 // allocation table sector
	sat[1] = -2 // directory
	sectors := [][]byte{nil, nil}

	chain := func(data []byte) int32 {
		first := int32(len(sectors))
		for off := 0; off < len(data); off += ssz {
			sec := make([]byte, ssz)
			copy(sec, data[off:])
			sectors = append(sectors, sec)
			id := len(sectors) - 1
			sat[id] = int32(id + 1)
		}
		sat[len(sectors)-1] = -2
		return first
	}

	ssatFirst, ssatCount := int32(-2), 0
	rootStart, rootSize := int32(-2), 0
	streamStart := int32(-2)
	if short {
		nShort := (len(stream) + sssz - 1) / sssz
		ssat := make([]byte, 0, ssz)
		for i := 0; i < ssz/4; i++ {
			next := int32(-1)
			switch {
			case i < nShort-1:
				next = int32(i + 1)
			case i == nShort-1:
				next = -2
			}
			ssat = binary.LittleEndian.AppendUint32(ssat, uint32(next))
		}
		ssatFirst, ssatCount = chain(ssat), 1
		mini := make([]byte, nShort*sssz)
		copy(mini, stream)
		rootStart, rootSize = chain(mini), len(mini)
		streamStart = 0
	} else {
		streamStart = chain(stream)
	}

	dir := cat(
		dirEntry("Root Entry", DirRoot, rootStart, uint32(rootSize), 1),
		dirEntry(streamName, DirStream, streamStart, uint32(len(stream)), -1),
		make([]byte, 256),
	)
	sectors[1] = dir

	satSector := make([]byte, 0, ssz)
	for _, v := range sat {
		satSector = binary.LittleEndian.AppendUint32(satSector, uint32(v))
	}
	sectors[0] = satSector

	header := make([]byte, 512)
	copy(header, XLS_SIGNATURE)
	binary.LittleEndian.PutUint16(header[0x18:], 0x3e)
	binary.LittleEndian.PutUint16(header[0x1a:], 3)
	binary.LittleEndian.PutUint16(header[0x1c:], 0xfffe)
	binary.LittleEndian.PutUint16(header[cdSectorSizePos:], 9)
	binary.LittleEndian.PutUint16(header[cdShortSectorSizePos:], 6)
	binary.LittleEndian.PutUint32(header[cdSATCountPos:], 1)
	binary.LittleEndian.PutUint32(header[cdDirFirstPos:], 1)
	binary.LittleEndian.PutUint32(header[cdMinStreamSizePos:], minStream)
	binary.LittleEndian.PutUint32(header[cdSSATFirstPos:], uint32(ssatFirst))
	binary.LittleEndian.PutUint32(header[cdSSATCountPos:], uint32(ssatCount))
	binary.LittleEndian.PutUint32(header[cdMSATFirstPos:], 0xfffffffe)
	binary.LittleEndian.PutUint32(header[cdMSATCountPos:], 0)
	for i := 0; i < cdHeaderMSATEntries; i++ {
		v := uint32(0xffffffff)
		if i == 0 {
			v = 0
		}
		binary.LittleEndian.PutUint32(header[cdMSATPos+4*i:], v)
	}

	return cat(header, bytes.Join(sectors, nil))
}

// wideCompoundFile stores stream in the standard area of a document whose
// allocation table spans satSectors sectors. The first 109 are listed in the
// header, the rest in extra master sectors placed before the directory.
func wideCompoundFile(streamName string, stream []byte, satSectors int) []byte {
	const ssz = 512
	const perBlock = ssz/4 - 1

	msatBlocks := 0
	if satSectors > cdHeaderMSATEntries {
		msatBlocks = (satSectors - cdHeaderMSATEntries + perBlock - 1) / perBlock
	}
	dirID := satSectors + msatBlocks
	streamID := dirID + 1
	streamSectors := (len(stream) + ssz - 1) / ssz

	sat := make([]int32, satSectors*ssz/4)
	for i := range sat {
		sat[i] = -1
	}
	for i := 0; i < satSectors; i++ {
		sat[i] = -3
	}
	for i := 0; i < msatBlocks; i++ {
		sat[satSectors+i] = -4
	}
	sat[dirID] = -2
	for i := 0; i < streamSectors; i++ {
		sat[streamID+i] = int32(streamID + i + 1)
	}
	sat[streamID+streamSectors-1] = -2

	var sectors []byte
	for _, v := range sat {
		sectors = binary.LittleEndian.AppendUint32(sectors, uint32(v))
	}
	listed := cdHeaderMSATEntries
	for b := 0; b < msatBlocks; b++ {
		for i := 0; i < perBlock; i++ {
			id := uint32(0xffffffff)
			if listed < satSectors {
				id = uint32(listed)
				listed++
			}
			sectors = binary.LittleEndian.AppendUint32(sectors, id)
		}
		link := uint32(0xfffffffe)
		if b < msatBlocks-1 {
			link = uint32(satSectors + b + 1)
		}
		sectors = binary.LittleEndian.AppendUint32(sectors, link)
	}
	sectors = append(sectors, cat(
		dirEntry("Root Entry", DirRoot, -2, 0, 1),
		dirEntry(streamName, DirStream, int32(streamID), uint32(len(stream)), -1),
		make([]byte, 256),
	)...)
	data := make([]byte, streamSectors*ssz)
	copy(data, stream)
	sectors = append(sectors, data...)

	header := make([]byte, 512)
	copy(header, XLS_SIGNATURE)
	binary.LittleEndian.PutUint16(header[0x18:], 0x3e)
	binary.LittleEndian.PutUint16(header[0x1a:], 3)
	binary.LittleEndian.PutUint16(header[0x1c:], 0xfffe)
	binary.LittleEndian.PutUint16(header[cdSectorSizePos:], 9)
	binary.LittleEndian.PutUint16(header[cdShortSectorSizePos:], 6)
	binary.LittleEndian.PutUint32(header[cdSATCountPos:], uint32(satSectors))
	binary.LittleEndian.PutUint32(header[cdDirFirstPos:], uint32(dirID))
	binary.LittleEndian.PutUint32(header[cdMinStreamSizePos:], 4096)
	binary.LittleEndian.PutUint32(header[cdSSATFirstPos:], 0xfffffffe)
	binary.LittleEndian.PutUint32(header[cdSSATCountPos:], 0)
	msatFirst := uint32(0xfffffffe)
	if msatBlocks > 0 {
		msatFirst = uint32(satSectors)
	}
	binary.LittleEndian.PutUint32(header[cdMSATFirstPos:], msatFirst)
	binary.LittleEndian.PutUint32(header[cdMSATCountPos:], uint32(msatBlocks))
	for i := 0; i < cdHeaderMSATEntries; i++ {
		v := uint32(0xffffffff)
		if i < satSectors {
			v = uint32(i)
		}
		binary.LittleEndian.PutUint32(header[cdMSATPos+4*i:], v)
	}
	return cat(header, sectors)
}

func dirEntry(name string, kind byte, start int32, size uint32, child int32) []byte {
	e := make([]byte, cdDirEntrySize)
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		binary.LittleEndian.PutUint16(e[2*i:], u)
	}
	binary.LittleEndian.PutUint16(e[cdDirNameSizePos:], uint16(2*(len(units)+1)))
	e[cdDirTypePos] = kind
	binary.LittleEndian.PutUint32(e[0x44:], 0xffffffff)
	binary.LittleEndian.PutUint32(e[0x48:], 0xffffffff)
	binary.LittleEndian.PutUint32(e[0x4c:], uint32(child))
	binary.LittleEndian.PutUint32(e[cdDirStartPos:], uint32(start))
	binary.LittleEndian.PutUint32(e[cdDirSizePos:], size)
	return e
}

// padStream grows a workbook stream past the short-stream limit. Bytes after
// the last EOF are never read.
func padStream(stream []byte, size int) []byte {
	if len(stream) >= size {
		return stream
	}
	return append(stream, make([]byte, size-len(stream))...)
}

// titleDescBook is the 2 x 3 sheet used across the decoders.
func titleDescBook() testBook {
	return testBook{
		codepage: 1200,
		xfs:      []int{0},
		sst:      []string{"Title1", "Title2", "Title3", "Desc1", "Desc2", "Desc3"},
		sheets: []testSheet{{
			name: "Sheet1",
			rows: 2,
			cols: 3,
			cells: []testRecord{
				sstCell(0, 0, 0, 0), sstCell(0, 1, 0, 1), sstCell(0, 2, 0, 2),
				sstCell(1, 0, 0, 3), sstCell(1, 1, 0, 4), sstCell(1, 2, 0, 5),
			},
		}},
	}
}
