package xlrd

import (
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/yamitzky/sheetread/sheet"
)

// Record header: 2-byte opcode, 2-byte length.
const recordHeaderSize = 4

// record is one BIFF record. pos is the stream offset of the record's data,
// just past its header.
type record struct {
	code uint16
	pos  int
	data []byte
}

// readRecord decodes the record whose header starts at pos and returns it
// together with the offset of the next header.
func readRecord(stream []byte, pos int) (record, int, error) {
	if pos+recordHeaderSize > len(stream) {
		return record{}, pos, sheet.NewStructuralError("truncated record header at offset %d", pos)
	}
	code := binary.LittleEndian.Uint16(stream[pos:])
	length := int(binary.LittleEndian.Uint16(stream[pos+2:]))
	start := pos + recordHeaderSize
	if start+length > len(stream) {
		return record{}, pos, sheet.NewStructuralError("record 0x%04x at offset %d claims %d bytes, %d available",
			code, pos, length, len(stream)-start)
	}
	return record{code: code, pos: start, data: stream[start : start+length]}, start + length, nil
}

func le16(data []byte, pos int) int {
	if pos+2 > len(data) {
		return 0
	}
	return int(binary.LittleEndian.Uint16(data[pos:]))
}

func le32(data []byte, pos int) uint32 {
	if pos+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[pos:])
}

func float64At(data []byte, pos int) float64 {
	if pos+8 > len(data) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
}

// decodeRK unpacks an RK number: a 30-bit integer or the upper 30 bits of a
// double, optionally scaled by 1/100.
func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&^3) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

var (
	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	latin1  = charmap.ISO8859_1
)

func decodeUTF16LE(b []byte) (string, error) {
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeLatin1(b []byte) string {
	out, _ := latin1.NewDecoder().Bytes(b)
	return string(out)
}

// unpackString reads a BIFF5 byte string with a lenlen-byte character count,
// decoding through enc.
func unpackString(data []byte, pos, lenlen int, enc encoding.Encoding) (string, int, error) {
	if pos+lenlen > len(data) {
		return "", pos, sheet.NewStructuralError("truncated string length at offset %d", pos)
	}
	n := int(data[pos])
	if lenlen == 2 {
		n = le16(data, pos)
	}
	pos += lenlen
	if pos+n > len(data) {
		return "", pos, sheet.NewStructuralError("string of %d bytes overruns record", n)
	}
	out, err := enc.NewDecoder().Bytes(data[pos : pos+n])
	if err != nil {
		return "", pos, &sheet.EncodingError{Encoding: "codepage string", Err: err}
	}
	return string(out), pos + n, nil
}

// unpackUnicode reads a BIFF8 unicode string: a lenlen-byte character count,
// an option byte, optional rich-text and phonetic sizes, the characters, and
// the rich-text and phonetic blocks it then skips.
func unpackUnicode(data []byte, pos, lenlen int) (string, int, error) {
	if pos+lenlen+1 > len(data) {
		if pos+lenlen == len(data) && lenlen == 2 && le16(data, pos) == 0 {
			return "", pos + lenlen, nil
		}
		return "", pos, sheet.NewStructuralError("truncated unicode string header at offset %d", pos)
	}
	n := int(data[pos])
	if lenlen == 2 {
		n = le16(data, pos)
	}
	pos += lenlen
	options := data[pos]
	pos++

	var runs, phonetic int
	if options&0x08 != 0 {
		runs = le16(data, pos)
		pos += 2
	}
	if options&0x04 != 0 {
		phonetic = int(le32(data, pos))
		pos += 4
	}

	var s string
	if options&0x01 != 0 {
		if pos+2*n > len(data) {
			return "", pos, sheet.NewStructuralError("UTF-16 string of %d characters overruns record", n)
		}
		var err error
		if s, err = decodeUTF16LE(data[pos : pos+2*n]); err != nil {
			return "", pos, &sheet.EncodingError{Encoding: "UTF-16LE", Err: err}
		}
		pos += 2 * n
	} else {
		if pos+n > len(data) {
			return "", pos, sheet.NewStructuralError("compressed string of %d characters overruns record", n)
		}
		s = decodeLatin1(data[pos : pos+n])
		pos += n
	}
	return s, pos + 4*runs + phonetic, nil
}

// sstReader walks the shared-string table across an SST record and the
// CONTINUE records after it.
type sstReader struct {
	segments [][]byte
	seg      int
	pos      int
}

func newSSTReader(segments [][]byte) *sstReader {
	return &sstReader{segments: segments}
}

// remaining returns the unread bytes of the current segment, moving to the
// next segment when the current one is exhausted.
func (r *sstReader) remaining() []byte {
	for r.seg < len(r.segments) && r.pos >= len(r.segments[r.seg]) {
		r.seg++
		r.pos = 0
	}
	if r.seg >= len(r.segments) {
		return nil
	}
	return r.segments[r.seg][r.pos:]
}

// take consumes n bytes that may span segments. Header fields never restate
// flags, so this is only used for fixed-size fields and skipped blocks.
func (r *sstReader) take(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		rest := r.remaining()
		if rest == nil {
			return nil, sheet.NewStructuralError("shared string table truncated")
		}
		k := min(n-len(out), len(rest))
		out = append(out, rest[:k]...)
		r.pos += k
	}
	return out, nil
}

func (r *sstReader) skip(n int) error {
	_, err := r.take(n)
	return err
}

// next reads one string. When the characters run past the end of a segment,
// the next segment starts with a fresh compression flag. A header that
// starts a segment has no such byte.
func (r *sstReader) next() (string, error) {
	head, err := r.take(3)
	if err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint16(head))
	options := head[2]

	var runs, phonetic int
	if options&0x08 != 0 {
		b, err := r.take(2)
		if err != nil {
			return "", err
		}
		runs = int(binary.LittleEndian.Uint16(b))
	}
	if options&0x04 != 0 {
		b, err := r.take(4)
		if err != nil {
			return "", err
		}
		phonetic = int(binary.LittleEndian.Uint32(b))
	}

	var out []byte
	wide := options&0x01 != 0
	for got := 0; got < n; {
		seg := r.seg
		rest := r.remaining()
		if rest == nil {
			return "", sheet.NewStructuralError("shared string table truncated inside a string")
		}
		if r.seg != seg {
			wide = rest[0]&0x01 != 0
			r.pos++
			rest = rest[1:]
		}
		width := 1
		if wide {
			width = 2
		}
		k := min(n-got, len(rest)/width)
		if k == 0 {
			return "", sheet.NewStructuralError("shared string split inside a character")
		}
		chunk := rest[:k*width]
		if wide {
			s, err := decodeUTF16LE(chunk)
			if err != nil {
				return "", &sheet.EncodingError{Encoding: "UTF-16LE", Err: err}
			}
			out = append(out, s...)
		} else {
			out = append(out, decodeLatin1(chunk)...)
		}
		r.pos += k * width
		got += k
	}

	if err := r.skip(4*runs + phonetic); err != nil {
		return "", err
	}
	return string(out), nil
}
