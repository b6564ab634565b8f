package xlrd

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"

	"github.com/yamitzky/sheetread/sheet"
)

// BIFF version constants
const (
	BIFF_VERSION_5 = 50
	BIFF_VERSION_7 = 70
	BIFF_VERSION_8 = 80

	BIFF_FIRST_UNICODE = BIFF_VERSION_8
)

var biffTextFromNum = map[int]string{
	0:  "(not BIFF)",
	50: "5",
	70: "7",
	80: "8",
}

// BiffTextFromNum returns a text representation of a BIFF version number.
func BiffTextFromNum(num int) string {
	if text, ok := biffTextFromNum[num]; ok {
		return text
	}
	return fmt.Sprintf("Unknown(%d)", num)
}

// ErrorTextFromCode maps BOOLERR and FORMULA error bytes to their text.
var ErrorTextFromCode = map[byte]string{
	0x00: "#NULL!",  // Intersection of two cell ranges is empty
	0x07: "#DIV/0!", // Division by zero
	0x0F: "#VALUE!", // Wrong type of operand
	0x17: "#REF!",   // Illegal or deleted cell reference
	0x1D: "#NAME?",  // Wrong function or range name
	0x24: "#NUM!",   // Value range overflow
	0x2A: "#N/A",    // Argument or function not available
}

func errorText(code byte) string {
	if text, ok := ErrorTextFromCode[code]; ok {
		return text
	}
	return fmt.Sprintf("#ERR%d!", code)
}

// Substream types found in BOF records
const (
	XL_WORKBOOK_GLOBALS = 0x5
	XL_WORKSHEET        = 0x10
	XL_WORKSPACE        = 0x100

	XL_BOUNDSHEET_WORKSHEET = 0x00
	XL_BOUNDSHEET_CHART     = 0x02
	XL_BOUNDSHEET_VB_MODULE = 0x06
)

// BIFF record opcodes
const (
	XL_ARRAY       = 0x0221
	XL_BLANK       = 0x0201
	XL_BOF         = 0x0809
	XL_BOOLERR     = 0x0205
	XL_BOUNDSHEET  = 0x0085
	XL_CODEPAGE    = 0x0042
	XL_CONTINUE    = 0x003c
	XL_DATEMODE    = 0x0022
	XL_DBCELL      = 0x00d7
	XL_DIMENSION   = 0x0200
	XL_EOF         = 0x000a
	XL_FILEPASS    = 0x002f
	XL_FORMAT      = 0x041e
	XL_FORMULA     = 0x0006
	XL_FORMULA4    = 0x0406
	XL_HLINK       = 0x01b8
	XL_LABEL       = 0x0204
	XL_LABELSST    = 0x00fd
	XL_MERGEDCELLS = 0x00e5
	XL_MULBLANK    = 0x00be
	XL_MULRK       = 0x00bd
	XL_NUMBER      = 0x0203
	XL_RK          = 0x027e
	XL_RK2         = 0x007e
	XL_ROW         = 0x0208
	XL_RSTRING     = 0x00d6
	XL_SHRFMLA     = 0x04bc
	XL_SST         = 0x00fc
	XL_STRING      = 0x0207
	XL_TABLEOP     = 0x0236
	XL_TABLEOP2    = 0x0037
	XL_XF          = 0x00e0
)

var cellOpcodeSet = map[uint16]bool{
	XL_BLANK:    true,
	XL_BOOLERR:  true,
	XL_FORMULA:  true,
	XL_FORMULA4: true,
	XL_LABEL:    true,
	XL_LABELSST: true,
	XL_MULBLANK: true,
	XL_MULRK:    true,
	XL_NUMBER:   true,
	XL_RK:       true,
	XL_RK2:      true,
	XL_RSTRING:  true,
}

// IsCellOpcode reports whether records with this opcode start with a row
// and column pair.
func IsCellOpcode(c uint16) bool {
	return cellOpcodeSet[c]
}

// skippedFeatures names the record kinds that are recognized but not decoded.
var skippedFeatures = map[uint16]string{
	XL_ARRAY:       "array formula",
	XL_SHRFMLA:     "shared formula",
	XL_TABLEOP:     "data table",
	XL_TABLEOP2:    "data table",
	XL_MERGEDCELLS: "merged cells",
	XL_HLINK:       "hyperlink",
}

// DefaultCodepage is used when a file has no CODEPAGE record or names one
// without a decoder.
const DefaultCodepage = 1252

// EncodingFromCodepage maps CODEPAGE record values to decoders.
var EncodingFromCodepage = map[int]encoding.Encoding{
	367:   charmap.Windows1252, // ASCII
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	855:   charmap.CodePage855,
	858:   charmap.CodePage858,
	860:   charmap.CodePage860,
	862:   charmap.CodePage862,
	863:   charmap.CodePage863,
	865:   charmap.CodePage865,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1200:  unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	32768: charmap.Macintosh,
	32769: charmap.Windows1252,
	65001: unicode.UTF8,
}

// encodingForCodepage returns the decoder for a codepage, falling back to
// CP1252.
func encodingForCodepage(codepage int) encoding.Encoding {
	if enc, ok := EncodingFromCodepage[codepage]; ok {
		return enc
	}
	return EncodingFromCodepage[DefaultCodepage]
}

// lookupEncoding resolves an encoding override such as "cp1251",
// "windows-1251" or "shift_jis".
func lookupEncoding(name string) (encoding.Encoding, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if rest, ok := strings.CutPrefix(lower, "cp"); ok {
		var cp int
		if _, err := fmt.Sscanf(rest, "%d", &cp); err == nil {
			if enc, ok := EncodingFromCodepage[cp]; ok {
				return enc, nil
			}
		}
	}
	enc, err := htmlindex.Get(lower)
	if err != nil {
		return nil, sheet.NewLookupError("unknown encoding %q", name)
	}
	return enc, nil
}
