package csvfile

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"

	"github.com/yamitzky/sheetread/sheet"
)

// Encoding names returned by DetectEncoding.
const (
	UTF8    = "UTF-8"
	UTF16BE = "UTF-16BE"
	UTF16LE = "UTF-16LE"
	UTF32BE = "UTF-32BE"
	UTF32LE = "UTF-32LE"

	// DefaultFallbackEncoding is used when nothing else matches.
	DefaultFallbackEncoding = "CP1252"

	// minConfidence is the lowest statistical detector score accepted.
	minConfidence = 50
)

// Byte-order marks in test order. UTF-32LE must be tried before UTF-16LE,
// whose mark is its prefix.
var boms = []struct {
	mark     []byte
	encoding string
}{
	{[]byte{0xEF, 0xBB, 0xBF}, UTF8},
	{[]byte{0xFE, 0xFF}, UTF16BE},
	{[]byte{0x00, 0x00, 0xFE, 0xFF}, UTF32BE},
	{[]byte{0xFF, 0xFE, 0x00, 0x00}, UTF32LE},
	{[]byte{0xFF, 0xFE}, UTF16LE},
}

// Line feeds of the wide encodings.
var lineFeeds = []struct {
	pattern  []byte
	encoding string
}{
	{[]byte{0x00, 0x00, 0x00, 0x0A}, UTF32BE},
	{[]byte{0x0A, 0x00, 0x00, 0x00}, UTF32LE},
	{[]byte{0x00, 0x0A}, UTF16BE},
	{[]byte{0x0A, 0x00}, UTF16LE},
}

// bomEncoding returns the encoding announced by a leading byte-order mark
// and the length of the mark.
func bomEncoding(content []byte) (string, int) {
	for _, b := range boms {
		if bytes.HasPrefix(content, b.mark) {
			return b.encoding, len(b.mark)
		}
	}
	return "", 0
}

// DetectEncoding guesses the character encoding of delimited text. It tries,
// in order: a byte-order mark, the first line feed of a wide encoding found at
// an offset aligned to its width, UTF-8 validity, a <meta charset> declaration,
// statistical detection, and finally fallback (DefaultFallbackEncoding if
// empty).
func DetectEncoding(content []byte, fallback string) string {
	if enc, _ := bomEncoding(content); enc != "" {
		return enc
	}
	for _, lf := range lineFeeds {
		if pos := bytes.Index(content, lf.pattern); pos >= 0 && pos%len(lf.pattern) == 0 {
			return lf.encoding
		}
	}
	if utf8.Valid(content) {
		return UTF8
	}
	if name := declaredCharset(content); name != "" {
		return name
	}
	if name := detectCharset(content); name != "" {
		return name
	}
	if fallback == "" {
		return DefaultFallbackEncoding
	}
	return fallback
}

// declaredCharset returns the charset named by a <meta> tag near the top of
// content. The HTML prescan answers windows-1252 or utf-8 when it finds none.
func declaredCharset(content []byte) string {
	_, name, _ := charset.DetermineEncoding(content, "text/html")
	switch name {
	case "windows-1252", "utf-8", "replacement":
		return ""
	}
	return name
}

// detectCharset runs the statistical detector and returns its best guess if
// it is confident and the name resolves.
func detectCharset(content []byte) string {
	best, err := chardet.NewTextDetector().DetectBest(content)
	if err != nil || best.Confidence < minConfidence {
		return ""
	}
	name := best.Charset
	if name == "GB-18030" {
		name = "GB18030"
	}
	if _, err := LookupEncoding(name); err != nil {
		return ""
	}
	return name
}

// LookupEncoding resolves an encoding name. Besides the wide Unicode forms it
// accepts WHATWG labels ("cp1252", "shift_jis") and IANA names.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case UTF8, "UTF8":
		return unicode.UTF8, nil
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case UTF32BE:
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), nil
	case UTF32LE:
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, sheet.NewLookupError("unknown encoding %q", name)
}

// toUTF8 strips a byte-order mark and transcodes content from the named
// encoding.
func toUTF8(content []byte, name string) ([]byte, error) {
	if bom, n := bomEncoding(content); n > 0 && strings.EqualFold(bom, strings.TrimSpace(name)) {
		content = content[n:]
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return content, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), content)
	if err != nil {
		return nil, &sheet.EncodingError{Encoding: name, Err: err}
	}
	return out, nil
}
