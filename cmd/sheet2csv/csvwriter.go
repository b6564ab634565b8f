package main

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type quotingMode int

const (
	quotingNone quotingMode = iota
	quotingMinimal
	quotingNonNumeric
	quotingAll
)

var quotingModes = map[string]quotingMode{
	"none":       quotingNone,
	"minimal":    quotingMinimal,
	"nonnumeric": quotingNonNumeric,
	"all":        quotingAll,
}

type field struct {
	text    string
	numeric bool
}

// csvWriter writes records with a configurable quoting policy. encoding/csv
// only knows the minimal policy.
type csvWriter struct {
	w              io.Writer
	delimiter      rune
	lineTerminator string
	quoting        quotingMode
}

func (cw *csvWriter) writeRow(fields []field) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteRune(cw.delimiter)
		}
		if !cw.quoted(f) {
			b.WriteString(f.text)
			continue
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f.text, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString(cw.lineTerminator)
	_, err := io.WriteString(cw.w, b.String())
	return err
}

func (cw *csvWriter) quoted(f field) bool {
	switch cw.quoting {
	case quotingAll:
		return true
	case quotingNonNumeric:
		return !f.numeric
	case quotingMinimal:
		return strings.ContainsRune(f.text, cw.delimiter) || strings.ContainsAny(f.text, "\"\r\n")
	}
	return false
}

// hexByte decodes the xNN notation used for control characters.
func hexByte(value string) (byte, bool, error) {
	if len(value) != 3 || value[0] != 'x' {
		return 0, false, nil
	}
	b, err := strconv.ParseUint(value[1:], 16, 8)
	return byte(b), true, err
}

// parseDelimiter accepts a character, "tab" or xNN.
func parseDelimiter(value string) (rune, error) {
	if value == "" {
		return 0, errors.New("delimiter cannot be empty")
	}
	if strings.EqualFold(value, "tab") {
		return '\t', nil
	}
	if b, ok, err := hexByte(value); ok {
		return rune(b), err
	}
	if r, size := utf8.DecodeRuneInString(value); r != utf8.RuneError || size > 1 {
		return r, nil
	}
	return rune(value[0]), nil
}

func parseSheetDelimiter(value string) (string, error) {
	if value == `\f` {
		return "\f", nil
	}
	if b, ok, err := hexByte(value); ok {
		return string([]byte{b}), err
	}
	return value, nil
}

// parseEscapedString interprets Go escapes such as \r\n.
func parseEscapedString(value string) (string, error) {
	if strings.Contains(value, `"`) {
		return value, nil
	}
	return strconv.Unquote(`"` + value + `"`)
}

func parseQuoting(value string) (quotingMode, error) {
	if q, ok := quotingModes[strings.ToLower(value)]; ok {
		return q, nil
	}
	return quotingMinimal, fmt.Errorf("unsupported quoting: %s", value)
}

func compilePatterns(values []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(values))
	for _, value := range values {
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
}

// strftime supports the common C directives; unknown ones are copied.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		if layout, ok := strftimeLayouts[format[i]]; ok {
			b.WriteString(t.Format(layout))
			continue
		}
		if format[i] != '%' {
			b.WriteByte('%')
		}
		b.WriteByte(format[i])
	}
	return b.String()
}
