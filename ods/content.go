package ods

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/yamitzky/sheetread/sheet"
	"github.com/yamitzky/sheetread/style"
)

// OpenDocument namespaces.
const (
	nsOffice = "urn:oasis:names:tc:opendocument:xmlns:office:1.0"
	nsTable  = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"
	nsText   = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
)

func is(name xml.Name, space, local string) bool {
	return name.Space == space && name.Local == local
}

func attr(el xml.StartElement, space, local string) string {
	for _, a := range el.Attr {
		if is(a.Name, space, local) {
			return a.Value
		}
	}
	return ""
}

// repeat reads a number-*-repeated attribute, capped at limit.
func repeat(el xml.StartElement, local string, limit int) int {
	n, err := strconv.Atoi(attr(el, nsTable, local))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, limit)
}

// row is one table-row element, standing for count identical rows.
type row struct {
	cells []sheet.Cell // Row fields are filled when the row is emitted
	count int
}

// width returns one more than the last column holding a cell.
func (r row) width() int {
	if len(r.cells) == 0 {
		return 0
	}
	return r.cells[len(r.cells)-1].Column + 1
}

// contentReader walks the tables of content.xml token by token.
type contentReader struct {
	dec   *xml.Decoder
	depth int // element depth below the current table
}

func newContentReader(r io.Reader) *contentReader {
	return &contentReader{dec: xml.NewDecoder(r)}
}

// nextTable advances past the next table start element and returns its
// name. io.EOF reports that no table is left.
func (cr *contentReader) nextTable() (string, error) {
	for {
		tok, err := cr.dec.Token()
		if err != nil {
			return "", err
		}
		if el, ok := tok.(xml.StartElement); ok && is(el.Name, nsTable, "table") {
			cr.depth = 0
			return attr(el, nsTable, "name"), nil
		}
	}
}

// nextRow reads the next row of the current table. ok is false once the
// table ends.
func (cr *contentReader) nextRow() (r row, ok bool, err error) {
	for {
		tok, err := cr.dec.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return row{}, false, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if is(el.Name, nsTable, "table-row") {
				r, err := cr.readRow(el)
				return r, err == nil, err
			}
			if is(el.Name, nsTable, "table") {
				// nested tables inside shapes are not data
				if err := cr.dec.Skip(); err != nil {
					return row{}, false, err
				}
				continue
			}
			cr.depth++
		case xml.EndElement:
			if cr.depth == 0 && is(el.Name, nsTable, "table") {
				return row{}, false, nil
			}
			cr.depth--
		}
	}
}

// readRow decodes the cells of a table-row element.
func (cr *contentReader) readRow(start xml.StartElement) (row, error) {
	r := row{count: repeat(start, "number-rows-repeated", 1<<20)}
	col := 0
	for {
		tok, err := cr.dec.Token()
		if err != nil {
			return row{}, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if !is(el.Name, nsTable, "table-cell") && !is(el.Name, nsTable, "covered-table-cell") {
				if err := cr.dec.Skip(); err != nil {
					return row{}, err
				}
				continue
			}
			n := repeat(el, "number-columns-repeated", sheet.MaxColumns-col)
			c, err := cr.readCell(el)
			if err != nil {
				return row{}, err
			}
			if c.Type != sheet.CellEmpty {
				for k := 0; k < n && col+k < sheet.MaxColumns; k++ {
					c.Column = col + k
					r.cells = append(r.cells, c)
				}
			}
			col += n
		case xml.EndElement:
			return r, nil
		}
	}
}

// readCell decodes one cell element and its paragraphs.
func (cr *contentReader) readCell(start xml.StartElement) (sheet.Cell, error) {
	var paragraphs []string
	var text strings.Builder
	inParagraph := false
	depth := 0
	for depth >= 0 {
		tok, err := cr.dec.Token()
		if err != nil {
			return sheet.Cell{}, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case is(el.Name, nsText, "p") || is(el.Name, nsText, "h"):
				if depth == 1 {
					inParagraph = true
					text.Reset()
				}
			case is(el.Name, nsText, "s"):
				text.WriteString(strings.Repeat(" ", repeatSpaces(el)))
			case is(el.Name, nsText, "tab"):
				text.WriteByte('\t')
			case is(el.Name, nsText, "line-break"):
				text.WriteByte('\n')
			case is(el.Name, nsOffice, "annotation"):
				if err := cr.dec.Skip(); err != nil {
					return sheet.Cell{}, err
				}
				depth--
			}
		case xml.CharData:
			if inParagraph {
				text.Write(el)
			}
		case xml.EndElement:
			if depth == 1 && inParagraph {
				paragraphs = append(paragraphs, text.String())
				inParagraph = false
			}
			depth--
		}
	}
	return decodeCell(start, strings.Join(paragraphs, "\n")), nil
}

func repeatSpaces(el xml.StartElement) int {
	n, err := strconv.Atoi(attr(el, nsText, "c"))
	if err != nil || n < 1 {
		return 1
	}
	return min(n, 1024)
}

// decodeCell types a cell by its office:value-type. Dates and times become
// serial numbers in the 1900 system.
func decodeCell(el xml.StartElement, display string) sheet.Cell {
	c := sheet.NewCell(0, 0)
	c.Formatted = display
	if f := attr(el, nsTable, "formula"); f != "" {
		if _, rest, ok := strings.Cut(f, ":="); ok {
			f = "=" + rest
		}
		c.Formula = f
	}

	switch attr(el, nsOffice, "value-type") {
	case "float", "percentage", "currency":
		if v, err := strconv.ParseFloat(attr(el, nsOffice, "value"), 64); err == nil {
			c.Type, c.Value = sheet.CellNumber, v
			return c
		}
	case "boolean":
		v := attr(el, nsOffice, "boolean-value")
		c.Type, c.Value = sheet.CellBoolean, v == "true" || v == "1"
		if c.Formatted == "" {
			c.Formatted = sheet.Stringify(c.Value)
		}
		return c
	case "date":
		if t, ok := parseDate(attr(el, nsOffice, "date-value")); ok {
			c.Type, c.Value = sheet.CellNumber, style.TimeToSerial(t, false)
			return c
		}
	case "time":
		if d, ok := parseDuration(attr(el, nsOffice, "time-value")); ok {
			c.Type, c.Value = sheet.CellNumber, d.Hours()/24
			return c
		}
	case "string":
		if v := attr(el, nsOffice, "string-value"); v != "" {
			c.Type, c.Value = sheet.CellText, v
			return c
		}
	}
	if display == "" {
		return c
	}
	c.Type, c.Value = sheet.CellText, display
	return c
}

var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseDuration reads an ISO 8601 duration such as PT12H30M15S.
func parseDuration(s string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(s, "PT")
	if !ok || rest == "" {
		return 0, false
	}
	// time.ParseDuration knows h, m and s units
	d, err := time.ParseDuration(strings.ToLower(rest))
	if err != nil {
		return 0, false
	}
	return d, true
}
