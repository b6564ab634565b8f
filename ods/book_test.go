package ods

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamitzky/sheetread/sheet"
)

const documentHead = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content
  xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"
  office:version="1.2"><office:body><office:spreadsheet>`

const documentTail = `</office:spreadsheet></office:body></office:document-content>`

// pkg zips a content part made of the given tables.
func pkg(t *testing.T, tables ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("mimetype")
	require.NoError(t, err)
	_, err = w.Write([]byte("application/vnd.oasis.opendocument.spreadsheet"))
	require.NoError(t, err)
	w, err = zw.Create("content.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentHead + strings.Join(tables, "") + documentTail))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func table(name string, rows ...string) string {
	return `<table:table table:name="` + name + `"><table:table-column table:number-columns-repeated="3"/>` +
		strings.Join(rows, "") + `</table:table>`
}

func textRow(values ...string) string {
	var b strings.Builder
	b.WriteString("<table:table-row>")
	for _, v := range values {
		b.WriteString(`<table:table-cell office:value-type="string"><text:p>` + v + `</text:p></table:table-cell>`)
	}
	b.WriteString("</table:table-row>")
	return b.String()
}

// trailer is the padding office suites append after the data.
const trailer = `<table:table-row table:number-rows-repeated="1048574"><table:table-cell table:number-columns-repeated="1024"/></table:table-row>`

func titleDesc(t *testing.T) []byte {
	return pkg(t, table("Sheet1",
		textRow("Title1", "Title2", "Title3"),
		textRow("Desc1", "Desc2", "Desc3"),
		trailer,
	))
}

func readAll(t *testing.T, src sheet.RowSource) [][]string {
	t.Helper()
	var out [][]string
	for row, err := range sheet.Rows(src) {
		require.NoError(t, err)
		out = append(out, row.Strings())
	}
	return out
}

func TestOpenTitleDesc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titles.ods")
	require.NoError(t, os.WriteFile(path, titleDesc(t), 0o644))

	bk, err := Open(path, nil)
	require.NoError(t, err)
	defer bk.Close()

	infos := bk.Sheets()
	require.Len(t, infos, 1)
	assert.Equal(t, "Sheet1", infos[0].Name)
	assert.Equal(t, 2, infos[0].TotalRows)
	assert.Equal(t, 3, infos[0].TotalColumns)
	assert.Equal(t, 2, infos[0].LastColumnIndex)
	assert.Equal(t, "C", infos[0].LastColumnLetter)

	src, err := bk.RowSourceByName("Sheet1", 1, 0)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 2, src.Len())
	assert.Equal(t, [][]string{
		{"Title1", "Title2", "Title3"},
		{"Desc1", "Desc2", "Desc3"},
	}, readAll(t, src))
}

func TestCellValues(t *testing.T) {
	row := `<table:table-row>` +
		`<table:table-cell office:value-type="float" office:value="1234.5"><text:p>1,234.50</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="percentage" office:value="0.125"><text:p>12.50%</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="date" office:date-value="2020-01-01"><text:p>01/01/20</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="time" office:time-value="PT12H00M00S"><text:p>12:00</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="boolean" office:boolean-value="true"><text:p>TRUE</text:p></table:table-cell>` +
		`<table:table-cell table:formula="of:=[.A1]*2" office:value-type="float" office:value="2469"><text:p>2469</text:p></table:table-cell>` +
		`<table:table-cell office:value-type="string"><text:p>two<text:s text:c="2"/>spaces</text:p><text:p>second <text:span>line</text:span></text:p></table:table-cell>` +
		`<table:table-cell office:value-type="string"><office:annotation><text:p>note</text:p></office:annotation><text:p>annotated</text:p></table:table-cell>` +
		`</table:table-row>`
	bk, err := OpenContents(pkg(t, table("Values", row)), nil)
	require.NoError(t, err)

	src, err := bk.RowSourceByIndex(0, 1, 0)
	require.NoError(t, err)
	require.True(t, src.Next())
	r := src.Row()

	assert.Equal(t, 1234.5, r.Value(0))
	assert.Equal(t, "1,234.50", r.Formatted(0))
	assert.Equal(t, 0.125, r.Value(1))
	assert.Equal(t, "12.50%", r.Formatted(1))
	assert.Equal(t, 43831.0, r.Value(2))
	assert.Equal(t, 0.5, r.Value(3))
	assert.Equal(t, true, r.Value(4))
	assert.Equal(t, "=[.A1]*2", r.Formula(5))
	assert.Equal(t, "two  spaces\nsecond line", r.Value(6))
	assert.Equal(t, "annotated", r.Value(7))

	c, ok := r.Cell(4)
	require.True(t, ok)
	assert.Equal(t, sheet.CellBoolean, c.Type)
	assert.Equal(t, 0, c.Row)
	assert.False(t, src.Next())
}

func TestRepeatedRowsAndColumns(t *testing.T) {
	rows := []string{
		`<table:table-row table:number-rows-repeated="2">` +
			`<table:table-cell office:value-type="float" office:value="7" table:number-columns-repeated="3"><text:p>7</text:p></table:table-cell>` +
			`</table:table-row>`,
		`<table:table-row table:number-rows-repeated="2"><table:table-cell table:number-columns-repeated="4"/></table:table-row>`,
		`<table:table-row><table:table-cell table:number-columns-repeated="2"/>` +
			`<table:covered-table-cell/>` +
			`<table:table-cell office:value-type="string"><text:p>x</text:p></table:table-cell></table:table-row>`,
		trailer,
	}
	bk, err := OpenContents(pkg(t, table("Repeat", rows...)), nil)
	require.NoError(t, err)

	info := bk.Sheets()[0]
	assert.Equal(t, 5, info.TotalRows)
	assert.Equal(t, 4, info.TotalColumns)
	assert.Equal(t, "D", info.LastColumnLetter)

	src, err := bk.RowSourceByIndex(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"7", "7", "7"},
		{"7", "7", "7"},
		{},
		{},
		{"", "", "", "x"},
	}, readAll(t, src))

	require.NoError(t, src.Seek(2))
	require.True(t, src.Next())
	assert.Equal(t, 2, src.Row().Index)
	assert.Equal(t, 7.0, src.Row().Value(2))

	src, err = bk.RowSourceByIndex(0, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	assert.Equal(t, [][]string{{"", "", "", "x"}, {}}, readAll(t, src))
}

func TestSeveralTables(t *testing.T) {
	rowGroup := `<table:table-row-group>` + textRow("grouped") + `</table:table-row-group>`
	content := pkg(t,
		table("First", textRow("a")),
		table("Second", rowGroup, textRow("after")),
		table("Empty"),
	)
	bk, err := OpenContents(content, nil)
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, info := range bk.Sheets() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"First", "Second", "Empty"}, names)
	assert.Equal(t, 2, bk.Sheets()[1].TotalRows)
	assert.Equal(t, 0, bk.Sheets()[2].TotalRows)
	assert.Equal(t, "", bk.Sheets()[2].LastColumnLetter)

	src, err := bk.RowSourceByName("Second", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"grouped"}, {"after"}}, readAll(t, src))

	_, err = bk.RowSourceByIndex(3, 1, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	_, err = bk.RowSourceByName("Third", 1, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)

	require.NoError(t, bk.Close())
	_, err = bk.RowSourceByIndex(0, 1, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	require.NoError(t, src.Seek(2))
	require.True(t, src.Next())
	assert.Equal(t, "after", src.Row().Value(0))
}

func TestOpenErrors(t *testing.T) {
	_, err := OpenContents(nil, nil)
	assert.ErrorIs(t, err, sheet.ErrBadFile)

	_, err = OpenContents([]byte("a,b\n"), nil)
	assert.ErrorIs(t, err, sheet.ErrBadFile)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err = zw.Create("styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	_, err = OpenContents(buf.Bytes(), nil)
	assert.ErrorIs(t, err, sheet.ErrBadFile)
	assert.Contains(t, err.Error(), "missing content.xml")

	broken := pkg(t, `<table:table table:name="Broken"><table:table-row>`)
	_, err = OpenContents(broken, nil)
	assert.ErrorIs(t, err, sheet.ErrBadFile)

	_, err = Open(filepath.Join(t.TempDir(), "missing.ods"), nil)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "titles.ods")
	require.NoError(t, os.WriteFile(path, pkg(t, table("One", textRow("a")), table("Two")), 0o644))
	r := Reader{}

	assert.True(t, r.IsReadable(path))
	names, err := r.ListSheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two"}, names)

	infos, err := r.ListSheetInfo(path)
	require.NoError(t, err)
	assert.Equal(t, []sheet.Info{sheet.NewInfo("One", 1, 1), sheet.NewInfo("Two", 0, 0)}, infos)

	text := filepath.Join(dir, "plain.ods")
	require.NoError(t, os.WriteFile(text, []byte("plain"), 0o644))
	assert.False(t, r.IsReadable(text))
	_, err = r.ListSheetNames(text)
	assert.ErrorIs(t, err, sheet.ErrBadFile)
}
