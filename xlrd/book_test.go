package xlrd

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamitzky/sheetread/sheet"
)

func openTestBook(t *testing.T, tb testBook, options *Options) *Book {
	t.Helper()
	bk, err := OpenWorkbookContents(compoundFile("Workbook", tb.buildStream()), options)
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })
	return bk
}

// readStrings drains a RowSource into display strings.
func readStrings(t *testing.T, src sheet.RowSource) [][]string {
	t.Helper()
	var out [][]string
	for row, err := range sheet.Rows(src) {
		require.NoError(t, err)
		out = append(out, row.Strings())
	}
	return out
}

func TestOpenTitleDesc(t *testing.T) {
	tests := []struct {
		name  string
		build func() []byte
	}{
		{"short stream", func() []byte {
			return compoundFile("Workbook", titleDescBook().buildStream())
		}},
		{"standard stream", func() []byte {
			return compoundFile("Workbook", padStream(titleDescBook().buildStream(), 6000))
		}},
		{"legacy stream name", func() []byte {
			return compoundFile("Book", titleDescBook().buildStream())
		}},
		{"bare record stream", func() []byte {
			return titleDescBook().buildStream()
		}},
		{"shared strings split across CONTINUE records", func() []byte {
			tb := titleDescBook()
			tb.sstSplit = 5
			return compoundFile("Workbook", tb.buildStream())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bk, err := OpenWorkbookContents(tt.build(), nil)
			require.NoError(t, err)
			defer bk.Close()

			assert.Equal(t, BIFF_VERSION_8, bk.BiffVersion)
			assert.Equal(t, 1200, bk.Codepage)
			assert.Equal(t, []string{"Sheet1"}, bk.SheetNames())

			infos := bk.Sheets()
			require.Len(t, infos, 1)
			info := infos[0]
			assert.Equal(t, "Sheet1", info.Name)
			assert.Equal(t, 2, info.TotalRows)
			assert.Equal(t, 3, info.TotalColumns)
			assert.Equal(t, 2, info.LastColumnIndex)
			assert.Equal(t, "C", info.LastColumnLetter)
			assert.Positive(t, info.Offset)

			src, err := bk.RowSourceByName("Sheet1", 1, 0)
			require.NoError(t, err)
			defer src.Close()
			assert.Equal(t, 2, src.Len())
			assert.Equal(t, [][]string{
				{"Title1", "Title2", "Title3"},
				{"Desc1", "Desc2", "Desc3"},
			}, readStrings(t, src))
		})
	}
}

func TestOpenWorkbookFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titles.xls")
	require.NoError(t, os.WriteFile(path, compoundFile("Workbook", titleDescBook().buildStream()), 0o644))

	bk, err := OpenWorkbook(path, nil)
	require.NoError(t, err)
	defer bk.Close()
	assert.Equal(t, 1, bk.NSheets())

	_, err = OpenWorkbook(filepath.Join(t.TempDir(), "missing.xls"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenWorkbookFileContentsWin(t *testing.T) {
	contents := compoundFile("Workbook", titleDescBook().buildStream())
	bk, err := OpenWorkbook("does-not-exist.xls", &Options{FileContents: contents})
	require.NoError(t, err)
	defer bk.Close()
	assert.Equal(t, []string{"Sheet1"}, bk.SheetNames())
}

func TestOpenWorkbookErrors(t *testing.T) {
	zipped := zipOf(t, "[Content_Types].xml", "xl/workbook.xml")

	globalsOnly := &streamWriter{}
	globalsOnly.bof(false, XL_WORKBOOK_GLOBALS)
	globalsOnly.record(XL_CODEPAGE, u16(1200))

	encrypted := &streamWriter{}
	encrypted.bof(false, XL_WORKBOOK_GLOBALS)
	encrypted.record(XL_FILEPASS, make([]byte, 6))
	encrypted.record(XL_EOF, nil)

	worksheetFirst := &streamWriter{}
	worksheetFirst.bof(false, XL_WORKSHEET)
	worksheetFirst.record(XL_EOF, nil)

	badVersion := &streamWriter{}
	badVersion.record(XL_BOF, cat(u16(0x0400), u16(XL_WORKBOOK_GLOBALS), make([]byte, 4)))

	tests := []struct {
		name     string
		contents []byte
		message  string
	}{
		{"empty", nil, "0 bytes"},
		{"zip package", zipped, "not supported"},
		{"no EOF in globals", globalsOnly.buf.Bytes(), "no EOF"},
		{"encrypted", encrypted.buf.Bytes(), "encrypted"},
		{"not a workbook stream", worksheetFirst.buf.Bytes(), "BOF not workbook/worksheet"},
		{"unsupported BIFF version", badVersion.buf.Bytes(), "not supported"},
		{"garbage", []byte("hello, world"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenWorkbookContents(tt.contents, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, sheet.ErrBadFile)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSheetLookup(t *testing.T) {
	tb := titleDescBook()
	tb.sheets = append(tb.sheets,
		testSheet{name: "Chart1", kind: XL_BOUNDSHEET_CHART},
		testSheet{name: "Second", rows: 1, cols: 1, cells: []testRecord{numberCell(0, 0, 0, 7)}},
	)
	bk := openTestBook(t, tb, nil)

	assert.Equal(t, 2, bk.NSheets())
	assert.Equal(t, []string{"Sheet1", "Second"}, bk.SheetNames())

	sh, err := bk.SheetByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, "Second", sh.Name)

	idx, err := sheet.SheetIndex(bk, "Second")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	src, err := bk.RowSourceByIndex(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"7"}}, readStrings(t, src))

	_, err = bk.SheetByName("Chart1")
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	_, err = bk.SheetByIndex(2)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	_, err = bk.RowSourceByName("nope", 1, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	_, err = bk.RowSourceByIndex(-1, 1, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
	_, err = bk.RowSourceByIndex(0, 0, 0)
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
}

func TestNumberFormats(t *testing.T) {
	tb := testBook{
		formats: map[int]string{164: "#,##0.00", 165: "0.0"},
		xfs:     []int{0, 10, 164, 14, 165},
		sheets: []testSheet{{
			name: "Formats",
			rows: 1,
			cols: 6,
			cells: []testRecord{
				numberCell(0, 0, 1, 0.125),
				numberCell(0, 1, 2, 1234.5),
				numberCell(0, 2, 3, 43831),
				numberCell(0, 3, 4, 12),
				numberCell(0, 4, 0, 3.25),
				numberCell(0, 5, 99, 8),
			},
		}},
	}
	bk := openTestBook(t, tb, nil)
	assert.Equal(t, "#,##0.00", bk.Style().FormatCode(2))

	src, err := bk.RowSourceByIndex(0, 1, 0)
	require.NoError(t, err)
	rows := readStrings(t, src)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "12.50%", row[0])
	assert.Equal(t, "1,234.50", row[1])
	assert.Regexp(t, `^\d{2}-\d{2}-\d{2}$`, row[2])
	assert.Equal(t, "01-01-20", row[2])
	assert.Equal(t, "12.0", row[3])
	assert.Equal(t, "3.25", row[4])
	assert.Equal(t, "8", row[5])
}

func TestDatemode1904(t *testing.T) {
	tb := testBook{
		date1904: true,
		xfs:      []int{14},
		sheets: []testSheet{{
			name:  "Dates",
			rows:  1,
			cols:  1,
			cells: []testRecord{numberCell(0, 0, 0, 0)},
		}},
	}
	bk := openTestBook(t, tb, nil)
	assert.Equal(t, 1, bk.Datemode)
	assert.True(t, bk.Style().Date1904)

	src, err := bk.RowSourceByIndex(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"01-01-04"}}, readStrings(t, src))
}

func TestBIFF5Codepage(t *testing.T) {
	privet := []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}
	label := testRecord{XL_LABEL, cat(cellHead(0, 0, 0), byteString(privet, 2))}
	tb := testBook{
		biff5:    true,
		codepage: 1251,
		xfs:      []int{0},
		sheets: []testSheet{{
			name:  "Data",
			rows:  1,
			cols:  1,
			cells: []testRecord{label},
		}},
	}
	bk := openTestBook(t, tb, nil)
	assert.Equal(t, BIFF_VERSION_7, bk.BiffVersion)
	assert.Equal(t, 1251, bk.Codepage)

	src, err := bk.RowSourceByName("Data", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Привет"}}, readStrings(t, src))

	// A wrong CODEPAGE record is overridden by the caller.
	tb.codepage = 1252
	bk = openTestBook(t, tb, &Options{EncodingOverride: "cp1251"})
	src, err = bk.RowSourceByName("Data", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Привет"}}, readStrings(t, src))

	bk = openTestBook(t, tb, &Options{EncodingOverride: "windows-1251"})
	src, err = bk.RowSourceByName("Data", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Привет"}}, readStrings(t, src))

	_, err = OpenWorkbookContents(tb.buildStream(), &Options{EncodingOverride: "klingon"})
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
}

func TestBookCloseKeepsRowSources(t *testing.T) {
	bk, err := OpenWorkbookContents(compoundFile("Workbook", titleDescBook().buildStream()), nil)
	require.NoError(t, err)

	src, err := bk.RowSourceByIndex(0, 1, 0)
	require.NoError(t, err)
	require.NoError(t, bk.Close())

	assert.Len(t, readStrings(t, src), 2)
}

func TestVerboseTrace(t *testing.T) {
	var log bytes.Buffer
	openTestBook(t, titleDescBook(), &Options{Logfile: &log, Verbosity: 2})

	assert.Contains(t, log.String(), "BIFF version 8")
	assert.Contains(t, log.String(), "SST: 6 strings")
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"cp1251", "CP932", "shift_jis", "windows-1252", " utf-8 "} {
		enc, err := lookupEncoding(name)
		require.NoError(t, err, name)
		assert.NotNil(t, enc, name)
	}
	_, err := lookupEncoding("cp99999")
	assert.ErrorIs(t, err, sheet.ErrBadRequest)
}

func TestBiffTextFromNum(t *testing.T) {
	assert.Equal(t, "8", BiffTextFromNum(80))
	assert.Equal(t, "(not BIFF)", BiffTextFromNum(0))
	assert.Equal(t, "Unknown(99)", BiffTextFromNum(99))
}
