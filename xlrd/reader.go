package xlrd

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/yamitzky/sheetread/sheet"
)

// isBIFF reports whether the file starts with a BOF record, as bare BIFF
// streams written by some exporters do.
func isBIFF(filename string) bool {
	f, err := os.Open(expandHome(filename))
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return binary.LittleEndian.Uint16(head) == XL_BOF
}

// Reader opens xls files for the format facade.
type Reader struct {
	Options Options
}

// IsReadable reports whether the file is a compound document or a bare
// BIFF stream.
func (r Reader) IsReadable(filename string) bool {
	if c := r.Options.FileContents; c != nil {
		format, _ := InspectFormat("", c)
		return format == FormatXLS || (len(c) >= 2 && binary.LittleEndian.Uint16(c) == XL_BOF)
	}
	format, err := InspectFormat(filename, nil)
	if err != nil {
		return false
	}
	return format == FormatXLS || (format == "" && isBIFF(filename))
}

// Load opens the file.
func (r Reader) Load(filename string) (sheet.Workbook, error) {
	opts := r.Options
	return OpenWorkbook(filename, &opts)
}

// ListSheetNames returns the worksheet names. Only the globals substream is
// decoded.
func (r Reader) ListSheetNames(filename string) ([]string, error) {
	opts := r.Options
	bk, err := OpenWorkbook(filename, &opts)
	if err != nil {
		return nil, err
	}
	defer bk.Close()
	return bk.SheetNames(), nil
}

// ListSheetInfo returns the dimensions of every worksheet.
func (r Reader) ListSheetInfo(filename string) ([]sheet.Info, error) {
	wb, err := r.Load(filename)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.Sheets(), nil
}
