package xlrd

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strings"
)

// Formats reported by InspectFormat.
const (
	FormatXLS  = "xls"
	FormatXLSX = "xlsx"
	FormatXLSB = "xlsb"
	FormatODS  = "ods"
	FormatZIP  = "zip"
)

// FileFormatDescriptions provides descriptions of the file types that can be inspected.
var FileFormatDescriptions = map[string]string{
	FormatXLS:  "Excel xls",
	FormatXLSB: "Excel 2007 xlsb file",
	FormatXLSX: "Excel xlsx file",
	FormatODS:  "Openoffice.org ODS file",
	FormatZIP:  "Unknown ZIP file",
	"":         "Unknown file type",
}

// XLS_SIGNATURE is the magic cookie that should appear in the first 8 bytes of an XLS file.
var XLS_SIGNATURE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ZIP_SIGNATURE is the magic cookie for ZIP files.
var ZIP_SIGNATURE = []byte("PK\x03\x04")

// PEEK_SIZE is the maximum size needed to peek at file signatures.
const PEEK_SIZE = 8

// zip part that identifies each package kind, checked in order
var zipMarkers = []struct {
	part   string
	format string
}{
	{"xl/workbook.xml", FormatXLSX},
	{"xl/workbook.bin", FormatXLSB},
	{"content.xml", FormatODS},
}

// InspectFormat inspects the content at the supplied path, or content when it
// is non-nil, and returns one of the Format constants, or "" when the format
// cannot be determined. Unreadable paths are reported as errors.
func InspectFormat(path string, content []byte) (string, error) {
	var ra io.ReaderAt
	var size int64
	if content != nil {
		ra, size = bytes.NewReader(content), int64(len(content))
	} else {
		f, err := os.Open(expandHome(path))
		if err != nil {
			return "", err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return "", err
		}
		ra, size = f, st.Size()
	}

	peek := make([]byte, PEEK_SIZE)
	n, err := ra.ReadAt(peek, 0)
	if err != nil && err != io.EOF {
		return "", err
	}
	peek = peek[:n]

	switch {
	case bytes.HasPrefix(peek, XLS_SIGNATURE):
		return FormatXLS, nil
	case bytes.HasPrefix(peek, ZIP_SIGNATURE):
		return inspectZip(ra, size), nil
	}
	return "", nil
}

// inspectZip names the package kind from its part list. Some third party
// writers use backslashes or upper case in part names.
func inspectZip(ra io.ReaderAt, size int64) string {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return ""
	}
	parts := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		parts[strings.ToLower(strings.ReplaceAll(f.Name, "\\", "/"))] = true
	}
	for _, m := range zipMarkers {
		if parts[m.part] {
			return m.format
		}
	}
	return FormatZIP
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
