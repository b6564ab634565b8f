package xlrd

import (
	"cmp"
	"fmt"
	"io"
	"slices"
)

var recordNames = map[uint16]string{
	XL_ARRAY:       "ARRAY",
	XL_BLANK:       "BLANK",
	XL_BOF:         "BOF",
	XL_BOOLERR:     "BOOLERR",
	XL_BOUNDSHEET:  "BOUNDSHEET",
	XL_CODEPAGE:    "CODEPAGE",
	XL_CONTINUE:    "CONTINUE",
	XL_DATEMODE:    "DATEMODE",
	XL_DBCELL:      "DBCELL",
	XL_DIMENSION:   "DIMENSION",
	XL_EOF:         "EOF",
	XL_FILEPASS:    "FILEPASS",
	XL_FORMAT:      "FORMAT",
	XL_FORMULA:     "FORMULA",
	XL_FORMULA4:    "FORMULA",
	XL_HLINK:       "HLINK",
	XL_LABEL:       "LABEL",
	XL_LABELSST:    "LABELSST",
	XL_MERGEDCELLS: "MERGEDCELLS",
	XL_MULBLANK:    "MULBLANK",
	XL_MULRK:       "MULRK",
	XL_NUMBER:      "NUMBER",
	XL_RK:          "RK",
	XL_RK2:         "RK",
	XL_ROW:         "ROW",
	XL_RSTRING:     "RSTRING",
	XL_SHRFMLA:     "SHRFMLA",
	XL_SST:         "SST",
	XL_STRING:      "STRING",
	XL_TABLEOP:     "TABLEOP",
	XL_TABLEOP2:    "TABLEOP2",
	XL_XF:          "XF",
}

func recordName(code uint16) string {
	if name, ok := recordNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", code)
}

// workbookStream returns the BIFF stream of an xls image.
func workbookStream(contents []byte) ([]byte, error) {
	format, err := InspectFormat("", contents)
	if err != nil {
		return nil, err
	}
	if format != FormatXLS {
		return contents, nil
	}
	cd, err := NewCompDoc(contents, nil, 0)
	if err != nil {
		return nil, err
	}
	return cd.LocateNamedStream("Workbook", "Book")
}

// Dump writes one line per BIFF record of an xls image: offset, name,
// length and up to 16 data bytes in hex. With unnumbered set, offsets are
// omitted so dumps of similar files diff cleanly.
func Dump(contents []byte, outfile io.Writer, unnumbered bool) error {
	stream, err := workbookStream(contents)
	if err != nil {
		return err
	}
	for pos := 0; pos < len(stream); {
		rec, next, err := readRecord(stream, pos)
		if err != nil {
			return err
		}
		if !unnumbered {
			fmt.Fprintf(outfile, "%8d: ", pos)
		}
		fmt.Fprintf(outfile, "%-11s len=%-5d % x\n", recordName(rec.code), len(rec.data), rec.data[:min(16, len(rec.data))])
		pos = next
	}
	return nil
}

// CountRecords summarises the file's BIFF records as (name, count) lines
// sorted by name.
func CountRecords(contents []byte, outfile io.Writer) error {
	stream, err := workbookStream(contents)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for pos := 0; pos < len(stream); {
		rec, next, err := readRecord(stream, pos)
		if err != nil {
			return err
		}
		counts[recordName(rec.code)]++
		pos = next
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.SortFunc(names, cmp.Compare[string])
	for _, name := range names {
		fmt.Fprintf(outfile, "%8d %s\n", counts[name], name)
	}
	return nil
}
