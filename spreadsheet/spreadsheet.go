// Package spreadsheet picks a decoder for a file and opens it. The reader is
// chosen from the file extension first, then from the file signature, and
// finally by asking every registered reader whether it can read the file.
package spreadsheet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/yamitzky/sheetread/csvfile"
	"github.com/yamitzky/sheetread/ods"
	"github.com/yamitzky/sheetread/sheet"
	"github.com/yamitzky/sheetread/xlrd"
	"github.com/yamitzky/sheetread/xlsx"
)

// Reader is the contract every decoder fulfils.
type Reader interface {
	// IsReadable reports whether the decoder recognizes the file.
	IsReadable(path string) bool

	// Load opens the file.
	Load(path string) (sheet.Workbook, error)

	// ListSheetNames returns the sheet names, decoding as little as it can.
	ListSheetNames(path string) ([]string, error)

	// ListSheetInfo returns every sheet's dimensions.
	ListSheetInfo(path string) ([]sheet.Info, error)
}

// Format names a reader in the registry.
type Format string

// Built-in formats, in the order they are tried.
const (
	XLSX Format = "Xlsx"
	XLS  Format = "Xls"
	ODS  Format = "Ods"
	CSV  Format = "Csv"
)

// Options configures the built-in readers.
type Options struct {
	// Logfile receives diagnostics from the facade and the readers. Nil
	// discards them.
	Logfile io.Writer

	// Verbosity is passed to every reader; 1 also reports the reader chosen.
	Verbosity int

	// InputEncoding and FallbackEncoding apply to delimited text.
	InputEncoding    string
	FallbackEncoding string

	// Delimiter forces the field delimiter of delimited text.
	Delimiter rune

	// Password opens encrypted xlsx packages.
	Password string

	// EncodingOverride replaces the codepage of xls files.
	EncodingOverride string
}

var extensions = map[string]Format{
	"xlsx": XLSX,
	"xlsm": XLSX,
	"xltx": XLSX,
	"xltm": XLSX,
	"xls":  XLS,
	"xlt":  XLS,
	"ods":  ODS,
	"ots":  ODS,
	"csv":  CSV,
	"tsv":  CSV,
}

// sniffed maps xlrd.InspectFormat results to formats.
var sniffed = map[string]Format{
	xlrd.FormatXLS:  XLS,
	xlrd.FormatXLSX: XLSX,
	xlrd.FormatODS:  ODS,
}

var registry = struct {
	sync.RWMutex
	order   []Format
	readers map[Format]Reader
	exts    map[string]Format
}{
	readers: map[Format]Reader{},
	exts:    map[string]Format{},
}

// Register installs r for format, replacing the built-in reader of the same
// name. New formats are tried after the built-in ones, and the extensions
// given map to them. A nil r removes the registration.
func Register(format Format, r Reader, exts ...string) {
	registry.Lock()
	defer registry.Unlock()
	if r == nil {
		delete(registry.readers, format)
		registry.order = slices.DeleteFunc(registry.order, func(f Format) bool { return f == format })
		for ext, f := range registry.exts {
			if f == format {
				delete(registry.exts, ext)
			}
		}
		return
	}
	if _, ok := registry.readers[format]; !ok {
		registry.order = append(registry.order, format)
	}
	registry.readers[format] = r
	for _, ext := range exts {
		registry.exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = format
	}
}

func (o *Options) builtin(format Format) Reader {
	switch format {
	case XLSX:
		return xlsx.Reader{Options: xlsx.Options{Password: o.Password, Logfile: o.Logfile, Verbosity: o.Verbosity}}
	case XLS:
		return xlrd.Reader{Options: xlrd.Options{EncodingOverride: o.EncodingOverride, Logfile: o.Logfile, Verbosity: o.Verbosity}}
	case ODS:
		return ods.Reader{Options: ods.Options{Logfile: o.Logfile, Verbosity: o.Verbosity}}
	case CSV:
		return csvfile.Reader{Options: csvfile.Options{
			InputEncoding:    o.InputEncoding,
			FallbackEncoding: o.FallbackEncoding,
			Delimiter:        o.Delimiter,
			Logfile:          o.Logfile,
			Verbosity:        o.Verbosity,
		}}
	}
	return nil
}

// readers returns the formats in trial order with their readers.
func (o *Options) readers() ([]Format, map[Format]Reader) {
	registry.RLock()
	defer registry.RUnlock()
	order := []Format{XLSX, XLS, ODS, CSV}
	m := make(map[Format]Reader, len(order)+len(registry.order))
	for _, f := range order {
		m[f] = o.builtin(f)
	}
	for _, f := range registry.order {
		if !slices.Contains(order, f) {
			order = append(order, f)
		}
		m[f] = registry.readers[f]
	}
	return order, m
}

// GuessFormat returns the format implied by the file extension, or "".
func GuessFormat(path string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	registry.RLock()
	f, ok := registry.exts[ext]
	registry.RUnlock()
	if ok {
		return f
	}
	return extensions[ext]
}

// Identify returns the format of the file and the reader that accepts it.
func Identify(path string, opts *Options) (Format, Reader, error) {
	if opts == nil {
		opts = &Options{}
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("spreadsheet: %w", err)
	}
	if st.IsDir() {
		return "", nil, sheet.NewLookupError("%s is a directory", path)
	}

	order, readers := opts.readers()
	tried := map[Format]bool{}
	try := func(f Format) bool {
		r, ok := readers[f]
		if !ok || tried[f] {
			return false
		}
		tried[f] = true
		return r.IsReadable(path)
	}

	candidates := []Format{GuessFormat(path)}
	if kind, err := xlrd.InspectFormat(path, nil); err == nil {
		candidates = append(candidates, sniffed[kind])
	}
	candidates = append(candidates, order...)
	for _, f := range candidates {
		if f != "" && try(f) {
			if opts.Verbosity >= 1 && opts.Logfile != nil {
				fmt.Fprintf(opts.Logfile, "spreadsheet: %s read as %s\n", path, f)
			}
			return f, readers[f], nil
		}
	}
	return "", nil, sheet.NewStructuralError("unable to identify a reader for %s", path)
}

// ReaderFor returns the reader for path using default options.
func ReaderFor(path string) (Reader, error) {
	_, r, err := Identify(path, nil)
	return r, err
}

// Open identifies the file and loads it.
func Open(path string, opts *Options) (sheet.Workbook, error) {
	_, r, err := Identify(path, opts)
	if err != nil {
		return nil, err
	}
	return r.Load(path)
}

// ListSheetNames identifies the file and lists its sheet names.
func ListSheetNames(path string, opts *Options) ([]string, error) {
	_, r, err := Identify(path, opts)
	if err != nil {
		return nil, err
	}
	return r.ListSheetNames(path)
}

// ListSheetInfo identifies the file and lists its sheet dimensions.
func ListSheetInfo(path string, opts *Options) ([]sheet.Info, error) {
	_, r, err := Identify(path, opts)
	if err != nil {
		return nil, err
	}
	return r.ListSheetInfo(path)
}
