package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yamitzky/sheetread/sheet"
	"github.com/yamitzky/sheetread/spreadsheet"
	"github.com/yamitzky/sheetread/style"
)

type options struct {
	allSheets      bool
	sheetID        int
	sheetName      string
	delimiter      rune
	lineTerminator string
	dateFormat     string
	floatFormat    string
	ignoreEmpty    bool
	escape         bool
	sheetDelimiter string
	quoting        quotingMode
	include        []*regexp.Regexp
	exclude        []*regexp.Regexp

	open spreadsheet.Options
}

// lockedWriter serializes writes from concurrent conversions.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func convert(ctx context.Context, input, output string, stdin io.Reader, stdout io.Writer, opts options) error {
	if input == "-" {
		path, cleanup, err := spool(stdin)
		if err != nil {
			return err
		}
		defer cleanup()
		return convertFile(path, output, opts, stdout)
	}
	info, err := os.Stat(input)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return convertDir(ctx, input, output, opts)
	}
	return convertFile(input, output, opts, stdout)
}

// spool copies standard input to a temporary file so that readers can sniff
// and seek it.
func spool(stdin io.Reader) (string, func(), error) {
	tmp, err := os.CreateTemp("", "stdin-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, stdin); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

// convertDir converts every spreadsheet in inputDir, one file per worker.
func convertDir(ctx context.Context, inputDir, outputDir string, opts options) error {
	if outputDir == "" {
		outputDir = inputDir
	}
	if err := ensureDir(outputDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	found := false
	for _, entry := range entries {
		if entry.IsDir() || spreadsheet.GuessFormat(entry.Name()) == "" {
			continue
		}
		inputPath := filepath.Join(inputDir, entry.Name())
		outputPath := filepath.Join(outputDir, changeExt(entry.Name(), ".csv"))
		if sameFile(inputPath, outputPath) {
			continue
		}
		found = true
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := convertFile(inputPath, outputPath, opts, io.Discard); err != nil {
				return fmt.Errorf("%s: %w", entry.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no spreadsheet files found in %s", inputDir)
	}
	return nil
}

// ensureDir creates path unless it already is a directory.
func ensureDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(path, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	return nil
}

func sameFile(a, b string) bool {
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}

func convertFile(inputPath, outputPath string, opts options, stdout io.Writer) error {
	wb, err := spreadsheet.Open(inputPath, &opts.open)
	if err != nil {
		return err
	}
	defer wb.Close()

	infos := wb.Sheets()
	sheetIndexes, err := selectSheets(infos, opts)
	if err != nil {
		return err
	}

	if opts.sheetID == 0 && outputPath != "" {
		if err := ensureDir(outputPath); err != nil {
			return fmt.Errorf("outfile must be a directory when -s 0 is specified: %w", err)
		}
	}

	if outputPath == "" {
		w := bufio.NewWriter(stdout)
		if err := writeSheets(w, wb, sheetIndexes, opts); err != nil {
			return err
		}
		return w.Flush()
	}

	info, err := os.Stat(outputPath)
	if err == nil && info.IsDir() {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		for _, i := range sheetIndexes {
			name := fmt.Sprintf("%s-%s.csv", base, sanitizeFilename(infos[i].Name))
			if err := writeSheetsToFile(filepath.Join(outputPath, name), wb, []int{i}, opts); err != nil {
				return err
			}
		}
		return nil
	}
	return writeSheetsToFile(outputPath, wb, sheetIndexes, opts)
}

// selectSheets resolves --sheetname, --all with its patterns, and --sheet
// into sheet positions. The first sheet is the default.
func selectSheets(infos []sheet.Info, opts options) ([]int, error) {
	switch {
	case opts.sheetName != "":
		i := slices.IndexFunc(infos, func(info sheet.Info) bool { return info.Name == opts.sheetName })
		if i < 0 {
			return nil, fmt.Errorf("sheet %s not found", opts.sheetName)
		}
		return []int{i}, nil
	case opts.allSheets:
		var indexes []int
		for i, info := range infos {
			if matchPatterns(info.Name, opts.include, opts.exclude) {
				indexes = append(indexes, i)
			}
		}
		if len(indexes) == 0 {
			return nil, errors.New("no sheets matched selection")
		}
		return indexes, nil
	case opts.sheetID > len(infos):
		return nil, fmt.Errorf("sheet index %d out of range", opts.sheetID)
	case opts.sheetID > 0:
		return []int{opts.sheetID - 1}, nil
	case len(infos) == 0:
		return nil, errors.New("no sheets found")
	}
	return []int{0}, nil
}

// matchPatterns keeps names matching any include pattern, or all names when
// there is none, minus those matching an exclude pattern.
func matchPatterns(name string, include, exclude []*regexp.Regexp) bool {
	matches := func(re *regexp.Regexp) bool { return re.MatchString(name) }
	if len(include) > 0 && !slices.ContainsFunc(include, matches) {
		return false
	}
	return !slices.ContainsFunc(exclude, matches)
}

func writeSheetsToFile(path string, wb sheet.Workbook, sheetIndexes []int, opts options) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := writeSheets(w, wb, sheetIndexes, opts); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}

func writeSheets(w io.Writer, wb sheet.Workbook, sheetIndexes []int, opts options) error {
	cw := &csvWriter{
		w:              w,
		delimiter:      opts.delimiter,
		lineTerminator: opts.lineTerminator,
		quoting:        opts.quoting,
	}
	infos := wb.Sheets()
	for n, i := range sheetIndexes {
		if n > 0 && opts.sheetDelimiter != "" {
			if _, err := fmt.Fprint(w, opts.sheetDelimiter, opts.lineTerminator); err != nil {
				return err
			}
		}
		if err := writeSheet(cw, wb, i, infos[i].TotalColumns, opts); err != nil {
			return err
		}
	}
	return nil
}

// writeSheet writes every row padded to the sheet's width.
func writeSheet(cw *csvWriter, wb sheet.Workbook, i, width int, opts options) error {
	src, err := wb.RowSourceByIndex(i, 1, 0)
	if err != nil {
		return err
	}
	defer src.Close()
	for row, err := range sheet.Rows(src) {
		if err != nil {
			return err
		}
		fields := make([]field, max(width, row.Width()))
		allEmpty := true
		for _, c := range row.Cells {
			f := formatCell(row.Renderer(), c, opts)
			if f.text != "" {
				allEmpty = false
			}
			fields[c.Column] = f
		}
		if opts.ignoreEmpty && allEmpty {
			continue
		}
		if err := cw.writeRow(fields); err != nil {
			return err
		}
	}
	return nil
}

// formatCell renders one cell. Numbers are written through the cell's
// number format unless --floatformat or --dateformat applies.
func formatCell(rd sheet.Renderer, c sheet.Cell, opts options) field {
	if c.Type != sheet.CellNumber {
		return field{text: maybeEscape(rd.Formatted(c), opts.escape)}
	}
	v, ok := rd.Value(c).(float64)
	if !ok {
		return field{text: maybeEscape(rd.Formatted(c), opts.escape)}
	}
	isDate := false
	ctx, styled := rd.(*style.Context)
	if styled {
		isDate = ctx.Code(c.XF).Family() == style.Date
	}
	switch {
	case isDate && opts.dateFormat != "":
		if t, err := style.SerialToTime(v, ctx.Date1904); err == nil {
			return field{text: maybeEscape(strftime(t, opts.dateFormat), opts.escape)}
		}
	case !isDate && opts.floatFormat != "":
		return field{text: fmt.Sprintf(opts.floatFormat, v), numeric: true}
	}
	return field{text: maybeEscape(rd.Formatted(c), opts.escape), numeric: !isDate}
}

func maybeEscape(value string, enabled bool) string {
	if !enabled || value == "" {
		return value
	}
	return strings.NewReplacer("\r", "\\r", "\n", "\\n", "\t", "\\t").Replace(value)
}

func changeExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

func sanitizeFilename(name string) string {
	invalid := strings.NewReplacer(string(os.PathSeparator), "_", "/", "_", "\\", "_")
	clean := strings.TrimSpace(invalid.Replace(name))
	if clean == "" {
		return "sheet"
	}
	return clean
}
