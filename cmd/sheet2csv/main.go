// Command sheet2csv converts xls, xlsx, ods and delimited text files to CSV.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yamitzky/sheetread/spreadsheet"
)

const (
	defaultSheetDelimiter = "--------"
	envPrefix             = "SHEET2CSV_"
)

var version = "dev"

// usageError marks bad invocations; they exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type flags struct {
	allSheets      bool
	outputEncoding string
	sheetID        int
	sheetName      string
	delimiter      string
	lineTerminator string
	dateFormat     string
	floatFormat    string
	ignoreEmpty    bool
	escape         bool
	sheetDelimiter string
	quoting        string
	include        []string
	exclude        []string

	inputEncoding    string
	inputDelimiter   string
	password         string
	encodingOverride string
	verbose          int
	envFile          string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		var ue *usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sheet2csv [flags] infile [outfile]",
		Short: "Convert spreadsheets to CSV",
		Long: `Convert xls, xlsx, ods or delimited text files to CSV.

infile may be '-' to read from standard input. outfile is a file, or a
directory when --sheet 0 is given. With a directory as infile every
spreadsheet in it is converted to a .csv file in outfile, or next to the
input when outfile is omitted.

Flag defaults can be set with SHEET2CSV_<FLAG> environment variables, for
example SHEET2CSV_DELIMITER=tab, read from the process environment or from
the file named by --env-file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.RangeArgs(1, 2)(cmd, args); err != nil {
				return &usageError{err}
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return applyEnv(cmd.Flags(), f.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return &usageError{err}
			}
			opts.open.Logfile = &lockedWriter{w: stderr}
			input, output := args[0], ""
			if len(args) > 1 {
				output = args[1]
			}
			return convert(cmd.Context(), input, output, stdin, stdout, opts)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err} })

	fl := cmd.Flags()
	fl.BoolVarP(&f.allSheets, "all", "a", false, "export all sheets")
	fl.StringVarP(&f.outputEncoding, "outputencoding", "c", "utf-8", "encoding of output CSV")
	fl.IntVarP(&f.sheetID, "sheet", "s", -1, "sheet number to convert, 0 for all")
	fl.StringVarP(&f.sheetName, "sheetname", "n", "", "sheet name to convert")
	fl.StringVarP(&f.delimiter, "delimiter", "d", ",", "column delimiter in CSV, 'tab' or 'x09' for a tab")
	fl.StringVarP(&f.lineTerminator, "lineterminator", "l", "", `line terminator in CSV, '\n' '\r\n' or '\r' (default: os line separator)`)
	fl.StringVarP(&f.dateFormat, "dateformat", "f", "", "override date/time format (ex. %Y/%m/%d)")
	fl.StringVar(&f.floatFormat, "floatformat", "", "override float format (ex. %.15f)")
	fl.BoolVarP(&f.ignoreEmpty, "ignoreempty", "i", false, "skip empty lines")
	fl.BoolVarP(&f.escape, "escape", "e", false, `escape \r\n\t characters`)
	fl.StringVarP(&f.sheetDelimiter, "sheetdelimiter", "p", defaultSheetDelimiter, `sheet delimiter, '' for none, 'x07' or '\f' for form feed`)
	fl.StringVarP(&f.quoting, "quoting", "q", "minimal", "field quoting, 'none' 'minimal' 'nonnumeric' or 'all'")
	fl.StringArrayVarP(&f.include, "include_sheet_pattern", "I", nil, "only include sheets matching the pattern with --all")
	fl.StringArrayVarP(&f.exclude, "exclude_sheet_pattern", "E", nil, "exclude sheets matching the pattern with --all")

	fl.StringVar(&f.inputEncoding, "input-encoding", "", "encoding of delimited text input (default: detected)")
	fl.StringVar(&f.inputDelimiter, "input-delimiter", "", "delimiter of delimited text input (default: inferred)")
	fl.StringVar(&f.password, "password", "", "password of an encrypted xlsx file")
	fl.StringVar(&f.encodingOverride, "encoding-override", "", "codepage to use for old xls files, e.g. cp1251")

	pfl := cmd.PersistentFlags()
	pfl.CountVarP(&f.verbose, "verbose", "v", "log diagnostics to stderr, repeat for more")
	pfl.StringVar(&f.envFile, "env-file", ".env", "file with SHEET2CSV_* defaults")

	cmd.AddCommand(newSheetsCmd(&f), newDumpCmd(), newCountCmd())
	return cmd
}

// applyEnv sets every flag left unset on the command line from
// SHEET2CSV_<FLAG>. Values in the env file win over the process environment.
// A missing default env file is ignored.
func applyEnv(fs *pflag.FlagSet, envFile string) error {
	fileEnv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileEnv = m
		case errors.Is(err, os.ErrNotExist) && !fs.Changed("env-file"):
		default:
			return &usageError{fmt.Errorf("env file: %w", err)}
		}
	}
	var errs []error
	fs.VisitAll(func(fl *pflag.Flag) {
		if fl.Changed || fl.Name == "env-file" || fl.Name == "help" || fl.Name == "version" {
			return
		}
		key := envPrefix + strings.ToUpper(strings.NewReplacer("-", "_").Replace(fl.Name))
		value, ok := fileEnv[key]
		if !ok {
			value, ok = os.LookupEnv(key)
		}
		if !ok {
			return
		}
		if err := fs.Set(fl.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	})
	if err := errors.Join(errs...); err != nil {
		return &usageError{err}
	}
	return nil
}

// options validates the flags.
func (f *flags) options() (options, error) {
	var opts options
	if f.sheetName != "" && (f.allSheets || f.sheetID >= 0) {
		return opts, errors.New("cannot combine --sheetname with --sheet or --all")
	}
	if enc := strings.ToLower(f.outputEncoding); enc != "utf-8" && enc != "utf8" {
		return opts, fmt.Errorf("unsupported output encoding: %s", f.outputEncoding)
	}
	var err error
	if opts.delimiter, err = parseDelimiter(f.delimiter); err != nil {
		return opts, fmt.Errorf("invalid delimiter: %w", err)
	}
	opts.lineTerminator = osLineSep()
	if f.lineTerminator != "" {
		if opts.lineTerminator, err = parseEscapedString(f.lineTerminator); err != nil {
			return opts, fmt.Errorf("invalid line terminator: %w", err)
		}
	}
	if opts.sheetDelimiter, err = parseSheetDelimiter(f.sheetDelimiter); err != nil {
		return opts, fmt.Errorf("invalid sheet delimiter: %w", err)
	}
	if opts.quoting, err = parseQuoting(f.quoting); err != nil {
		return opts, fmt.Errorf("invalid quoting: %w", err)
	}
	if opts.include, err = compilePatterns(f.include); err != nil {
		return opts, fmt.Errorf("invalid include pattern: %w", err)
	}
	if opts.exclude, err = compilePatterns(f.exclude); err != nil {
		return opts, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	var inputDelimiter rune
	if f.inputDelimiter != "" {
		if inputDelimiter, err = parseDelimiter(f.inputDelimiter); err != nil {
			return opts, fmt.Errorf("invalid input delimiter: %w", err)
		}
	}

	opts.allSheets = f.allSheets || f.sheetID == 0
	opts.sheetID = f.sheetID
	opts.sheetName = f.sheetName
	opts.dateFormat = f.dateFormat
	opts.floatFormat = f.floatFormat
	opts.ignoreEmpty = f.ignoreEmpty
	opts.escape = f.escape
	opts.open = spreadsheet.Options{
		Verbosity:        f.verbose,
		InputEncoding:    f.inputEncoding,
		Delimiter:        inputDelimiter,
		Password:         f.password,
		EncodingOverride: f.encodingOverride,
	}
	return opts, nil
}

func osLineSep() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}
