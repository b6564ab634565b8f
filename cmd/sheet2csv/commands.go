package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yamitzky/sheetread/spreadsheet"
	"github.com/yamitzky/sheetread/xlrd"
)

func newSheetsCmd(f *flags) *cobra.Command {
	var namesOnly bool
	cmd := &cobra.Command{
		Use:   "sheets file",
		Short: "List the sheets of a file with their dimensions",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := spreadsheet.Options{
				Logfile:          cmd.ErrOrStderr(),
				Verbosity:        f.verbose,
				Password:         f.password,
				EncodingOverride: f.encodingOverride,
			}
			out := cmd.OutOrStdout()
			if namesOnly {
				names, err := spreadsheet.ListSheetNames(args[0], &opts)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}
			infos, err := spreadsheet.ListSheetInfo(args[0], &opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tROWS\tCOLUMNS\tLAST")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", info.Name, info.TotalRows, info.TotalColumns, info.LastColumnLetter)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&namesOnly, "names", false, "print only the sheet names")
	return cmd
}

func newDumpCmd() *cobra.Command {
	var unnumbered bool
	cmd := &cobra.Command{
		Use:   "dump file.xls",
		Short: "Print the BIFF records of an xls file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return xlrd.Dump(contents, cmd.OutOrStdout(), unnumbered)
		},
	}
	cmd.Flags().BoolVarP(&unnumbered, "unnumbered", "u", false, "omit record offsets")
	return cmd
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count file.xls",
		Short: "Count the BIFF records of an xls file by kind",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return xlrd.CountRecords(contents, cmd.OutOrStdout())
		},
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}
