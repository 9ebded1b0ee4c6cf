package main

import (
	"fmt"
	"io"
	"os"

	"loom/internal/differ"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	rangeColor  = color.New(color.FgCyan)
	deleteColor = color.New(color.FgRed)
	insertColor = color.New(color.FgGreen)
)

func newDiffCommand() *cobra.Command {
	var lines bool
	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Print the minimal edits that turn one file into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldText, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newText, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return printEdits(cmd.OutOrStdout(), string(oldText), differ.Diff(string(oldText), string(newText), lines))
		},
	}
	cmd.Flags().BoolVar(&lines, "lines", false, "compare whole lines instead of characters")
	return cmd
}

func printEdits(w io.Writer, oldText string, edits []differ.Edit) error {
	for _, e := range edits {
		if _, err := rangeColor.Fprintf(w, "@@ %d,%d @@\n", e.Start, e.End); err != nil {
			return err
		}
		if e.End > e.Start {
			deleteColor.Fprintf(w, "-%q\n", oldText[e.Start:e.End])
		}
		if e.NewText != "" {
			insertColor.Fprintf(w, "+%q\n", e.NewText)
		}
	}
	_, err := fmt.Fprintf(w, "%d edit(s)\n", len(edits))
	return err
}
