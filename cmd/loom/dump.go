package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"loom/internal/config"
	"loom/internal/generator"
	"loom/internal/project"
	"loom/internal/resolver"
	"loom/internal/scanner"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var headerColor = color.New(color.FgYellow, color.Bold)

type dumpOptions struct {
	mappings bool
	pkg      string
}

func newDumpCommand() *cobra.Command {
	var opts dumpOptions
	cmd := &cobra.Command{
		Use:   "dump <dir|file>",
		Short: "Print the generated projections of templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.mappings, "mappings", false, "also print the source mappings")
	cmd.Flags().StringVar(&opts.pkg, "package", project.DefaultConfiguration().RootPackage, "package of the code projection")
	return cmd
}

func runDump(cmd *cobra.Command, path string, opts dumpOptions) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	cfg := project.DefaultConfiguration()
	cfg.RootPackage = opts.pkg
	w := cmd.OutOrStdout()

	if !info.IsDir() {
		abs, err := resolver.NormalizePath(path)
		if err != nil {
			return err
		}
		return dumpFile(w, abs, abs, cfg, opts)
	}

	r, err := resolver.NewResolver(path, config.Default().Extensions)
	if err != nil {
		return err
	}
	docs, err := scanner.Collect(cmd.Context(), r)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := dumpFile(w, doc.Path, doc.RelativePath, cfg, opts); err != nil {
			return err
		}
	}
	return nil
}

func dumpFile(w io.Writer, path, name string, cfg project.Configuration, opts dumpOptions) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := generator.Generate(project.NewHostDocument(path), string(src), cfg)
	if err != nil {
		return err
	}
	if doc.Unsupported {
		headerColor.Fprintf(w, "== %s (unsupported)\n", filepath.ToSlash(name))
		return nil
	}
	for _, kind := range []project.ProjectionKind{project.Code, project.Markup} {
		out, ok := doc.Output(kind)
		if !ok {
			continue
		}
		headerColor.Fprintf(w, "== %s [%s]\n", filepath.ToSlash(name), kind)
		fmt.Fprint(w, out.Text)
		if opts.mappings {
			for _, m := range out.Mappings {
				rangeColor.Fprintf(w, "  %d+%d -> %d+%d\n",
					m.Origin.Start, m.Origin.Length, m.Generated.Start, m.Generated.Length)
			}
		}
		for _, d := range out.Diagnostics {
			deleteColor.Fprintf(w, "  %d:%d %v %s\n",
				d.Range.Start.Line+1, d.Range.Start.Character+1, d.Code.Value, d.Message)
		}
	}
	return nil
}
