package main

import (
	"fmt"
	"os"

	"loom/internal/server"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("loom.cmd")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "loom",
		Short:        "Language server for Go templates",
		Version:      server.Version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newDiffCommand())
	root.AddCommand(newDumpCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s language server version %s\n", server.Name, server.Version)
		},
	})
	return root
}
