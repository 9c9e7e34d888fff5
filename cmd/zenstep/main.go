package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zenstep",
		Short: "zenstep - process engine for conversational workflows",
		Long: `zenstep runs process definitions made of elements, flows and annotations.
Inbound events step running instances, annotations publish events and call services.`,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zenstep %s\n", version)
		},
	}
}
