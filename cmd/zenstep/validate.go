package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pbinitiative/zenstep/pkg/process/loader"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/spf13/cobra"
)

var errInvalidDefinitions = errors.New("invalid definitions")

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Check definition documents without starting the engine",
		Long: `Load each definition document and report structural errors such as
missing start or end events, unknown flow targets and invalid annotations.

Directories are searched for *.yaml and *.yml files.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args)
		},
	}
}

func runValidate(out io.Writer, paths []string) error {
	failed := 0
	for _, path := range paths {
		definitions, err := loadPath(path)
		for _, def := range definitions {
			fmt.Fprintf(out, "ok    %s (%d elements)\n", def.Id, len(def.AllProcessElements()))
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s\n", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d paths failed", errInvalidDefinitions, failed, len(paths))
	}
	return nil
}

func loadPath(path string) ([]*model.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDir(path)
	}
	def, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*model.Definition{def}, nil
}
