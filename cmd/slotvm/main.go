// Command slotvm is the command-line launcher: it reads a source file,
// parses it, and drives it through either the tree-walking interpreter or
// the JIT compiler.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetratelabs/slotvm/internal/driver"
)

func main() {
	os.Exit(run())
}

func run() int {
	var backendFlag string

	log, err := zap.NewProduction(zap.WithCaller(false))
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	exitCode := driver.ExitOK
	cmd := &cobra.Command{
		Use:           "slotvm <source-file>",
		Short:         "Run a slotvm assembly program",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			backend, err := driver.ParseBackend(backendFlag)
			if err != nil {
				exitCode = driver.ExitParseError
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				exitCode = driver.ExitRuntimeError
				return err
			}
			exitCode = driver.Run(src, backend, log)
			return nil
		},
	}
	cmd.Flags().StringVar(&backendFlag, "backend", "interp", `execution backend: "interp" or "jit"`)

	if err := cmd.Execute(); err != nil {
		log.Error("slotvm", zap.Error(err))
		if exitCode == driver.ExitOK {
			exitCode = driver.ExitParseError
		}
		return exitCode
	}
	return exitCode
}
