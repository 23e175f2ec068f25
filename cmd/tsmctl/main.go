// Command tsmctl is a debug inspection tool: one subcommand per on-disk
// kind, streaming decoded entries to standard output.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:           "tsmctl",
		Short:         "Inspect tsmstore on-disk files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	root.AddCommand(newTSMCommand(logger))
	root.AddCommand(newSeriesSegmentCommand(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tsmctl:", err)
		os.Exit(1)
	}
}
