package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/seriesfile"
	"github.com/coreseries/tsmstore/storage"
)

func newSeriesSegmentCommand(logger *zap.Logger) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "series-segment",
		Short:         "Decode a series file segment log to standard output",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return dumpSeriesSegment(path, logger)
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the .sseg file (required)")
	cmd.MarkFlagRequired("path")

	return cmd
}

func dumpSeriesSegment(path string, logger *zap.Logger) error {
	backend := storage.NewLocal()

	records, err := seriesfile.DumpSegment(backend, path)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Insert {
			fmt.Printf("%d\tinsert\t%d\t%q\n", rec.Offset, rec.ID, rec.Key)
			continue
		}

		fmt.Printf("%d\ttombstone\t%d\n", rec.Offset, rec.ID)
	}

	logger.Debug("series segment dumped", zap.String("path", path), zap.Int("records", len(records)))

	return nil
}
