package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/codec"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmfile"
)

func newTSMCommand(logger *zap.Logger) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "tsm",
		Short:         "Decode a TSM file's blocks to standard output",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return dumpTSM(path, logger)
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the TSM file (required)")
	cmd.MarkFlagRequired("path")

	return cmd
}

func dumpTSM(path string, logger *zap.Logger) error {
	backend := storage.NewLocal()

	r, err := tsmfile.Open(backend, path, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, key := range r.Keys() {
		entries, err := r.Entries(key)
		if err != nil {
			return err
		}

		for _, e := range entries {
			blockType, tsBytes, valBytes, err := r.ReadBlock(key, e)
			if err != nil {
				return err
			}

			if err := printBlock(string(key), blockType, tsBytes, valBytes); err != nil {
				return err
			}
		}
	}

	return nil
}

func printBlock(key string, typ block.Type, tsBytes, valBytes []byte) error {
	tsDec := codec.NewTimestampDecoder(tsBytes)

	switch typ {
	case block.TypeFloat:
		valDec := codec.NewFloatDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			fmt.Printf("%s\t%d\t%v\n", key, tsDec.Value(), valDec.Value())
		}

		return valDec.Err()
	case block.TypeInteger:
		valDec := codec.NewIntegerDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			fmt.Printf("%s\t%d\t%v\n", key, tsDec.Value(), valDec.Value())
		}

		return valDec.Err()
	case block.TypeUnsigned:
		valDec := codec.NewUnsignedDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			fmt.Printf("%s\t%d\t%v\n", key, tsDec.Value(), valDec.Value())
		}

		return valDec.Err()
	case block.TypeBool:
		valDec := codec.NewBoolDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			fmt.Printf("%s\t%d\t%v\n", key, tsDec.Value(), valDec.Value())
		}

		return valDec.Err()
	case block.TypeBytes:
		valDec := codec.NewStringDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			fmt.Printf("%s\t%d\t%q\n", key, tsDec.Value(), valDec.Value())
		}

		return valDec.Err()
	default:
		return fmt.Errorf("tsmctl: unknown block type %s for key %q", typ, key)
	}
}
