package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dumpDevice string
	dumpFormat string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <db.json|db.sexp|store-dir>",
	Short: "Print a tile database",
	Long: `Print a tile database read from a JSON file, an s-expression file or a
badger store directory.

Examples:
  otfuzz dump db.json
  otfuzz dump db/ --device toy4 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVarP(&dumpDevice, "device", "d", "",
		"device to print when the store holds several")
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "sexp",
		"output format (sexp, json)")
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := loadDatabase(ctx, args[0], dumpDevice)
	if err != nil {
		return err
	}

	switch dumpFormat {
	case "sexp":
		return db.WriteSexp(os.Stdout)
	case "json":
		data, err := db.ExportJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use sexp or json)", dumpFormat)
	}
}
