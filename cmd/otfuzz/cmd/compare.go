package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

var compareDevice string

var compareCmd = &cobra.Command{
	Use:   "compare <want> <got>",
	Short: "Compare two tile databases",
	Long: `Compare two tile databases item by item. Each argument may be a JSON
file, an s-expression file or a badger store directory. Exits non-zero
when the databases differ.

Examples:
  otfuzz compare golden/toy4.sexp db.json`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringVarP(&compareDevice, "device", "d", "",
		"device to compare when a store holds several")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	want, err := loadDatabase(ctx, args[0], compareDevice)
	if err != nil {
		return err
	}
	got, err := loadDatabase(ctx, args[1], compareDevice)
	if err != nil {
		return err
	}

	mismatches := tiledb.Compare(want, got)
	if len(mismatches) == 0 {
		fmt.Printf("✓ Databases identical (%d items)\n", want.Len())
		return nil
	}
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}
	return fmt.Errorf("%d mismatch(es) between %s and %s", len(mismatches), args[0], args[1])
}
