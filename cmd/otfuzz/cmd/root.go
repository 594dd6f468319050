package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "otfuzz",
	Short: "FPGA bitstream attribute inference",
	Long: `Infer how configuration attributes of an FPGA are encoded in its
bitstream by running controlled experiments against a vendor toolchain
(or a simulated device) and translating the observed bit differences.

Examples:
  otfuzz catalog catalogs/toy.yaml                 # Show attributes and the batch plan
  otfuzz run --catalog catalogs/toy.yaml -o db.json  # Run the experiments, save the database
  otfuzz dump db.json                              # Print a database as s-expressions
  otfuzz compare want.json got.json                # Compare two databases`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(os.Stderr))
	},
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON lines on stderr")
}

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if logJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
