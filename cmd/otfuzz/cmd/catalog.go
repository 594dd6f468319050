package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/session"
)

var (
	catalogDevice    string
	catalogMaxBatch  int
	catalogNormalize bool
	catalogPlan      bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog <file|dir>",
	Short: "Validate a catalog and show its experiments",
	Long: `Load and validate a device catalog, then list its attributes with the
number of experiments each needs and the resulting batch plan.

Examples:
  otfuzz catalog catalogs/toy.yaml
  otfuzz catalog catalogs/ --device toy4 --plan
  otfuzz catalog catalogs/toy.yaml --normalize > toy.norm.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)

	catalogCmd.Flags().StringVarP(&catalogDevice, "device", "d", "",
		"device to show when the directory holds several")
	catalogCmd.Flags().IntVar(&catalogMaxBatch, "max-batch", 16,
		"maximum experiments per batch for the plan")
	catalogCmd.Flags().BoolVar(&catalogNormalize, "normalize", false,
		"print the catalog back as normalized YAML")
	catalogCmd.Flags().BoolVar(&catalogPlan, "plan", false,
		"list the members of every batch")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(args[0], catalogDevice)
	if err != nil {
		return err
	}

	if catalogNormalize {
		data, err := cat.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	fmt.Printf("Device:     %s\n", cat.Info.Name)
	fmt.Printf("Family:     %s\n", cat.Info.Family)
	fmt.Printf("Geometry:   %d frames x %d bits\n", cat.Info.Frames, cat.Info.FrameBits)
	fmt.Printf("Tiles:      %d\n", len(cat.Tiles))
	if cat.Sim != nil {
		fmt.Printf("Simulated:  %d rule(s)\n", len(cat.Sim.Rules))
	}
	fmt.Println()

	total := 0
	fmt.Printf("%-8s %-10s %-12s %-8s %s\n", "TILE", "BEL", "ATTR", "KIND", "EXPERIMENTS")
	for _, a := range cat.Attributes {
		exps, err := cat.Experiments(a)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		bel := a.Bel
		if bel == "" {
			bel = "-"
		}
		fmt.Printf("%-8s %-10s %-12s %-8s %d\n", a.Tile, bel, a.Name, a.Kind, len(exps))
		total += len(exps)
	}

	fuzzers, err := cat.Generate()
	if err != nil {
		return err
	}
	plan := session.Plan(fuzzers, catalogMaxBatch)
	fmt.Printf("\nTotal: %d experiments in %d batch(es)\n", total, len(plan))

	if catalogPlan {
		for _, b := range plan {
			fmt.Printf("\n  Batch %d (%d members):\n", b.Index, len(b.Members))
			for _, m := range b.Members {
				fmt.Printf("    • %s\n", m.ID())
			}
		}
	}
	return nil
}
