package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/catalog"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/collector"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/session"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb/store"
)

var (
	// Flags for run command
	runOpts    runConfig
	runCfgFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiments of a catalog and build the tile database",
	Long: `Generate one experiment per attribute value of a catalog, run them
against a backend and translate the observed bit differences into the
tile database.

Experiments that touch disjoint tiles are batched into the same backend
runs. Each member of a batch is perturbed in a distinct subset of runs;
changed bits are attributed by the subset they changed in and by the
tile rectangle they fall in. One member of every batch is re-run alone
and compared (--spot-check); --verify re-runs every member alone. A
batched diff that differs from the solo one fails the run.

Backends:
  sim   the rule table in the catalog's sim section (default)
  exec  an external command; {config}, {output} and {workdir} are
        substituted in every argument

Examples:
  # Simulated device, plain JSON output
  otfuzz run --catalog catalogs/toy.yaml --output db.json

  # Vendor tool wrapper, four concurrent batches, verified
  otfuzz run --catalog catalogs/ --device xc7a35t --backend exec \
    --exec ./wrap.sh --exec {config} --exec {output} \
    --workers 4 --verify --store db/

  # Everything from a run file
  otfuzz run --config run.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCfgFile, "config", "",
		"YAML run file; command line flags override it")
	runCmd.Flags().StringVarP(&runOpts.Catalog, "catalog", "c", "",
		"catalog file or directory")
	runCmd.Flags().StringVarP(&runOpts.Device, "device", "d", "",
		"device to run when the catalog directory holds several")
	runCmd.Flags().StringVarP(&runOpts.Backend, "backend", "b", "sim",
		"backend type (sim, exec)")
	runCmd.Flags().StringSliceVar(&runOpts.Exec, "exec", nil,
		"argv of the exec backend, one --exec per argument")
	runCmd.Flags().StringVar(&runOpts.WorkDir, "workdir", "",
		"parent directory of the exec backend's run directories")
	runCmd.Flags().BoolVar(&runOpts.KeepWork, "keep-workdir", false,
		"keep the exec backend's run directories")
	runCmd.Flags().IntVar(&runOpts.MaxBatch, "max-batch", 16,
		"maximum experiments per batch (1 disables batching)")
	runCmd.Flags().IntVarP(&runOpts.Workers, "workers", "j", 1,
		"batches run concurrently")
	runCmd.Flags().BoolVar(&runOpts.Verify, "verify", false,
		"re-run every batched experiment alone and compare")
	runCmd.Flags().IntVar(&runOpts.SpotCheck, "spot-check", 1,
		"members per batch re-run alone and compared when --verify is off (0 disables)")
	runCmd.Flags().BoolVar(&runOpts.StrictOutside, "strict-outside", false,
		"fail on bit changes outside every tile rectangle")
	runCmd.Flags().BoolVar(&runOpts.AllowUnused, "allow-unused", false,
		"warn instead of failing when measurements are left unconsumed")
	runCmd.Flags().IntVar(&runOpts.Timeout, "timeout", 0,
		"timeout in seconds (0 = no timeout)")
	runCmd.Flags().StringVarP(&runOpts.Output, "output", "o", "",
		"output JSON file path")
	runCmd.Flags().StringVar(&runOpts.Sexp, "sexp", "",
		"output s-expression file path")
	runCmd.Flags().StringVar(&runOpts.Store, "store", "",
		"badger store directory to save the database into")
	runCmd.Flags().StringVar(&runOpts.MetricsFile, "metrics-file", "",
		"write the run metrics in Prometheus text format to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	opts := runOpts
	if runCfgFile != "" {
		file, err := loadRunConfig(runCfgFile)
		if err != nil {
			return err
		}
		opts.merge(file, cmd.Flags().Changed)
	}

	if verbose {
		fmt.Printf("Loading catalog from: %s\n", opts.Catalog)
	}
	cat, err := loadCatalog(opts.Catalog, opts.Device)
	if err != nil {
		return err
	}

	fuzzers, err := cat.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate experiments: %w", err)
	}
	fmt.Printf("Device %s (%s): %d attribute(s), %d experiment(s)\n",
		cat.Info.Name, cat.Info.Family, len(cat.Attributes), len(fuzzers))

	b, err := createBackend(cat, opts)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	reg := prometheus.NewRegistry()
	cfg := session.DefaultConfig()
	cfg.MaxBatch = opts.MaxBatch
	cfg.Workers = opts.Workers
	cfg.Verify = opts.Verify
	cfg.SpotCheck = opts.SpotCheck
	cfg.StrictOutside = opts.StrictOutside
	cfg.Logger = slog.Default()
	cfg.Registerer = reg

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := session.New(b, cfg)
	if err != nil {
		return err
	}
	s.Add(fuzzers...)

	plan := s.Plan()
	fmt.Printf("Batches: %d (max %d per batch, %d worker(s))\n", len(plan), cfg.MaxBatch, cfg.Workers)
	if verbose {
		fmt.Printf("Session: %s\n", s.ID())
	}
	fmt.Println()

	// Create progress channel
	progressCh := make(chan session.Progress, 10)
	done := make(chan struct{})
	go func() {
		displayProgress(progressCh)
		close(done)
	}()

	// Set up context with optional timeout
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()
	}

	state, err := s.Run(ctx, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	ccfg := collector.DefaultConfig(cat.Info.Name)
	ccfg.AllowUnused = opts.AllowUnused
	ccfg.Logger = slog.Default()
	col, err := collector.New(state, ccfg)
	if err != nil {
		return err
	}
	if err := cat.Collect(col); err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}
	status := col.Status()
	db, err := col.Finish()
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	printRunSummary(db, status, s.Runs(), time.Since(startTime))

	return exportRun(ctx, db, reg, opts)
}

func createBackend(cat *catalog.Catalog, opts runConfig) (backend.Backend, error) {
	switch opts.Backend {
	case "", "sim":
		if cat.Sim == nil {
			return nil, fmt.Errorf("catalog %s has no sim section", cat.Info.Name)
		}
		return backend.NewSimBackend(cat.SimDevice())
	case "exec":
		return backend.NewExecBackend(backend.ExecConfig{
			Info:    cat.Info,
			Command: opts.Exec,
			WorkDir: opts.WorkDir,
			Keep:    opts.KeepWork,
			Logger:  slog.Default(),
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s (use sim or exec)", opts.Backend)
	}
}

// displayProgress shows real-time progress updates
func displayProgress(progressCh <-chan session.Progress) {
	lastPercent := -1

	for p := range progressCh {
		switch p.Phase {
		case "init":
			fmt.Println("Running baseline and batches...")
			continue
		case "finalizing":
			fmt.Printf("\r%-80s\r", "")
			fmt.Println("Collecting attributes...")
			continue
		}

		percent := 0
		if p.Total > 0 {
			percent = (p.Index * 100) / p.Total
		}
		if percent == lastPercent {
			continue
		}

		barWidth := 40
		filled := (percent * barWidth) / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		fmt.Printf("\r[%s] %3d%% | Batch %d/%d | Runs: %d",
			bar, percent, p.Index, p.Total, p.Runs)
		lastPercent = percent
	}
}

// printRunSummary displays a summary of the resolved database
func printRunSummary(db *tiledb.Database, status collector.Status, runs int, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("Inference complete")
	fmt.Println()
	fmt.Printf("Items resolved:        %d\n", db.Len())
	fmt.Printf("Measurements:          %s\n", status)
	fmt.Printf("Backend runs:          %d\n", runs)
	fmt.Printf("Time elapsed:          %s\n", elapsed.Round(time.Millisecond))

	if verbose && db.Len() <= 40 {
		fmt.Println()
		for _, e := range db.Entries() {
			fmt.Printf("  %s: %s\n", e.Key, e.Item)
		}
	}
}

func exportRun(ctx context.Context, db *tiledb.Database, reg *prometheus.Registry, opts runConfig) error {
	if opts.Output != "" {
		data, err := db.ExportJSON()
		if err != nil {
			return fmt.Errorf("failed to export JSON: %w", err)
		}
		if err := writeFile(opts.Output, data); err != nil {
			return err
		}
		fmt.Printf("\n✓ JSON database saved to: %s\n", opts.Output)
	}

	if opts.Sexp != "" {
		if err := writeFile(opts.Sexp, []byte(db.SexpString())); err != nil {
			return err
		}
		fmt.Printf("✓ S-expression database saved to: %s\n", opts.Sexp)
	}

	if opts.Store != "" {
		scfg := store.DefaultConfig(opts.Store)
		scfg.Logger = slog.Default()
		st, err := store.Open(scfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		err = st.Save(ctx, db)
		if cerr := st.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to save database: %w", err)
		}
		fmt.Printf("✓ Database stored in: %s\n", opts.Store)
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		fmt.Printf("✓ Metrics written to: %s\n", opts.MetricsFile)
	}

	if opts.Output == "" && opts.Sexp == "" && opts.Store == "" {
		fmt.Println("\n⚠ No output specified. Use --output, --sexp or --store to save results.")
	}
	return nil
}
