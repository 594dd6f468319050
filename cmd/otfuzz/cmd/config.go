package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/catalog"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb/store"
)

// runConfig mirrors the run flags so a whole run can be described in a
// YAML file. Flags given on the command line win over the file.
type runConfig struct {
	Catalog string `yaml:"catalog"`
	Device  string `yaml:"device"`

	Backend       string   `yaml:"backend"`
	Exec          []string `yaml:"exec"`
	WorkDir       string   `yaml:"workdir"`
	KeepWork      bool     `yaml:"keep_workdir"`
	MaxBatch      int      `yaml:"max_batch"`
	Workers       int      `yaml:"workers"`
	Verify        bool     `yaml:"verify"`
	SpotCheck     int      `yaml:"spot_check"`
	StrictOutside bool     `yaml:"strict_outside"`
	AllowUnused   bool     `yaml:"allow_unused"`
	Timeout       int      `yaml:"timeout"`

	Output      string `yaml:"output"`
	Sexp        string `yaml:"sexp"`
	Store       string `yaml:"store"`
	MetricsFile string `yaml:"metrics_file"`
}

func loadRunConfig(path string) (runConfig, error) {
	var cfg runConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read run config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse run config %s: %w", path, err)
	}
	return cfg, nil
}

// merge copies every field of file into c whose flag was not set.
func (c *runConfig) merge(file runConfig, changed func(string) bool) {
	str := func(flag string, dst *string, v string) {
		if !changed(flag) && v != "" {
			*dst = v
		}
	}
	num := func(flag string, dst *int, v int) {
		if !changed(flag) && v != 0 {
			*dst = v
		}
	}
	flag := func(flag string, dst *bool, v bool) {
		if !changed(flag) && v {
			*dst = v
		}
	}
	str("catalog", &c.Catalog, file.Catalog)
	str("device", &c.Device, file.Device)
	str("backend", &c.Backend, file.Backend)
	if !changed("exec") && len(file.Exec) > 0 {
		c.Exec = file.Exec
	}
	str("workdir", &c.WorkDir, file.WorkDir)
	flag("keep-workdir", &c.KeepWork, file.KeepWork)
	num("max-batch", &c.MaxBatch, file.MaxBatch)
	num("workers", &c.Workers, file.Workers)
	flag("verify", &c.Verify, file.Verify)
	num("spot-check", &c.SpotCheck, file.SpotCheck)
	flag("strict-outside", &c.StrictOutside, file.StrictOutside)
	flag("allow-unused", &c.AllowUnused, file.AllowUnused)
	num("timeout", &c.Timeout, file.Timeout)
	str("output", &c.Output, file.Output)
	str("sexp", &c.Sexp, file.Sexp)
	str("store", &c.Store, file.Store)
	str("metrics-file", &c.MetricsFile, file.MetricsFile)
}

// loadCatalog reads a catalog file, or a directory of them. A directory
// holding more than one device needs device to pick one.
func loadCatalog(path, device string) (*catalog.Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("no catalog given (use --catalog)")
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	repo := catalog.NewMemoryRepository()
	if st.IsDir() {
		err = repo.LoadDir(path)
	} else {
		err = repo.LoadFiles(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	if device == "" {
		devices := repo.Devices()
		switch len(devices) {
		case 0:
			return nil, fmt.Errorf("no catalogs found in %s", path)
		case 1:
			device = devices[0]
		default:
			return nil, fmt.Errorf("%s holds several devices (%s), use --device",
				path, strings.Join(devices, ", "))
		}
	}
	return repo.Lookup(device)
}

// loadDatabase reads a database from a badger store directory, an
// s-expression file (.sexp) or a JSON file.
func loadDatabase(ctx context.Context, path, device string) (*tiledb.Database, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if st.IsDir() {
		return loadStore(ctx, path, device)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database: %w", err)
	}
	var db *tiledb.Database
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sexp", ".scm":
		db, err = tiledb.ReadSexp(bytes.NewReader(data))
	default:
		db, err = tiledb.ImportJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if device != "" && db.Device != device {
		return nil, fmt.Errorf("%s holds device %s, not %s", path, db.Device, device)
	}
	return db, nil
}

func loadStore(ctx context.Context, path, device string) (*tiledb.Database, error) {
	cfg := store.DefaultConfig(path)
	cfg.Logger = slog.Default()
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if device == "" {
		devices, err := st.Devices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devices) != 1 {
			return nil, fmt.Errorf("store %s holds %d devices, use --device", path, len(devices))
		}
		device = devices[0]
	}
	return st.Load(ctx, device)
}

// writeFile saves data to path, creating the directory if needed
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
