package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

// ExecConfig configures an ExecBackend.
type ExecConfig struct {
	Info Info `yaml:"info"`

	// Command is the argv of the vendor tool wrapper. The placeholders
	// {config}, {output} and {workdir} are substituted in every argument.
	Command []string `yaml:"command"`

	// WorkDir is the parent of the per-run directories. Empty means the
	// system temp dir.
	WorkDir string `yaml:"workdir"`

	// Keep leaves the per-run directories in place.
	Keep bool `yaml:"keep"`

	Logger *slog.Logger `yaml:"-"`
}

// ExecBackend runs an external command per configuration. The command reads
// the key=value lines from {config} and must write a raw bitstream to
// {output}. Each run uses its own directory, so concurrent runs are safe.
type ExecBackend struct {
	cfg    ExecConfig
	logger *slog.Logger
}

// NewExecBackend checks cfg and returns the backend.
func NewExecBackend(cfg ExecConfig) (*ExecBackend, error) {
	if err := cfg.Info.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("backend: exec command must not be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecBackend{cfg: cfg, logger: logger}, nil
}

func (e *ExecBackend) Info() Info {
	return e.cfg.Info
}

// Run writes cfg, invokes the command and reads back its output.
func (e *ExecBackend) Run(ctx context.Context, cfg Config) (*bitstream.Bitstream, error) {
	parent := e.cfg.WorkDir
	if parent == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(parent, "otfuzz-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("backend: create work dir: %w", err)
	}
	if !e.cfg.Keep {
		defer os.RemoveAll(dir)
	}

	cfgPath := filepath.Join(dir, "config.txt")
	outPath := filepath.Join(dir, "output.bin")
	if err := os.WriteFile(cfgPath, []byte(cfg.String()), 0640); err != nil {
		return nil, fmt.Errorf("backend: write config: %w", err)
	}

	r := strings.NewReplacer("{config}", cfgPath, "{output}", outPath, "{workdir}", dir)
	argv := make([]string, len(e.cfg.Command))
	for i, a := range e.cfg.Command {
		argv[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Debug("running backend command", "device", e.cfg.Info.Name, "dir", dir, "keys", len(cfg))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("backend: %s: %w: %s", argv[0], err, tail(output.String(), 512))
	}

	b, err := bitstream.ReadFile(outPath, e.cfg.Info.Frames, e.cfg.Info.FrameBits)
	if err != nil {
		return nil, fmt.Errorf("backend: %s output: %w", argv[0], err)
	}
	return b, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
