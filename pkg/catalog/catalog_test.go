package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/collector"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/session"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

func loadToy(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadFile(filepath.Join("testdata", "toy.yaml"))
	require.NoError(t, err)
	return c
}

func TestLoadToy(t *testing.T) {
	c := loadToy(t)
	assert.Equal(t, "toy4", c.Info.Name)
	assert.Len(t, c.Tiles, 3)
	assert.Len(t, c.Attributes, 8)
	require.NotNil(t, c.Sim)
	assert.Len(t, c.SimDevice().Rules, len(c.Sim.Rules))

	// Marshal output parses back to the same catalog.
	data, err := c.Marshal()
	require.NoError(t, err)
	again, err := ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

const minimal = `
info: {name: t, family: f, frames: 2, frame_bits: 8}
tiles:
  T: [{frame: 0, frames: 2, bit: 0, bits: 8}]
attributes:
`

func TestValidateErrors(t *testing.T) {
	tests := map[string]string{
		"unknown tile":     `- {tile: X, bel: B, attr: A, kind: bool, values: [0, 1]}`,
		"bool arity":       `- {tile: T, bel: B, attr: A, kind: bool, values: [0]}`,
		"bool default":     `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], default: "1"}`,
		"enum default":     `- {tile: T, bel: B, attr: A, kind: enum, values: [X, Y], default: Z}`,
		"mux none":         `- {tile: T, bel: B, attr: A, kind: mux, values: [NONE]}`,
		"bitvec width":     `- {tile: T, bel: B, attr: A, kind: bitvec}`,
		"unknown kind":     `- {tile: T, bel: B, attr: A, kind: float}`,
		"bad key":          `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], key: "mode:B.X"}`,
		"bad base":         `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], base: ["mode:B"]}`,
		"bad mutex":        `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], mutexes: ["global:X"]}`,
		"fixed no order":   `- {tile: T, bel: B, attr: A, kind: enum, values: [X, Y], default: X, ocd: fixed}`,
		"order not fixed":  `- {tile: T, bel: B, attr: A, kind: enum, values: [X, Y], default: X, order: ["0.0.1"]}`,
		"unknown field":    `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], colour: red}`,
		"dependency later": `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], depends: [{bel: B, attr: M, from: X, to: Y}]}`,
		"dependency bool value": `- {tile: T, bel: B, attr: M, kind: bool, values: [OFF, ON]}
- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], depends: [{bel: B, attr: M, from: OFF, to: 0N}]}`,
		"dependency enum value": `- {tile: T, bel: B, attr: M, kind: enum, values: [X, Y], default: X}
- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], depends: [{bel: B, attr: M, from: X, to: Z}]}`,
		"dependency mux value": `- {tile: T, bel: B, attr: M, kind: mux, values: [P, Q]}
- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], depends: [{bel: B, attr: M, from: NONE, to: R}]}`,
		"twice": `- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1]}
- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1]}`,
	}
	for name, attrs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBytes([]byte(minimal + attrs + "\n"))
			assert.Error(t, err)
		})
	}

	_, err := ParseBytes([]byte(minimal + `- {tile: T, bel: B, attr: A, kind: enum, values: [X, Y], default: X, ocd: fixed, order: ["0.0.1"]}` + "\n"))
	assert.NoError(t, err)

	// An unconnected mux is NONE or empty.
	for _, from := range []string{"NONE", `""`} {
		_, err = ParseBytes([]byte(minimal + `- {tile: T, bel: B, attr: M, kind: mux, values: [P, Q]}
- {tile: T, bel: B, attr: A, kind: bool, values: [0, 1], depends: [{bel: B, attr: M, from: ` + from + `, to: Q}]}` + "\n"))
		assert.NoError(t, err, from)
	}
}

func TestGenerate(t *testing.T) {
	c := loadToy(t)
	fs, err := c.Generate()
	require.NoError(t, err)
	assert.Len(t, fs, 14)

	byVal := make(map[string]*fuzzer.Fuzzer)
	for _, f := range fs {
		byVal[f.ID().Attr+"/"+f.ID().Val] = f
	}

	clk := byVal["CLKINV/CLK_B"]
	require.NotNil(t, clk)
	assert.Equal(t, backend.Config{}, clk.BaseConfig())
	assert.Equal(t, backend.Config{"attr:SLICE0.CLKINV": "CLK_B"}, clk.PerturbedConfig())

	init := byVal["FFINIT/1"]
	require.NotNil(t, init)
	assert.Equal(t, backend.Config{"attr:SLICE0.FFINIT": "0", "mode:SLICE0": "NONE"}, init.BaseConfig())
	assert.Equal(t, backend.Config{"attr:SLICE0.FFINIT": "1", "mode:SLICE0": "LOGIC"}, init.PerturbedConfig())

	drive := byVal["DRIVE/DRIVE#2"]
	require.NotNil(t, drive)
	assert.Equal(t, backend.Config{"attr:IO0.DRIVE": "000", "pin:A1": "1"}, drive.BaseConfig())
	assert.Equal(t, "100", drive.PerturbedConfig()["attr:IO0.DRIVE"])
	assert.Equal(t, []fuzzer.Mutex{fuzzer.BelMutex("IO0", "VCCO", "3.3")}, drive.Mutexes())
	assert.Equal(t, []string{"pin A1", "mutex bel:IO0/VCCO=3.3"}, drive.Props())

	imux := byVal["IMUX0/B"]
	require.NotNil(t, imux)
	assert.Equal(t, backend.Config{"global:ROUTING": "ON"}, imux.BaseConfig())
}

func TestGenerateFamilyRestriction(t *testing.T) {
	c := loadToy(t)
	c.Info.Family = "other"
	a, ok := c.attribute("INT0", "", "IMUX0")
	require.True(t, ok)
	fs, err := c.Experiments(a)
	require.NoError(t, err)
	require.Len(t, fs, 3)
	assert.Equal(t, backend.Config{}, fs[0].BaseConfig())
}

func TestGenerateExtraTiles(t *testing.T) {
	c := loadToy(t)
	a := Attribute{Tile: "CLB0", Bel: "SLICE0", Name: "CARRY", Kind: KindBool, Values: []string{"0", "1"}, ExtraTiles: []string{"INT0"}}
	require.NoError(t, c.validateAttr(a, map[string]int{}))
	fs, err := c.Experiments(a)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	rects := fs[0].Rects()
	require.Len(t, rects, 2)
	assert.Equal(t, "INT0", rects[1].Name)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runToy measures the toy catalog on its simulated device and resolves it.
func runToy(t *testing.T, c *Catalog, maxBatch int) *tiledb.Database {
	t.Helper()
	fs, err := c.Generate()
	require.NoError(t, err)
	sim, err := backend.NewSimBackend(c.SimDevice())
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.MaxBatch = maxBatch
	cfg.Verify = true
	cfg.Logger = quiet()
	s, err := session.New(sim, cfg)
	require.NoError(t, err)
	s.Add(fs...)
	state, err := s.Run(context.Background(), nil)
	require.NoError(t, err)

	ccfg := collector.DefaultConfig(c.Info.Name)
	ccfg.Logger = quiet()
	col, err := collector.New(state, ccfg)
	require.NoError(t, err)
	require.NoError(t, c.Collect(col))
	db, err := col.Finish()
	require.NoError(t, err)
	return db
}

func bv(s string) tiledb.BitVec {
	v, err := tiledb.ParseBitVec(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bits(ps ...string) []bitdiff.BitPos {
	out := make([]bitdiff.BitPos, len(ps))
	for i, s := range ps {
		p, err := bitdiff.ParseBitPos(s)
		if err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	c := loadToy(t)
	db := runToy(t, c, 16)

	want := map[tiledb.Key]tiledb.Item{
		{Tile: "CLB0", Bel: "SLICE0", Attr: "FFSYNC"}: tiledb.BitItem(bits("0.1.3")[0], false),
		{Tile: "CLB0", Bel: "SLICE0", Attr: "CLKINV"}: tiledb.BitItem(bits("0.0.5")[0], true),
		{Tile: "CLB0", Bel: "SLICE0", Attr: "FFINIT"}: tiledb.BitItem(bits("0.1.7")[0], false),
		{Tile: "CLB0", Bel: "SLICE0", Attr: "MODE"}: {
			Kind: tiledb.KindEnum, Bits: bits("0.0.8", "0.0.9"), Ocd: "value",
			Values: map[string]tiledb.BitVec{"NONE": bv("00"), "LOGIC": bv("01"), "RAM": bv("11")},
		},
		{Tile: "CLB0", Bel: "SLICE0", Attr: "FFEN"}: {
			Kind: tiledb.KindWideBit, Bits: bits("0.1.10", "0.1.11"), Invert: tiledb.BitVec{false, false},
		},
		{Tile: "IOB0", Bel: "IO0", Attr: "DRIVE"}: {
			Kind: tiledb.KindBitVec, Bits: bits("0.0.0", "0.1.1", "0.0.2"), Invert: tiledb.BitVec{false, true, false},
		},
		{Tile: "IOB0", Bel: "IO0", Attr: "IOSTD"}: {
			Kind: tiledb.KindEnum, Bits: bits("0.0.4", "0.0.5", "0.0.6"), Ocd: "bit",
			Values: map[string]tiledb.BitVec{"LVCMOS33": bv("000"), "LVCMOS18": bv("010"), "SSTL": bv("101")},
		},
		{Tile: "INT0", Bel: "", Attr: "IMUX0"}: {
			Kind: tiledb.KindEnum, Bits: bits("0.0.0", "0.1.1", "0.2.2"), Ocd: "mux",
			Values: map[string]tiledb.BitVec{"NONE": bv("000"), "A": bv("001"), "B": bv("010"), "C": bv("100")},
		},
	}
	expected := tiledb.New("toy4")
	for k, item := range want {
		require.NoError(t, expected.Insert(k, item), k.String())
	}
	mismatches := tiledb.Compare(expected, db)
	assert.Empty(t, mismatches)

	// Batching never changes the result.
	solo := runToy(t, loadToy(t), 1)
	assert.Empty(t, tiledb.Compare(db, solo))
}

func TestEndToEndInconsistent(t *testing.T) {
	c := loadToy(t)
	// A stray bit in FFSYNC's tile: the catalog does not explain it.
	c.Sim.Rules[0].Set = append(c.Sim.Rules[0].Set, c.Sim.Rules[0].Set[0])
	c.Sim.Rules[0].Set[1].Bit++

	fs, err := c.Generate()
	require.NoError(t, err)
	sim, err := backend.NewSimBackend(c.SimDevice())
	require.NoError(t, err)
	cfg := session.DefaultConfig()
	cfg.Logger = quiet()
	s, err := session.New(sim, cfg)
	require.NoError(t, err)
	s.Add(fs...)
	state, err := s.Run(context.Background(), nil)
	require.NoError(t, err)

	ccfg := collector.DefaultConfig(c.Info.Name)
	ccfg.Logger = quiet()
	col, err := collector.New(state, ccfg)
	require.NoError(t, err)
	err = c.Collect(col)
	require.Error(t, err)
	var ide *bitdiff.InconsistentDiffError
	assert.ErrorAs(t, err, &ide)
	assert.Contains(t, err.Error(), "FFSYNC")
	assert.Contains(t, err.Error(), "toy4")
}

func TestRepository(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.LoadDir("testdata"))
	assert.Equal(t, []string{"toy4"}, repo.Devices())
	assert.Equal(t, []string{"toy4"}, repo.Family("toy"))

	c, err := repo.Lookup("toy4")
	require.NoError(t, err)
	assert.Equal(t, "toy", c.Info.Family)

	_, err = repo.Lookup("xc7a35t")
	assert.Error(t, err)

	// A second file for the same device is a conflict.
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "toy.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a catalog"), 0o644))
	err = NewMemoryRepository().LoadDir(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "defined by both"), err.Error())
}
