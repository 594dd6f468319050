package fuzzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

var info = backend.Info{Name: "toy", Family: "toy1", Frames: 8, FrameBits: 64}

func clbRect(x int) bitstream.Rect {
	return bitstream.Rect{Name: "CLB", Frame: 2 * x, Frames: 2, Bit: 0, Bits: 16}
}

func feat(tile, attr, val string) FeatureID {
	return FeatureID{Tile: tile, Bel: "SLICE0", Attr: attr, Val: val}
}

func TestBuilderImmutable(t *testing.T) {
	tmpl := New(feat("CLB", "FFSYNC", "SYNC"), clbRect(0)).Base(BelMode("SLICE0"), "FF")
	a := tmpl.Fuzz(BelAttr("SLICE0", "SYNC"), "", "SYNC")
	b := tmpl.Fuzz(BelAttr("SLICE0", "SYNC"), "", "ASYNC").Base(GlobalOpt("GSR"), "1")

	fa, err := a.Build(info)
	require.NoError(t, err)
	fb, err := b.Build(info)
	require.NoError(t, err)

	assert.Len(t, fa.Base(), 1)
	assert.Len(t, fb.Base(), 2)
	assert.Equal(t, "SYNC", fa.Fuzz()[BelAttr("SLICE0", "SYNC")].To)
	assert.Equal(t, "ASYNC", fb.Fuzz()[BelAttr("SLICE0", "SYNC")].To)

	_, err = tmpl.Build(info)
	assert.Error(t, err, "template has nothing fuzzed")
}

func TestBuilderErrors(t *testing.T) {
	base := New(feat("CLB", "FFSYNC", "SYNC"), clbRect(0))
	k := BelAttr("SLICE0", "SYNC")
	cases := map[string]Builder{
		"conflicting base":  base.Base(GlobalOpt("X"), "1").Base(GlobalOpt("X"), "2").Fuzz(k, "", "1"),
		"fuzz over base":    base.Base(k, "1").Fuzz(k, "", "1"),
		"base over fuzz":    base.Fuzz(k, "", "1").Base(k, "1"),
		"no-op fuzz":        base.Fuzz(k, "1", "1"),
		"malformed key":     base.Fuzz(Key{Kind: KindAttr, Name: "X"}, "", "1"),
		"no rect":           New(feat("CLB", "FFSYNC", "SYNC")).Fuzz(k, "", "1"),
		"rect out of bound": New(feat("CLB", "FFSYNC", "SYNC"), clbRect(4)).Fuzz(k, "", "1"),
		"overlapping rects": base.Tile(clbRect(0)).Fuzz(k, "", "1"),
		"no tile":           New(FeatureID{Attr: "A"}, clbRect(0)).Fuzz(k, "", "1"),
		"mutex owners":      base.Fuzz(k, "", "1").Mutex(GlobalMutex("CLK", "A")).Mutex(GlobalMutex("CLK", "B")),
		"bad mutex":         base.Fuzz(k, "", "1").Mutex(TileMutex("", "VREF", "A")),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(info)
			assert.Error(t, err)
		})
	}
}

func TestConfigs(t *testing.T) {
	f, err := New(feat("IOB", "PULL", "PULLUP"), clbRect(0)).
		Base(PinConn("P1"), "1").
		Fuzz(BelAttr("IOB0", "PULL"), "", "PULLUP").
		Fuzz(GlobalOpt("UNUSED"), "PULLNONE", "KEEP").
		Build(info)
	require.NoError(t, err)

	assert.Equal(t, backend.Config{"pin:P1": "1", "global:UNUSED": "PULLNONE"}, f.BaseConfig())
	assert.Equal(t, backend.Config{"pin:P1": "1", "global:UNUSED": "KEEP", "attr:IOB0.PULL": "PULLUP"}, f.PerturbedConfig())
}

func TestProps(t *testing.T) {
	b := New(feat("IOB", "IOSTD", "LVDS"), clbRect(0)).
		Fuzz(BelAttr("IOB0", "IOSTD"), "", "LVDS").
		Prop(PinProp{Pin: "P1"}).
		Prop(ModeProp{Bel: "IOB0", Mode: "IOB"}).
		Prop(MutexProp{Mutex: bankMutex()}).
		Prop(ExtraTileProp{Rect: clbRect(1)}).
		Prop(FamilyProp{Families: []string{"toy2"}, Inner: GlobalProp{Option: "LVDS_BIAS", Value: "ON"}}).
		Prop(FamilyProp{Families: []string{"toy1"}, Inner: GlobalProp{Option: "DCI", Value: "ON"}})

	f, err := b.Build(info)
	require.NoError(t, err)
	base := f.Base()
	assert.Equal(t, "1", base[PinConn("P1")])
	assert.Equal(t, "IOB", base[BelMode("IOB0")])
	assert.Equal(t, "ON", base[GlobalOpt("DCI")])
	_, ok := base[GlobalOpt("LVDS_BIAS")]
	assert.False(t, ok, "prop for other family applied")
	assert.Len(t, f.Rects(), 2)
	require.Len(t, f.Mutexes(), 1)
	assert.Equal(t, "tile:IOB_X0/VREF=1V2", f.Mutexes()[0].String())
	assert.Len(t, f.Props(), 6)

	_, err = b.Prop(ModeProp{Bel: "IOB1"}).Build(info)
	assert.Error(t, err)

	// A family prop needs something to apply, even on other families.
	empty := FamilyProp{Families: []string{"toy2"}}
	assert.Equal(t, "family [toy2]: <nil>", empty.Name())
	assert.Nil(t, empty.Clone().(FamilyProp).Inner)
	_, err = b.Prop(empty).Build(info)
	assert.ErrorContains(t, err, "without inner prop")

	_, err = b.Prop(nil).Build(info)
	assert.ErrorContains(t, err, "nil prop")
}

func bankMutex() Mutex {
	return TileMutex("IOB_X0", "VREF", "1V2")
}

func TestCompatible(t *testing.T) {
	mk := func(x int, mutex Mutex, base map[Key]Value, fuzz Key) *Fuzzer {
		b := New(feat("CLB", "A", "B"), clbRect(x)).Fuzz(fuzz, "", "1").Mutex(mutex)
		for k, v := range base {
			b = b.Base(k, v)
		}
		f, err := b.Build(info)
		require.NoError(t, err)
		return f
	}
	clk0 := GlobalMutex("CLK", "GCLK0")
	clk1 := GlobalMutex("CLK", "GCLK1")

	a := mk(0, clk0, map[Key]Value{GlobalOpt("X"): "1"}, BelAttr("S0", "A"))
	assert.NoError(t, Compatible(a, mk(1, clk0, map[Key]Value{GlobalOpt("X"): "1"}, BelAttr("S1", "A"))))

	cases := map[string]*Fuzzer{
		"base value":     mk(1, clk0, map[Key]Value{GlobalOpt("X"): "2"}, BelAttr("S1", "A")),
		"fuzz over base": mk(1, clk0, map[Key]Value{BelAttr("S0", "A"): "0"}, BelAttr("S1", "A")),
		"same fuzz key":  mk(1, clk0, nil, BelAttr("S0", "A")),
		"base fuzzed":    mk(1, clk0, nil, GlobalOpt("X")),
		"mutex owner":    mk(1, clk1, nil, BelAttr("S1", "A")),
		"overlap":        mk(0, clk0, nil, BelAttr("S1", "A")),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			err := Compatible(a, b)
			assert.True(t, errors.Is(err, ErrIncompatible), "got %v", err)
			assert.True(t, errors.Is(Compatible(b, a), ErrIncompatible))
		})
	}
}

func TestKeyStrings(t *testing.T) {
	cases := map[Key]string{
		GlobalOpt("GSR"):       "global:GSR",
		PinConn("A12"):         "pin:A12",
		BelMode("SLICE0"):      "mode:SLICE0",
		BelAttr("SLICE0", "X"): "attr:SLICE0.X",
		Raw("-g foo"):          "raw:-g foo",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
		assert.NoError(t, k.Validate())
	}
	assert.Equal(t, "SYNC#3", IndexedVal("SYNC", 3))
	assert.Equal(t, "CLB:SLICE0:FFSYNC:SYNC", feat("CLB", "FFSYNC", "SYNC").String())
}
