package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want fuzzer.Key
	}{
		{"global:DONE_CYCLE", fuzzer.GlobalOpt("DONE_CYCLE")},
		{"pin:A1", fuzzer.PinConn("A1")},
		{"mode:SLICE0", fuzzer.BelMode("SLICE0")},
		{"attr:SLICE0.FFSYNC", fuzzer.BelAttr("SLICE0", "FFSYNC")},
		{"raw:INT0.IMUX0", fuzzer.Raw("INT0.IMUX0")},
		{" attr : IO0 . DRIVE ", fuzzer.BelAttr("IO0", "DRIVE")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, k := range []fuzzer.Key{
		fuzzer.GlobalOpt("X"), fuzzer.PinConn("B7"), fuzzer.BelMode("DSP0"),
		fuzzer.BelAttr("DSP0", "AREG"), fuzzer.Raw("foo.bar"),
	} {
		got, err := ParseKey(k.String())
		require.NoError(t, err, k.String())
		assert.Equal(t, k, got)
	}
}

func TestParseKeyErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"attr:SLICE0",
		"mode:SLICE0.X",
		"bogus:X",
		"global",
		"attr:A.B.C",
	} {
		_, err := ParseKey(in)
		assert.Error(t, err, in)
	}
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		in   string
		want Assignment
	}{
		{"mode:SLICE0=LOGIC", Assignment{fuzzer.BelMode("SLICE0"), "LOGIC"}},
		{"pin:A1", Assignment{fuzzer.PinConn("A1"), "1"}},
		{"pin:A1=NET_CLK", Assignment{fuzzer.PinConn("A1"), "NET_CLK"}},
		{"attr:IO0.VCCO=1.8", Assignment{fuzzer.BelAttr("IO0", "VCCO"), "1.8"}},
		{`global:USERCODE="ab cd"`, Assignment{fuzzer.GlobalOpt("USERCODE"), "ab cd"}},
		{"raw:opt=a/b:c", Assignment{fuzzer.Raw("opt"), "a/b:c"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAssignment(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, in := range []string{
		"mode:SLICE0",
		"mode:SLICE0=",
		"global:DRIVE=12 mA",
		`global:USERCODE="ab"cd`,
		"attr:IO0.IOSTD=LVCMOS 33",
	} {
		_, err := ParseAssignment(in)
		assert.Error(t, err, in)
	}

	// Blanks around a value are not part of it.
	got, err := ParseAssignment("global:DRIVE = 12mA ")
	require.NoError(t, err)
	assert.Equal(t, Assignment{fuzzer.GlobalOpt("DRIVE"), "12mA"}, got)
	got, err = ParseAssignment(`global:DRIVE="12 mA"`)
	require.NoError(t, err)
	assert.Equal(t, "12 mA", got.Value)
}

func TestParseMutex(t *testing.T) {
	tests := []struct {
		in   string
		want fuzzer.Mutex
	}{
		{"global:CLK=BUFG0", fuzzer.GlobalMutex("CLK", "BUFG0")},
		{"tile:CLB0/CARRY=up", fuzzer.TileMutex("CLB0", "CARRY", "up")},
		{"bel:IO0/VCCO=3.3", fuzzer.BelMutex("IO0", "VCCO", "3.3")},
		{"bel:IOB0/VREF=1.8V", fuzzer.BelMutex("IOB0", "VREF", "1.8V")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMutex(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}

	for _, in := range []string{
		"global:CLK", "bank:X=1", "tile:CLK=1", "global:IO0/CLK=1",
		"bel:IOB0/VREF=1.8 V", "global:CLK=",
	} {
		_, err := ParseMutex(in)
		assert.Error(t, err, in)
	}
}
