package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func toyDB(t *testing.T, device string, inv bool) *tiledb.Database {
	t.Helper()
	db := tiledb.New(device)
	require.NoError(t, db.Insert(tiledb.Key{Tile: "CLB", Bel: "SLICE0", Attr: "FFSYNC"},
		tiledb.BitItem(bitdiff.BitPos{Tile: 0, Frame: 1, Bit: 5}, inv)))
	require.NoError(t, db.Insert(tiledb.Key{Tile: "IOB", Bel: "IOB0", Attr: "PULL"}, tiledb.Item{
		Kind:   tiledb.KindEnum,
		Bits:   []bitdiff.BitPos{{Tile: 0, Frame: 0, Bit: 0}, {Tile: 0, Frame: 0, Bit: 1}},
		Values: map[string]tiledb.BitVec{"NONE": {false, false}, "PULLUP": {true, false}, "PULLDOWN": {false, true}},
		Ocd:    "value",
	}))
	return db
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	db := toyDB(t, "toy", true)
	require.NoError(t, s.Save(ctx, db))
	require.NoError(t, s.Save(ctx, toyDB(t, "other", false)))

	back, err := s.Load(ctx, "toy")
	require.NoError(t, err)
	assert.Equal(t, 2, back.Len())
	assert.Empty(t, tiledb.Compare(db, back))

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "toy"}, devices)
}

func TestSaveIdempotentAndConflict(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	require.NoError(t, s.Save(ctx, toyDB(t, "toy", true)))
	require.NoError(t, s.Save(ctx, toyDB(t, "toy", true)))

	err := s.Save(ctx, toyDB(t, "toy", false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	back, err := s.Load(ctx, "toy")
	require.NoError(t, err)
	item, ok := back.Get(tiledb.Key{Tile: "CLB", Bel: "SLICE0", Attr: "FFSYNC"})
	require.True(t, ok)
	assert.True(t, item.Invert[0])
}

func TestLoadUnknownDevice(t *testing.T) {
	s := openMem(t)
	_, err := s.Load(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownDevice))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, toyDB(t, "toy", true)))
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	back, err := s.Load(ctx, "toy")
	require.NoError(t, err)
	assert.Equal(t, 2, back.Len())
}
