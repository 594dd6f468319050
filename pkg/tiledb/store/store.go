// Package store persists tile databases in a badger key-value store, one
// key per resolved attribute, so results of several collection passes (one
// per device) can be accumulated and reloaded.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

// ErrConflict is returned by Save when a stored item differs from the one
// being saved.
var ErrConflict = errors.New("store: stored item differs")

// ErrUnknownDevice is returned by Load for a device never saved.
var ErrUnknownDevice = errors.New("store: unknown device")

// Config configures a Store.
type Config struct {
	// Path is the badger directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration for path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration without a backing directory.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a badger-backed collection of tile databases.
type Store struct {
	db *badger.DB
}

// Open opens or creates the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const sep = "\x00"

func devicePrefix(device string) []byte {
	return []byte("item" + sep + device + sep)
}

func deviceKey(device string) []byte {
	return []byte("device" + sep + device)
}

func itemKey(device string, k tiledb.Key) []byte {
	return []byte("item" + sep + device + sep + k.Tile + sep + k.Bel + sep + k.Attr)
}

func parseItemKey(prefix, raw []byte) (tiledb.Key, error) {
	parts := bytes.Split(bytes.TrimPrefix(raw, prefix), []byte(sep))
	if len(parts) != 3 {
		return tiledb.Key{}, fmt.Errorf("store: malformed key %q", raw)
	}
	return tiledb.Key{Tile: string(parts[0]), Bel: string(parts[1]), Attr: string(parts[2])}, nil
}

// Save writes every item of db under its device. Items already stored must
// be identical; a differing item fails the whole save with ErrConflict and
// nothing is written.
func (s *Store) Save(ctx context.Context, db *tiledb.Database) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	entries := db.Entries()
	encoded := make([][]byte, len(entries))

	err := s.db.View(func(txn *badger.Txn) error {
		for i, e := range entries {
			data, err := json.Marshal(e.Item)
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", e.Key, err)
			}
			encoded[i] = data

			it, err := txn.Get(itemKey(db.Device, e.Key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("store: read %s: %w", e.Key, err)
			}
			var cur tiledb.Item
			if err := it.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
				return fmt.Errorf("store: decode %s: %w", e.Key, err)
			}
			if !cur.Equal(e.Item) {
				return fmt.Errorf("%w: %s/%s: stored %s, saving %s", ErrConflict, db.Device, e.Key, cur, e.Item)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	if err := wb.Set(deviceKey(db.Device), []byte(db.Device)); err != nil {
		return fmt.Errorf("store: write device: %w", err)
	}
	for i, e := range entries {
		if err := wb.Set(itemKey(db.Device, e.Key), encoded[i]); err != nil {
			return fmt.Errorf("store: write %s: %w", e.Key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return nil
}

// Load reads back every item stored for device.
func (s *Store) Load(ctx context.Context, device string) (*tiledb.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	out := tiledb.New(device)
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(deviceKey(device)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
			}
			return fmt.Errorf("store: read device: %w", err)
		}

		prefix := devicePrefix(device)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			it := iter.Item()
			key, err := parseItemKey(prefix, it.KeyCopy(nil))
			if err != nil {
				return err
			}
			var item tiledb.Item
			if err := it.Value(func(val []byte) error { return json.Unmarshal(val, &item) }); err != nil {
				return fmt.Errorf("store: decode %s: %w", key, err)
			}
			if err := out.Insert(key, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Devices lists the stored device names in sorted order.
func (s *Store) Devices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	var out []string
	prefix := []byte("device" + sep)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			out = append(out, string(bytes.TrimPrefix(iter.Item().KeyCopy(nil), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	sort.Strings(out)
	return out, nil
}
