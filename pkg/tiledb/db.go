// Package tiledb holds the output of a collection pass: the canonical
// encoding of every resolved attribute, keyed by tile class, bel and
// attribute name.
package tiledb

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAlreadyResolved is returned when an attribute is inserted twice.
var ErrAlreadyResolved = errors.New("tiledb: attribute already resolved")

// Key identifies one attribute in the database.
type Key struct {
	Tile string `json:"tile"`
	Bel  string `json:"bel"`
	Attr string `json:"attr"`
}

func (k Key) String() string {
	return k.Tile + ":" + k.Bel + ":" + k.Attr
}

// Less orders keys by tile, bel, then attribute.
func (k Key) Less(o Key) bool {
	if k.Tile != o.Tile {
		return k.Tile < o.Tile
	}
	if k.Bel != o.Bel {
		return k.Bel < o.Bel
	}
	return k.Attr < o.Attr
}

// Database is a single-writer map from Key to Item. It is safe for
// concurrent use.
type Database struct {
	Device string

	mu    sync.RWMutex
	items map[Key]Item
}

// New returns an empty database for the named device.
func New(device string) *Database {
	return &Database{Device: device, items: make(map[Key]Item)}
}

// Insert stores the item for key. Each key may be written once.
func (db *Database) Insert(key Key, item Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("tiledb: %s: %w", key, err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.items[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, key)
	}
	db.items[key] = item.Clone()
	return nil
}

// Get returns the item stored for key.
func (db *Database) Get(key Key) (Item, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	item, ok := db.items[key]
	if !ok {
		return Item{}, false
	}
	return item.Clone(), true
}

// Len returns the number of resolved attributes.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.items)
}

// Keys returns all keys in sorted order.
func (db *Database) Keys() []Key {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := make([]Key, 0, len(db.items))
	for k := range db.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Merge inserts every item of other. Keys already present must hold an
// identical item, which lets independently built shards be joined.
func (db *Database) Merge(other *Database) error {
	for _, key := range other.Keys() {
		item, _ := other.Get(key)
		if cur, ok := db.Get(key); ok {
			if !cur.Equal(item) {
				return fmt.Errorf("tiledb: merge conflict on %s: %s vs %s", key, cur, item)
			}
			continue
		}
		if err := db.Insert(key, item); err != nil {
			return err
		}
	}
	return nil
}

// Entry is one key/item pair of an exported database.
type Entry struct {
	Key
	Item Item `json:"item"`
}

// Entries returns all entries in key order.
func (db *Database) Entries() []Entry {
	keys := db.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		item, _ := db.Get(k)
		out = append(out, Entry{Key: k, Item: item})
	}
	return out
}

type jsonDatabase struct {
	Version     string  `json:"version"`
	Device      string  `json:"device"`
	ItemCount   int     `json:"item_count"`
	Items       []Entry `json:"items"`
	GeneratedBy string  `json:"generated_by"`
}

// ExportJSON serializes the database in key order.
func (db *Database) ExportJSON() ([]byte, error) {
	entries := db.Entries()
	return json.MarshalIndent(jsonDatabase{
		Version:     "1.0",
		Device:      db.Device,
		ItemCount:   len(entries),
		Items:       entries,
		GeneratedBy: "otfuzz attribute inference",
	}, "", "  ")
}

// ImportJSON is the inverse of ExportJSON.
func ImportJSON(data []byte) (*Database, error) {
	var in jsonDatabase
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("tiledb: decode json: %w", err)
	}
	db := New(in.Device)
	for _, e := range in.Items {
		if err := db.Insert(e.Key, e.Item); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Mismatch describes one difference found by Compare.
type Mismatch struct {
	Key  Key
	Want *Item // nil when the key is missing from the reference
	Got  *Item // nil when the key is missing from the candidate
}

func (m Mismatch) String() string {
	switch {
	case m.Want == nil:
		return fmt.Sprintf("%s: unexpected %s", m.Key, m.Got)
	case m.Got == nil:
		return fmt.Sprintf("%s: missing, want %s", m.Key, m.Want)
	default:
		return fmt.Sprintf("%s: want %s, got %s", m.Key, m.Want, m.Got)
	}
}

// Compare lists the keys on which got differs from the reference want.
func Compare(want, got *Database) []Mismatch {
	var out []Mismatch
	seen := make(map[Key]bool)
	for _, k := range want.Keys() {
		seen[k] = true
		w, _ := want.Get(k)
		g, ok := got.Get(k)
		switch {
		case !ok:
			out = append(out, Mismatch{Key: k, Want: &w})
		case !w.Equal(g):
			out = append(out, Mismatch{Key: k, Want: &w, Got: &g})
		}
	}
	for _, k := range got.Keys() {
		if seen[k] {
			continue
		}
		g, _ := got.Get(k)
		out = append(out, Mismatch{Key: k, Got: &g})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}
