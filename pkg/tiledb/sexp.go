package tiledb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
)

// The dump format is one s-expression per line:
//
//	(device "xc2v40")
//	(item "CLB" "SLICE0" "FFX_SR" bit (bits 0.1.5) (invert 0))
//	(item "IOB" "IOB0" "DRIVE" bitvec (bits 0.0.1 0.0.2 0.0.3) (invert 000))
//	(item "CLB" "SLICE0" "CLKINV" enum (ocd value) (bits 0.2.0) (value "CLK" 0) (value "CLK_B" 1))
//
// Bit patterns are written most significant bit first.

// WriteSexp writes the database in key order.
func (db *Database) WriteSexp(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "(device %s)\n", strconv.Quote(db.Device))
	for _, e := range db.Entries() {
		it := e.Item
		fmt.Fprintf(bw, "(item %s %s %s %s", strconv.Quote(e.Tile), strconv.Quote(e.Bel), strconv.Quote(e.Attr), it.Kind)
		if it.Ocd != "" {
			fmt.Fprintf(bw, " (ocd %s)", it.Ocd)
		}
		bw.WriteString(" (bits")
		for _, b := range it.Bits {
			bw.WriteString(" " + b.String())
		}
		bw.WriteString(")")
		if it.Kind == KindEnum {
			for _, name := range it.ValueNames() {
				fmt.Fprintf(bw, " (value %s %s)", strconv.Quote(name), it.Values[name])
			}
		} else {
			fmt.Fprintf(bw, " (invert %s)", it.Invert)
		}
		bw.WriteString(")\n")
	}
	return bw.Flush()
}

// SexpString returns the dump as a string.
func (db *Database) SexpString() string {
	var sb strings.Builder
	_ = db.WriteSexp(&sb)
	return sb.String()
}

var sexpLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Atom", Pattern: `[^\s()";]+`},
})

type sexpFile struct {
	Nodes []*sexpNode `@@*`
}

type sexpNode struct {
	List *sexpList `  @@`
	Str  *string   `| @String`
	Atom *string   `| @Atom`
}

type sexpList struct {
	Items []*sexpNode `LParen @@* RParen`
}

var sexpParser = participle.MustBuild[sexpFile](
	participle.Lexer(sexpLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
)

// ReadSexp parses a dump produced by WriteSexp.
func ReadSexp(r io.Reader) (*Database, error) {
	file, err := sexpParser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("tiledb: parse error: %w", err)
	}
	db := New("")
	for i, n := range file.Nodes {
		if n.List == nil {
			return nil, fmt.Errorf("tiledb: form %d: expected a list", i)
		}
		if err := db.readForm(n.List.Items); err != nil {
			return nil, fmt.Errorf("tiledb: form %d: %w", i, err)
		}
	}
	return db, nil
}

// ParseSexp parses a dump held in a string.
func ParseSexp(s string) (*Database, error) {
	return ReadSexp(strings.NewReader(s))
}

func (db *Database) readForm(items []*sexpNode) error {
	head, err := atomAt(items, 0)
	if err != nil {
		return err
	}
	switch head {
	case "device":
		name, err := strAt(items, 1)
		if err != nil {
			return err
		}
		db.Device = name
		return nil
	case "item":
		key, item, err := readItem(items)
		if err != nil {
			return err
		}
		return db.Insert(key, item)
	default:
		return fmt.Errorf("unknown form %q", head)
	}
}

func readItem(items []*sexpNode) (Key, Item, error) {
	var key Key
	var item Item
	var err error
	if key.Tile, err = strAt(items, 1); err != nil {
		return key, item, err
	}
	if key.Bel, err = strAt(items, 2); err != nil {
		return key, item, err
	}
	if key.Attr, err = strAt(items, 3); err != nil {
		return key, item, err
	}
	kind, err := atomAt(items, 4)
	if err != nil {
		return key, item, err
	}
	if item.Kind, err = ParseKind(kind); err != nil {
		return key, item, err
	}
	for _, n := range items[5:] {
		if n.List == nil {
			return key, item, fmt.Errorf("%s: expected a clause", key)
		}
		sub := n.List.Items
		tag, err := atomAt(sub, 0)
		if err != nil {
			return key, item, err
		}
		switch tag {
		case "ocd":
			if item.Ocd, err = atomAt(sub, 1); err != nil {
				return key, item, err
			}
		case "bits":
			for i := 1; i < len(sub); i++ {
				s, err := atomAt(sub, i)
				if err != nil {
					return key, item, err
				}
				pos, err := bitdiff.ParseBitPos(s)
				if err != nil {
					return key, item, err
				}
				item.Bits = append(item.Bits, pos)
			}
		case "invert":
			s, err := atomAt(sub, 1)
			if err != nil {
				return key, item, err
			}
			if item.Invert, err = ParseBitVec(s); err != nil {
				return key, item, err
			}
		case "value":
			name, err := strAt(sub, 1)
			if err != nil {
				return key, item, err
			}
			s, err := atomAt(sub, 2)
			if err != nil {
				return key, item, err
			}
			v, err := ParseBitVec(s)
			if err != nil {
				return key, item, err
			}
			if item.Values == nil {
				item.Values = make(map[string]BitVec)
			}
			if _, dup := item.Values[name]; dup {
				return key, item, fmt.Errorf("%s: value %q listed twice", key, name)
			}
			item.Values[name] = v
		default:
			return key, item, fmt.Errorf("%s: unknown clause %q", key, tag)
		}
	}
	return key, item, nil
}

func atomAt(items []*sexpNode, i int) (string, error) {
	if i >= len(items) || items[i].Atom == nil {
		return "", fmt.Errorf("expected atom at position %d", i)
	}
	return *items[i].Atom, nil
}

func strAt(items []*sexpNode, i int) (string, error) {
	if i >= len(items) || items[i].Str == nil {
		return "", fmt.Errorf("expected string at position %d", i)
	}
	return *items[i].Str, nil
}
