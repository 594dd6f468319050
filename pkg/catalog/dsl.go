package catalog

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
)

// dslLexer tokenizes configuration keys ("attr:SLICE0.FFSYNC"),
// assignments ("mode:SLICE0=LOGIC") and mutex tokens ("tile:CLB0/CLK=A").
// Everything after "=" is a value: one quoted string or one bare word, so
// an unquoted value cannot contain blanks.
var dslLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Whitespace", Pattern: `[ \t]+`},
		{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
		{Name: "Ident", Pattern: `[A-Za-z0-9_\-+#<>\[\]~$]+`},
		{Name: "Eq", Pattern: `=`, Action: lexer.Push("Value")},
		{Name: "Punct", Pattern: `[:./]`},
	},
	"Value": {
		{Name: "Whitespace", Pattern: `[ \t]+`},
		{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
		{Name: "Bare", Pattern: `[^\s"]+`},
	},
})

type keyAST struct {
	Kind string `@Ident ":"`
	Name string `@Ident`
	Sub  string `( "." @Ident )?`
}

type assignmentAST struct {
	Key   *keyAST `@@`
	Value *string `( "=" @( String | Bare ) )?`
}

type mutexAST struct {
	Scope string `@Ident ":"`
	Where string `( @Ident "/" )?`
	Name  string `@Ident`
	Owner string `"=" @( String | Bare )`
}

var (
	keyParser = participle.MustBuild[keyAST](
		participle.Lexer(dslLexer),
		participle.Elide("Whitespace"),
	)
	assignmentParser = participle.MustBuild[assignmentAST](
		participle.Lexer(dslLexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
	)
	mutexParser = participle.MustBuild[mutexAST](
		participle.Lexer(dslLexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
)

func (k *keyAST) key() (fuzzer.Key, error) {
	kind, ok := fuzzer.KindFromPrefix(k.Kind)
	if !ok {
		return fuzzer.Key{}, fmt.Errorf("catalog: unknown key kind %q", k.Kind)
	}
	var key fuzzer.Key
	switch kind {
	case fuzzer.KindMode:
		if k.Sub != "" {
			return fuzzer.Key{}, fmt.Errorf("catalog: mode key %s.%s has an attribute", k.Name, k.Sub)
		}
		key = fuzzer.BelMode(k.Name)
	case fuzzer.KindAttr:
		if k.Sub == "" {
			return fuzzer.Key{}, fmt.Errorf("catalog: attr key %s needs BEL.ATTR", k.Name)
		}
		key = fuzzer.BelAttr(k.Name, k.Sub)
	default:
		name := k.Name
		if k.Sub != "" {
			name += "." + k.Sub
		}
		key = fuzzer.Key{Kind: kind, Name: name}
	}
	return key, key.Validate()
}

// ParseKey parses the textual form of a configuration key.
func ParseKey(s string) (fuzzer.Key, error) {
	ast, err := keyParser.ParseString("", s)
	if err != nil {
		return fuzzer.Key{}, fmt.Errorf("catalog: key %q: %w", s, err)
	}
	return ast.key()
}

// Assignment is one configuration setting.
type Assignment struct {
	Key   fuzzer.Key
	Value fuzzer.Value
}

func (a Assignment) String() string {
	return a.Key.String() + "=" + a.Value
}

// ParseAssignment parses KEY=VALUE. A pin key without a value connects the
// pin; any other key needs one.
func ParseAssignment(s string) (Assignment, error) {
	ast, err := assignmentParser.ParseString("", s)
	if err != nil {
		return Assignment{}, fmt.Errorf("catalog: assignment %q: %w", s, err)
	}
	key, err := ast.Key.key()
	if err != nil {
		return Assignment{}, err
	}
	a := Assignment{Key: key}
	switch {
	case ast.Value != nil:
		a.Value = *ast.Value
	case key.Kind == fuzzer.KindPin:
		a.Value = "1"
	default:
		return Assignment{}, fmt.Errorf("catalog: assignment %q has no value", s)
	}
	return a, nil
}

// ParseMutex parses SCOPE:[WHERE/]NAME=OWNER, for example "global:CLK=BUFG0"
// or "bel:IOB0/VREF=1.8V".
func ParseMutex(s string) (fuzzer.Mutex, error) {
	ast, err := mutexParser.ParseString("", s)
	if err != nil {
		return fuzzer.Mutex{}, fmt.Errorf("catalog: mutex %q: %w", s, err)
	}
	m := fuzzer.Mutex{Where: ast.Where, Name: ast.Name, Owner: ast.Owner}
	switch strings.ToLower(ast.Scope) {
	case "global":
		m.Scope = fuzzer.ScopeGlobal
	case "tile":
		m.Scope = fuzzer.ScopeTile
	case "bel":
		m.Scope = fuzzer.ScopeBel
	default:
		return fuzzer.Mutex{}, fmt.Errorf("catalog: mutex %q: unknown scope %q", s, ast.Scope)
	}
	return m, m.Validate()
}
