package fuzzer

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyKind enumerates the configuration key variants.
type KeyKind int

const (
	// KindGlobal is a device-wide tool option.
	KindGlobal KeyKind = iota
	// KindPin requires a package pin to be connected.
	KindPin
	// KindMode places a bel in a mode.
	KindMode
	// KindAttr sets an attribute of a bel.
	KindAttr
	// KindRaw passes a backend-specific option through verbatim.
	KindRaw
)

var kindPrefix = map[KeyKind]string{
	KindGlobal: "global",
	KindPin:    "pin",
	KindMode:   "mode",
	KindAttr:   "attr",
	KindRaw:    "raw",
}

func (k KeyKind) String() string {
	if s, ok := kindPrefix[k]; ok {
		return s
	}
	return "KeyKind(" + strconv.Itoa(int(k)) + ")"
}

// KindFromPrefix maps a textual prefix back to its kind.
func KindFromPrefix(s string) (KeyKind, bool) {
	for k, p := range kindPrefix {
		if p == s {
			return k, true
		}
	}
	return 0, false
}

// Key names one configuration knob. Only the constructors below produce
// valid keys; Bel is set for mode and attribute keys only.
type Key struct {
	Kind KeyKind
	Bel  string
	Name string
}

// GlobalOpt is a device-wide tool option.
func GlobalOpt(name string) Key { return Key{Kind: KindGlobal, Name: name} }

// PinConn requires pin to be connected.
func PinConn(pin string) Key { return Key{Kind: KindPin, Name: pin} }

// BelMode selects the mode of bel.
func BelMode(bel string) Key { return Key{Kind: KindMode, Bel: bel} }

// BelAttr sets attribute attr of bel.
func BelAttr(bel, attr string) Key { return Key{Kind: KindAttr, Bel: bel, Name: attr} }

// Raw passes name through to the backend.
func Raw(name string) Key { return Key{Kind: KindRaw, Name: name} }

// String returns the stable textual form, e.g. "attr:SLICE0.FFX_SR".
func (k Key) String() string {
	switch k.Kind {
	case KindMode:
		return "mode:" + k.Bel
	case KindAttr:
		return "attr:" + k.Bel + "." + k.Name
	default:
		return k.Kind.String() + ":" + k.Name
	}
}

// Validate checks that the fields required by the kind are present.
func (k Key) Validate() error {
	switch k.Kind {
	case KindGlobal, KindPin, KindRaw:
		if k.Name == "" || k.Bel != "" {
			return fmt.Errorf("fuzzer: malformed %s key %q", k.Kind, k)
		}
	case KindMode:
		if k.Bel == "" || k.Name != "" {
			return fmt.Errorf("fuzzer: malformed mode key %q", k)
		}
	case KindAttr:
		if k.Bel == "" || k.Name == "" || strings.Contains(k.Bel, ".") {
			return fmt.Errorf("fuzzer: malformed attr key %q", k)
		}
	default:
		return fmt.Errorf("fuzzer: unknown key kind %d", int(k.Kind))
	}
	return nil
}

// Value is a configuration value in the backend's vocabulary.
type Value = string

// Change is the perturbation applied to one key. An empty From or To means
// the key is absent from that run.
type Change struct {
	From Value
	To   Value
}
