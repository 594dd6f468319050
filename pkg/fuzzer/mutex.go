package fuzzer

import "fmt"

// MutexScope is the granularity at which a mutex token is held.
type MutexScope int

const (
	ScopeGlobal MutexScope = iota
	ScopeTile
	ScopeBel
)

func (s MutexScope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeTile:
		return "tile"
	case ScopeBel:
		return "bel"
	default:
		return fmt.Sprintf("MutexScope(%d)", int(s))
	}
}

// Mutex is a logical resource token. Experiments batched together may hold
// the same token only if they declare the same owner, that is, they agree
// on how the shared resource is configured.
type Mutex struct {
	Scope MutexScope
	Where string // tile or bel for scoped tokens, empty for global ones
	Name  string
	Owner string
}

// GlobalMutex returns a device-wide token.
func GlobalMutex(name, owner string) Mutex {
	return Mutex{Scope: ScopeGlobal, Name: name, Owner: owner}
}

// TileMutex returns a token scoped to one tile.
func TileMutex(tile, name, owner string) Mutex {
	return Mutex{Scope: ScopeTile, Where: tile, Name: name, Owner: owner}
}

// BelMutex returns a token scoped to one bel.
func BelMutex(bel, name, owner string) Mutex {
	return Mutex{Scope: ScopeBel, Where: bel, Name: name, Owner: owner}
}

// Token identifies the resource, without the owner.
type Token struct {
	Scope MutexScope
	Where string
	Name  string
}

// Token returns the resource m refers to.
func (m Mutex) Token() Token {
	return Token{Scope: m.Scope, Where: m.Where, Name: m.Name}
}

func (t Token) String() string {
	if t.Where == "" {
		return t.Scope.String() + ":" + t.Name
	}
	return t.Scope.String() + ":" + t.Where + "/" + t.Name
}

func (m Mutex) String() string {
	return m.Token().String() + "=" + m.Owner
}

// Validate checks that the token is well formed for its scope.
func (m Mutex) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("fuzzer: mutex without name")
	}
	if m.Owner == "" {
		return fmt.Errorf("fuzzer: mutex %s without owner", m.Token())
	}
	switch m.Scope {
	case ScopeGlobal:
		if m.Where != "" {
			return fmt.Errorf("fuzzer: global mutex %s scoped to %q", m.Name, m.Where)
		}
	case ScopeTile, ScopeBel:
		if m.Where == "" {
			return fmt.Errorf("fuzzer: %s mutex %s without location", m.Scope, m.Name)
		}
	default:
		return fmt.Errorf("fuzzer: mutex %s has unknown scope %d", m.Name, int(m.Scope))
	}
	return nil
}
