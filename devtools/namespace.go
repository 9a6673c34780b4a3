package devtools

import (
	"sort"
	"sync"

	"github.com/mineclover/iframe-remote/schema"
)

// Entry is one named value in a Namespace.
type Entry struct {
	Value     any
	Metadata  *schema.Function // structured description, preferred when valid
	Signature string           // declared signature text, e.g. "func(name string) string"
}

type SetOption func(*Entry)

// WithMetadata attaches a structured description to the entry.
func WithMetadata(f schema.Function) SetOption {
	return func(e *Entry) { e.Metadata = &f }
}

// WithSignature attaches the declared signature text. It is only used when
// there is no valid metadata, and only as a hint.
func WithSignature(sig string) SetOption {
	return func(e *Entry) { e.Signature = sig }
}

// Namespace is the explicit registry an application populates with the
// values it wants the devtools to discover. A child namespace sees its
// parent's entries as inherited ones and may shadow them.
type Namespace struct {
	parent *Namespace

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewNamespace() *Namespace {
	return &Namespace{entries: make(map[string]Entry)}
}

// Child returns an empty namespace inheriting from n.
func (n *Namespace) Child() *Namespace {
	c := NewNamespace()
	c.parent = n
	return c
}

func (n *Namespace) Set(name string, value any, opts ...SetOption) {
	e := Entry{Value: value}
	for _, opt := range opts {
		opt(&e)
	}
	n.mu.Lock()
	n.entries[name] = e
	n.mu.Unlock()
}

// Delete removes an own entry. Inherited entries are untouched.
func (n *Namespace) Delete(name string) {
	n.mu.Lock()
	delete(n.entries, name)
	n.mu.Unlock()
}

// Get looks name up in n, then in its ancestors.
func (n *Namespace) Get(name string) (Entry, bool) {
	for ns := n; ns != nil; ns = ns.parent {
		ns.mu.RLock()
		e, ok := ns.entries[name]
		ns.mu.RUnlock()
		if ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns the own entry names, plus inherited ones if asked, sorted.
func (n *Namespace) Names(includeInherited bool) []string {
	seen := make(map[string]struct{})
	for ns := n; ns != nil; ns = ns.parent {
		ns.mu.RLock()
		for name := range ns.entries {
			seen[name] = struct{}{}
		}
		ns.mu.RUnlock()
		if !includeInherited {
			break
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
