package event

import "strings"

// Key identifies the declared type of an event. Keys form a
// single-inheritance tree rooted at Root; subtype checks walk the
// parent chain and never inspect Go types.
//
// Keys are compared by identity. Two keys created with the same name
// are different keys.
type Key struct {
	name   string
	parent *Key
	depth  int
}

// Root is the ancestor of every key.
var Root = &Key{name: "event"}

// NewKey creates a key under parent. A nil parent means Root.
func NewKey(name string, parent *Key) *Key {
	if parent == nil {
		parent = Root
	}
	return &Key{name: name, parent: parent, depth: parent.depth + 1}
}

// Name returns the key's own name.
func (k *Key) Name() string {
	if k == nil {
		return ""
	}
	return k.name
}

// Parent returns the parent key, or nil for Root.
func (k *Key) Parent() *Key {
	if k == nil {
		return nil
	}
	return k.parent
}

// Depth returns the number of edges between k and Root.
func (k *Key) Depth() int {
	if k == nil {
		return 0
	}
	return k.depth
}

// IsSubtypeOf reports whether k equals other or descends from it.
// Runs in O(depth).
func (k *Key) IsSubtypeOf(other *Key) bool {
	if k == nil || other == nil || other.depth > k.depth {
		return false
	}
	cur := k
	for cur.depth > other.depth {
		cur = cur.parent
	}
	return cur == other
}

// Path returns the key names from Root to k, joined by "/".
func (k *Key) Path() string {
	if k == nil {
		return ""
	}
	names := make([]string, k.depth+1)
	for cur, i := k, k.depth; cur != nil; cur, i = cur.parent, i-1 {
		names[i] = cur.name
	}
	return strings.Join(names, "/")
}

// String returns the key name.
func (k *Key) String() string {
	return k.Name()
}
