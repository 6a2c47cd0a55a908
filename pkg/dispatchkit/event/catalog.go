package event

import (
	"fmt"
	"sort"
	"sync"

	dkerrors "github.com/randalmurphal/dispatchkit/pkg/dispatchkit/errors"
)

// Catalog maps key names to keys so that configuration and filter
// expressions can refer to event types by name.
type Catalog struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewCatalog creates a catalog containing only Root.
func NewCatalog() *Catalog {
	return &Catalog{keys: map[string]*Key{Root.name: Root}}
}

// Define creates and records a key named name under the key named
// parent. An empty parent means Root. Redefining a name is a
// configuration error.
func (c *Catalog) Define(name, parent string) (*Key, error) {
	if name == "" {
		return nil, dkerrors.Configuration("catalog.define", fmt.Errorf("empty key name"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.keys[name]; exists {
		return nil, dkerrors.Configuration("catalog.define", fmt.Errorf("key %q already defined", name))
	}

	p := Root
	if parent != "" {
		var ok bool
		p, ok = c.keys[parent]
		if !ok {
			return nil, dkerrors.Configuration("catalog.define", fmt.Errorf("parent key %q not defined", parent))
		}
	}

	k := NewKey(name, p)
	c.keys[name] = k
	return k, nil
}

// Add records an existing key under its own name.
func (c *Catalog) Add(k *Key) error {
	if k == nil {
		return dkerrors.Configuration("catalog.add", fmt.Errorf("nil key"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.keys[k.name]; ok && existing != k {
		return dkerrors.Configuration("catalog.add", fmt.Errorf("key %q already defined", k.name))
	}
	c.keys[k.name] = k
	return nil
}

// Lookup returns the key with the given name.
func (c *Catalog) Lookup(name string) (*Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[name]
	return k, ok
}

// Names returns all defined names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.keys))
	for n := range c.keys {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
