package cache

import (
	"context"
	"fmt"
	"sync"

	"loom/internal/project"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("loom.cache")

type outputKey struct {
	path     string
	sequence uint64
}

func keyOf(s *project.DocumentSnapshot) outputKey {
	return outputKey{path: s.Path(), sequence: s.Sequence}
}

func (k outputKey) String() string { return fmt.Sprintf("%s#%d", k.path, k.sequence) }

type outputEntry struct {
	doc  *project.GeneratedDocument
	pins int
}

// OutputCache memoizes the generated projections of document snapshots.
// Open documents pin their current snapshot; Sweep frees every entry that is
// no longer pinned.
type OutputCache struct {
	mu        sync.Mutex
	entries   map[outputKey]*outputEntry
	group     singleflight.Group
	generator project.Generator
}

func NewOutputCache(generator project.Generator) *OutputCache {
	return &OutputCache{
		entries:   make(map[outputKey]*outputEntry),
		generator: generator,
	}
}

// Lookup returns the stored output of snapshot.
func (c *OutputCache) Lookup(snapshot *project.DocumentSnapshot) (*project.GeneratedDocument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[keyOf(snapshot)]
	if !ok || e.doc == nil {
		return nil, false
	}
	return e.doc, true
}

// Generate returns the output of snapshot, running the generator when
// nothing is stored yet. Concurrent calls for the same snapshot share one
// generator run. The result is not stored; callers apply it with Put.
func (c *OutputCache) Generate(ctx context.Context, snapshot *project.DocumentSnapshot, cfg project.Configuration) (*project.GeneratedDocument, error) {
	if doc, ok := c.Lookup(snapshot); ok {
		return doc, nil
	}
	key := keyOf(snapshot)
	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		return c.generator.Generate(ctx, snapshot, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", key, err)
	}
	if shared {
		log.Debug("shared generation", "snapshot", key.String())
	}
	return v.(*project.GeneratedDocument), nil
}

// Put stores the output of snapshot.
func (c *OutputCache) Put(snapshot *project.DocumentSnapshot, doc *project.GeneratedDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyOf(snapshot)
	if e, ok := c.entries[key]; ok {
		e.doc = doc
		return
	}
	c.entries[key] = &outputEntry{doc: doc}
}

// Pin keeps the output of snapshot alive across sweeps.
func (c *OutputCache) Pin(snapshot *project.DocumentSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyOf(snapshot)
	e, ok := c.entries[key]
	if !ok {
		e = &outputEntry{}
		c.entries[key] = e
	}
	e.pins++
}

// Unpin reverses one Pin.
func (c *OutputCache) Unpin(snapshot *project.DocumentSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[keyOf(snapshot)]; ok && e.pins > 0 {
		e.pins--
	}
}

// Release drops every entry of path regardless of pins.
func (c *OutputCache) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.path == path {
			delete(c.entries, k)
		}
	}
}

// Sweep frees the entries without pins and returns how many were freed.
func (c *OutputCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	freed := 0
	for k, e := range c.entries {
		if e.pins == 0 {
			delete(c.entries, k)
			freed++
		}
	}
	if freed > 0 {
		log.Debug("swept generated output", "freed", freed, "kept", len(c.entries))
	}
	return freed
}

func (c *OutputCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
