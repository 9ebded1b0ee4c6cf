// Package cache keeps the per-document caches of the synchronization core:
// the bounded version history used to detect stale results and the
// generated output of each snapshot.
package cache

import (
	"sync"
	"weak"

	"loom/internal/project"
)

// DefaultMaxTrackingCount is the number of versions remembered per path.
const DefaultMaxTrackingCount = 10

// VersionCache associates document snapshots with client versions.
type VersionCache interface {
	Track(snapshot *project.DocumentSnapshot, version int32)
	// TryGetVersion reports the version tracked for this exact snapshot
	// instance. Another snapshot of the same path is a miss.
	TryGetVersion(snapshot *project.DocumentSnapshot) (int32, bool)
	// TryGetLatestVersionForPath reports the version of the most recently
	// tracked snapshot of path that is still alive.
	TryGetLatestVersionForPath(path string) (int32, bool)
	Evict(path string)
}

type versionedEntry struct {
	snapshot weak.Pointer[project.DocumentSnapshot]
	version  int32
}

// DocumentVersionCache is the VersionCache used by the server. Snapshots are
// held weakly so the history never keeps superseded text alive.
type DocumentVersionCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string][]versionedEntry
}

func NewDocumentVersionCache(maxTrackingCount int) *DocumentVersionCache {
	if maxTrackingCount <= 0 {
		maxTrackingCount = DefaultMaxTrackingCount
	}
	return &DocumentVersionCache{
		max:     maxTrackingCount,
		entries: make(map[string][]versionedEntry),
	}
}

// Track appends (snapshot, version) to the history of the snapshot's path,
// dropping the oldest entry once the history is full.
func (c *DocumentVersionCache) Track(snapshot *project.DocumentSnapshot, version int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := snapshot.Path()
	list := append(c.entries[path], versionedEntry{
		snapshot: weak.Make(snapshot),
		version:  version,
	})
	if over := len(list) - c.max; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	c.entries[path] = list
}

func (c *DocumentVersionCache) TryGetVersion(snapshot *project.DocumentSnapshot) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.entries[snapshot.Path()]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].snapshot.Value() == snapshot {
			return list[i].version, true
		}
	}
	return 0, false
}

func (c *DocumentVersionCache) TryGetLatestVersionForPath(path string) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.entries[path]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].snapshot.Value() != nil {
			return list[i].version, true
		}
	}
	return 0, false
}

// Evict forgets every version of path.
func (c *DocumentVersionCache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Tracked returns the number of history entries kept for path.
func (c *DocumentVersionCache) Tracked(path string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[path])
}
