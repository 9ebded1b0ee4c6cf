package cache_test

import (
	"runtime"
	"testing"

	"loom/internal/cache"
	"loom/internal/project"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(path string) *project.DocumentSnapshot {
	return project.NewSnapshot(project.NewHostDocument(path), "/p", "", 0, true)
}

func TestVersionEviction(t *testing.T) {
	c := cache.NewDocumentVersionCache(cache.DefaultMaxTrackingCount)

	var snapshots []*project.DocumentSnapshot
	for v := int32(1); v <= cache.DefaultMaxTrackingCount+1; v++ {
		s := snapshot("/p/a.tmpl")
		snapshots = append(snapshots, s)
		c.Track(s, v)
	}

	assert.Equal(t, cache.DefaultMaxTrackingCount, c.Tracked("/p/a.tmpl"))

	latest, ok := c.TryGetLatestVersionForPath("/p/a.tmpl")
	require.True(t, ok)
	assert.EqualValues(t, cache.DefaultMaxTrackingCount+1, latest)

	_, ok = c.TryGetVersion(snapshots[0])
	assert.False(t, ok, "oldest entry is evicted first")

	v, ok := c.TryGetVersion(snapshots[1])
	require.True(t, ok)
	assert.EqualValues(t, 2, v)

	runtime.KeepAlive(snapshots)
}

func TestStaleSnapshotLookupFails(t *testing.T) {
	c := cache.NewDocumentVersionCache(4)

	a := snapshot("/p/a.tmpl")
	b := snapshot("/p/a.tmpl")
	c.Track(a, 3)

	_, ok := c.TryGetVersion(b)
	assert.False(t, ok, "same path, different instance")

	v, ok := c.TryGetVersion(a)
	require.True(t, ok)
	assert.EqualValues(t, 3, v)

	runtime.KeepAlive(a)
}

func TestEvict(t *testing.T) {
	c := cache.NewDocumentVersionCache(0)
	a := snapshot("/p/a.tmpl")
	c.Track(a, 1)

	c.Evict("/p/a.tmpl")

	_, ok := c.TryGetLatestVersionForPath("/p/a.tmpl")
	assert.False(t, ok)
	_, ok = c.TryGetVersion(a)
	assert.False(t, ok)
}

func TestCollectedSnapshotsAreAbsent(t *testing.T) {
	c := cache.NewDocumentVersionCache(4)

	kept := snapshot("/p/a.tmpl")
	c.Track(kept, 1)
	c.Track(snapshot("/p/a.tmpl"), 2)

	runtime.GC()
	runtime.GC()

	latest, ok := c.TryGetLatestVersionForPath("/p/a.tmpl")
	require.True(t, ok)
	assert.EqualValues(t, 1, latest, "collected entry for version 2 is skipped")

	runtime.KeepAlive(kept)
}
