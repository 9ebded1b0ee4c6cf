package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"loom/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestScan(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.tmpl":        "index",
		"parts/card.loom":   "card",
		"parts/readme.md":   "not a template",
		".git/x.tmpl":       "hidden dir",
		"parts/.draft.tmpl": "hidden file",
	})
	r, err := resolver.NewResolver(root, []string{".tmpl", ".loom"})
	require.NoError(t, err)

	var mu sync.Mutex
	got := map[string]string{}
	err = Scan(context.Background(), r, 2, func(doc resolver.Document, content []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got[doc.RelativePath] = string(content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"index.tmpl":      "index",
		"parts/card.loom": "card",
	}, got)
}

func TestScanCallbackError(t *testing.T) {
	root := writeTree(t, map[string]string{"a.tmpl": "a"})
	r, err := resolver.NewResolver(root, []string{".tmpl"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Scan(context.Background(), r, 1, func(resolver.Document, []byte) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestCollect(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.tmpl":   "",
		"a/c.tmpl": "",
		"a.txt":    "",
	})
	r, err := resolver.NewResolver(root, []string{".tmpl"})
	require.NoError(t, err)

	docs, err := Collect(context.Background(), r)
	require.NoError(t, err)
	var rels []string
	for _, d := range docs {
		rels = append(rels, d.RelativePath)
	}
	sort.Strings(rels)
	assert.Equal(t, []string{"a/c.tmpl", "b.tmpl"}, rels)
}
