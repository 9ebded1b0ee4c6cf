// Package scanner finds the templates below a directory.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/resolver"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("loom.scanner")

// Scan walks the subtree under the resolver's root. Files and directories
// whose name begins with "." are skipped. Every template is read by one of
// workers goroutines and handed to callback, which may be called
// concurrently. Scan returns once all callbacks have completed, with the
// first callback error if any.
func Scan(
	ctx context.Context,
	r *resolver.Resolver,
	workers int,
	callback func(doc resolver.Document, content []byte) error,
) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	log.Debug("starting walk", "root", r.Root())
	err := filepath.WalkDir(r.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warning("walk error", "path", path, "error", err.Error())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != r.Root() && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !r.IsTemplate(path) {
			return nil
		}

		doc, err := r.Resolve(path)
		if err != nil {
			return nil
		}
		g.Go(func() error {
			data, err := os.ReadFile(doc.Path)
			if err != nil {
				log.Warning("read error", "path", doc.Path, "error", err.Error())
				return nil
			}
			return callback(doc, data)
		})
		return nil
	})
	if gerr := g.Wait(); gerr != nil {
		return gerr
	}
	return err
}

// Collect returns the resolved templates below the resolver's root ordered
// by path.
func Collect(ctx context.Context, r *resolver.Resolver) ([]resolver.Document, error) {
	var docs []resolver.Document
	err := filepath.WalkDir(r.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != r.Root() && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !r.IsTemplate(path) {
			return nil
		}
		if doc, err := r.Resolve(path); err == nil {
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}
