package analyzer

import (
	"context"
	"errors"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrPoolClosed is returned by Parse after Close.
var ErrPoolClosed = errors.New("analyzer: parser pool closed")

// ParserPool maintains a pool of tree-sitter parsers for one language.
type ParserPool struct {
	pool chan *sitter.Parser
	lang *sitter.Language

	mu     sync.RWMutex
	closed bool
}

// NewParserPool creates a ParserPool with n parsers for lang.
func NewParserPool(n int, lang *sitter.Language) *ParserPool {
	if n <= 0 {
		n = 1
	}
	pp := &ParserPool{
		pool: make(chan *sitter.Parser, n),
		lang: lang,
	}
	for i := 0; i < n; i++ {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		pp.pool <- p
	}
	return pp
}

// Parse parses document with one parser of the pool, waiting for a free
// parser if necessary. The caller owns the returned tree.
func (pp *ParserPool) Parse(ctx context.Context, document []byte) (*sitter.Tree, error) {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	if pp.closed {
		return nil, ErrPoolClosed
	}

	var p *sitter.Parser
	select {
	case p = <-pp.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { pp.pool <- p }()

	return p.ParseCtx(ctx, nil, document)
}

// Close releases all parsers once they are returned to the pool.
func (pp *ParserPool) Close() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.closed {
		return nil
	}
	pp.closed = true
	for i := 0; i < cap(pp.pool); i++ {
		p := <-pp.pool
		p.Close()
	}
	return nil
}
