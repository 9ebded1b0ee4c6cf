// Package analyzer reports syntax diagnostics against generated projections
// using tree-sitter grammars: Go for the code projection and HTML for the
// markup projection.
package analyzer

import (
	"context"
	"fmt"

	"loom/internal/project"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("loom.analyzer")

// Diagnostic codes.
const (
	CodeSyntax    = "LOOM1001"
	CodeMissing   = "LOOM1002"
	MarkupSyntax  = "LOOM2001"
	MarkupMissing = "LOOM2002"
)

const captureName = "target"

var errorQuery = []byte("(ERROR) @" + captureName)

// Analyzer computes diagnostics for one kind of projection.
type Analyzer interface {
	Kind() project.ProjectionKind
	Analyze(ctx context.Context, output *project.GeneratedOutput) ([]protocol.Diagnostic, error)
}

// TreeSitterAnalyzer reports ERROR and MISSING nodes of a parse as
// diagnostics.
type TreeSitterAnalyzer struct {
	kind        project.ProjectionKind
	pool        *ParserPool
	source      string
	syntaxCode  string
	missingCode string
}

// NewCodeAnalyzer analyzes code projections with n pooled Go parsers.
func NewCodeAnalyzer(n int) *TreeSitterAnalyzer {
	return &TreeSitterAnalyzer{
		kind:        project.Code,
		pool:        NewParserPool(n, golang.GetLanguage()),
		source:      "loom-go",
		syntaxCode:  CodeSyntax,
		missingCode: CodeMissing,
	}
}

// NewMarkupAnalyzer analyzes markup projections with n pooled HTML parsers.
func NewMarkupAnalyzer(n int) *TreeSitterAnalyzer {
	return &TreeSitterAnalyzer{
		kind:        project.Markup,
		pool:        NewParserPool(n, html.GetLanguage()),
		source:      "loom-html",
		syntaxCode:  MarkupSyntax,
		missingCode: MarkupMissing,
	}
}

func (a *TreeSitterAnalyzer) Kind() project.ProjectionKind { return a.kind }

func (a *TreeSitterAnalyzer) Analyze(ctx context.Context, output *project.GeneratedOutput) ([]protocol.Diagnostic, error) {
	if output.Kind != a.kind {
		return nil, fmt.Errorf("%s analyzer cannot analyze a %s projection", a.kind, output.Kind)
	}
	if output.Text == "" {
		return nil, nil
	}
	source := []byte(output.Text)
	tree, err := a.pool.Parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s projection: %w", a.kind, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	errs, err := executeQuery(root, errorQuery, a.pool.lang, source)
	if err != nil {
		return nil, err
	}

	lines := output.Lines()
	seen := map[[2]uint32]bool{}
	var diagnostics []protocol.Diagnostic
	add := func(n *sitter.Node, code, message string) {
		key := [2]uint32{n.StartByte(), n.EndByte()}
		if seen[key] {
			return
		}
		seen[key] = true
		diagnostics = append(diagnostics, a.diagnostic(
			lines.Range(int(n.StartByte()), int(n.EndByte())), code, message))
	}

	for _, n := range errs {
		add(n, a.syntaxCode, "syntax error")
	}
	walkMissing(root, func(n *sitter.Node) {
		add(n, a.missingCode, fmt.Sprintf("missing %s", n.Type()))
	})

	log.Debug("analyzed projection", "kind", a.kind.String(), "diagnostics", len(diagnostics))
	return diagnostics, nil
}

func (a *TreeSitterAnalyzer) diagnostic(r protocol.Range, code, message string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := a.source
	return protocol.Diagnostic{
		Range:    r,
		Severity: &severity,
		Code:     &protocol.IntegerOrString{Value: code},
		Source:   &source,
		Message:  message,
	}
}

func (a *TreeSitterAnalyzer) Close() error {
	return a.pool.Close()
}

func executeQuery(root *sitter.Node, query []byte, lang *sitter.Language, source []byte) ([]*sitter.Node, error) {
	q, err := sitter.NewQuery(query, lang)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var nodes []*sitter.Node
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, source)
		for _, c := range m.Captures {
			if q.CaptureNameForId(c.Index) != captureName {
				continue
			}
			nodes = append(nodes, c.Node)
		}
	}
	return nodes, nil
}

// walkMissing calls f for every MISSING node below n. Subtrees without
// errors are skipped.
func walkMissing(n *sitter.Node, f func(*sitter.Node)) {
	if n.IsMissing() {
		f(n)
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			walkMissing(child, f)
		}
	}
}
