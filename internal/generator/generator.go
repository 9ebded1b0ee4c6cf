// Package generator is the reference template generator. It turns a host
// template into a Go code projection and a markup projection, recording a
// source mapping for every fragment that is copied from the host.
//
// Template syntax:
//
//	@@                    a literal at sign
//	@* comment *@         removed from both projections
//	@{ statements }       Go statements
//	@( expression )       Go expression written to the output
//	@name.member(x)[i]    implicit expression
//	@import "path"        Go import
package generator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"loom/internal/mapping"
	"loom/internal/project"
	"loom/internal/text"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("loom.generator")

// Diagnostic codes reported on the code projection.
const (
	CodeUnterminatedBlock      = "LOOM0001"
	CodeUnterminatedExpression = "LOOM0002"
	CodeUnterminatedComment    = "LOOM0003"
	CodeInvalidImport          = "LOOM0004"
)

const source = "loom"

type Generator struct{}

func New() *Generator { return &Generator{} }

func (g *Generator) Generate(ctx context.Context, snapshot *project.DocumentSnapshot, cfg project.Configuration) (*project.GeneratedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Generate(snapshot.Host, snapshot.Text, cfg)
}

// Generate produces both projections of src.
func Generate(host project.HostDocument, src string, cfg project.Configuration) (*project.GeneratedDocument, error) {
	if strings.TrimSpace(src) == "" {
		return &project.GeneratedDocument{
			Unsupported: true,
			Outputs: map[project.ProjectionKind]*project.GeneratedOutput{
				project.Code:   {Kind: project.Code},
				project.Markup: {Kind: project.Markup},
			},
		}, nil
	}

	segs := parse(src)
	code := generateCode(host, src, segs, cfg)
	markup := generateMarkup(src, segs)

	for _, out := range []*project.GeneratedOutput{code, markup} {
		if err := mapping.Validate(out.Mappings, len(src), len(out.Text)); err != nil {
			return nil, fmt.Errorf("%s projection of %s: %w", out.Kind, host.FilePath, err)
		}
	}
	log.Debug("generated", "path", host.FilePath, "segments", len(segs))

	return &project.GeneratedDocument{
		Outputs: map[project.ProjectionKind]*project.GeneratedOutput{
			project.Code:   code,
			project.Markup: markup,
		},
	}, nil
}

type emitter struct {
	src      string
	b        strings.Builder
	mappings []mapping.SourceMapping
	problems []problem
}

type problem struct {
	at      int
	code    string
	message string
}

func (e *emitter) write(s string) { e.b.WriteString(s) }

func (e *emitter) writeMapped(span mapping.Span) {
	e.mappings = append(e.mappings, mapping.SourceMapping{
		Origin:    span,
		Generated: mapping.Span{Start: e.b.Len(), Length: span.Length},
	})
	e.b.WriteString(e.src[span.Start:span.End()])
}

func (e *emitter) report(code, message string) {
	e.problems = append(e.problems, problem{at: e.b.Len(), code: code, message: message})
}

func generateCode(host project.HostDocument, src string, segs []segment, cfg project.Configuration) *project.GeneratedOutput {
	e := &emitter{src: src}
	pkg := cfg.RootPackage
	if pkg == "" {
		pkg = project.DefaultConfiguration().RootPackage
	}

	e.write("// Code generated by loom. DO NOT EDIT.\n\n")
	e.write("package " + pkg + "\n\n")
	e.write("import (\n\t\"fmt\"\n\t\"io\"\n")
	seen := map[string]bool{"fmt": true, "io": true}
	for _, s := range segs {
		if s.Kind != importSegment {
			continue
		}
		e.write("\t")
		if s.Problem != "" {
			e.report(CodeInvalidImport, s.Problem)
			e.writeMapped(s.Body)
			e.write("\n")
			continue
		}
		if path, err := strconv.Unquote(src[s.Body.Start:s.Body.End()]); err == nil {
			seen[path] = true
		}
		e.writeMapped(s.Body)
		e.write("\n")
	}
	for _, imp := range cfg.Imports {
		if !seen[imp] {
			seen[imp] = true
			e.write("\t" + strconv.Quote(imp) + "\n")
		}
	}
	e.write(")\n\nvar _ = fmt.Fprint\n\n")

	name := typeName(host.FilePath)
	if host.Kind == project.Component {
		e.write("type " + name + " struct{}\n\n")
		e.write("func (" + name + ") Render(w io.Writer) {\n")
	} else {
		e.write("func Render" + name + "(w io.Writer) {\n")
	}

	for _, s := range segs {
		switch s.Kind {
		case codeSegment:
			e.write("\t")
			if s.Problem != "" {
				e.report(CodeUnterminatedBlock, s.Problem)
			}
			e.writeMapped(s.Body)
			e.write("\n")
		case exprSegment:
			e.write("\tfmt.Fprint(w, ")
			if s.Problem != "" {
				e.report(CodeUnterminatedExpression, s.Problem)
			}
			e.writeMapped(s.Body)
			e.write(")\n")
		case commentSegment:
			if s.Problem != "" {
				e.write("\t")
				e.report(CodeUnterminatedComment, s.Problem)
				e.writeMapped(mapping.Span{Start: s.Start, Length: 0})
				e.write("\n")
			}
		}
	}
	e.write("}\n")

	out := &project.GeneratedOutput{
		Kind:     project.Code,
		Text:     e.b.String(),
		Mappings: e.mappings,
	}
	if len(e.problems) > 0 {
		lines := text.NewLineIndex(out.Text)
		for _, p := range e.problems {
			out.Diagnostics = append(out.Diagnostics, errorDiagnostic(lines.Range(p.at, p.at), p.code, p.message))
		}
	}
	return out
}

func errorDiagnostic(r protocol.Range, code, message string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	src := source
	return protocol.Diagnostic{
		Range:    r,
		Severity: &severity,
		Code:     &protocol.IntegerOrString{Value: code},
		Source:   &src,
		Message:  message,
	}
}

// generateMarkup blanks everything but markup with spaces. Line breaks are
// kept so both documents share their line structure.
func generateMarkup(src string, segs []segment) *project.GeneratedOutput {
	buf := []byte(src)
	var mappings []mapping.SourceMapping
	for _, s := range segs {
		if s.Kind == markupSegment {
			mappings = append(mappings, mapping.SourceMapping{Origin: s.Body, Generated: s.Body})
			continue
		}
		for i := s.Start; i < s.End; i++ {
			if buf[i] != '\r' && buf[i] != '\n' {
				buf[i] = ' '
			}
		}
	}
	return &project.GeneratedOutput{
		Kind:     project.Markup,
		Text:     string(buf),
		Mappings: mappings,
	}
}

// typeName derives an exported Go identifier from the file name.
func typeName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	upper := true
	for _, r := range base {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		name = "T" + name
	}
	return name
}
