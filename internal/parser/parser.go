package parser

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// ErrSyntax is returned for sources the Go parser rejects
var ErrSyntax = errors.New("syntax error")

// Kind is the declaration kind of a Block
type Kind string

// Declaration kinds
const (
	KindHeader    Kind = "header" // package clause and imports
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindType      Kind = "type"
	KindConst     Kind = "const"
	KindVar       Kind = "var"
	KindDirective Kind = "directive" // free-standing comments between declarations
)

// Block is a top-level declaration of a Go file. Lines are 1-based and
// inclusive; StartLine includes the doc comment.
type Block struct {
	Kind      Kind
	Names     []string // declared identifiers; methods are "Recv.Name"
	StartLine int
	EndLine   int
}

// Parser splits Go source files into top-level declarations
type Parser struct {
	mode parser.Mode
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{mode: parser.ParseComments | parser.SkipObjectResolution}
}

// Declarations returns the top-level blocks of src in source order. The
// package clause and import declarations form one header block. A file the
// Go parser rejects returns ErrSyntax and no blocks, so callers can fall back
// to plain text splitting.
func (p *Parser) Declarations(path string, src []byte) ([]Block, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, p.mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, path, err)
	}
	line := func(pos token.Pos) int { return fset.Position(pos).Line }

	header := Block{Kind: KindHeader, StartLine: line(file.Package), EndLine: line(file.Name.End())}
	if file.Doc != nil {
		header.StartLine = line(file.Doc.Pos())
	}
	header.Names = []string{file.Name.Name}

	var blocks []Block
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				header.EndLine = line(d.End())
				continue
			}
			b := Block{Kind: genKind(d.Tok), StartLine: line(d.Pos()), EndLine: line(d.End())}
			if d.Doc != nil {
				b.StartLine = line(d.Doc.Pos())
			}
			b.Names = specNames(d)
			blocks = append(blocks, b)
		case *ast.FuncDecl:
			b := Block{Kind: KindFunction, StartLine: line(d.Pos()), EndLine: line(d.End())}
			if d.Doc != nil {
				b.StartLine = line(d.Doc.Pos())
			}
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				b.Kind = KindMethod
				if recv := receiverType(d.Recv.List[0].Type); recv != "" {
					name = recv + "." + name
				}
			}
			b.Names = []string{name}
			blocks = append(blocks, b)
		}
	}

	blocks = append(blocks, header)
	blocks = append(blocks, looseComments(file, blocks, line)...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].StartLine < blocks[j].StartLine })
	return blocks, nil
}

func genKind(tok token.Token) Kind {
	switch tok {
	case token.CONST:
		return KindConst
	case token.VAR:
		return KindVar
	default:
		return KindType
	}
}

func specNames(d *ast.GenDecl) []string {
	var names []string
	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			names = append(names, s.Name.Name)
		case *ast.ValueSpec:
			for _, n := range s.Names {
				if n.Name != "_" {
					names = append(names, n.Name)
				}
			}
		}
	}
	return names
}

// receiverType extracts the receiver type name, without pointer or type parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// looseComments returns comment groups that lie outside every block, such
// as build constraints or section banners.
func looseComments(file *ast.File, blocks []Block, line func(token.Pos) int) []Block {
	covered := func(start, end int) bool {
		for _, b := range blocks {
			if start >= b.StartLine && end <= b.EndLine {
				return true
			}
		}
		return false
	}

	var out []Block
	for _, cg := range file.Comments {
		start, end := line(cg.Pos()), line(cg.End())
		if covered(start, end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].EndLine+1 >= start {
			out[n-1].EndLine = end
			continue
		}
		out = append(out, Block{Kind: KindDirective, StartLine: start, EndLine: end})
	}
	return out
}

// Label renders the names of a block for unit metadata
func (b Block) Label() string {
	if len(b.Names) == 0 {
		return string(b.Kind)
	}
	return strings.Join(b.Names, ",")
}
