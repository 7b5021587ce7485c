package chunker

import (
	"path/filepath"
	"strings"

	"github.com/dshills/reposync/internal/parser"
	"github.com/dshills/reposync/pkg/types"
)

// DefaultMaxTokens is the target maximum token count per unit
const DefaultMaxTokens = 512

// Chunker splits documents into embeddable units
type Chunker struct {
	counter   Counter
	maxTokens int
	decls     *parser.Parser // nil splits Go sources by paragraphs too
}

// Option configures a Chunker
type Option func(*Chunker)

// WithCounter replaces the token counter
func WithCounter(c Counter) Option {
	return func(ch *Chunker) { ch.counter = c }
}

// WithMaxTokens sets the unit size target
func WithMaxTokens(n int) Option {
	return func(ch *Chunker) {
		if n > 0 {
			ch.maxTokens = n
		}
	}
}

// WithGoDeclarations toggles declaration-aware splitting of .go documents
func WithGoDeclarations(enabled bool) Option {
	return func(ch *Chunker) {
		ch.decls = nil
		if enabled {
			ch.decls = parser.New()
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{maxTokens: DefaultMaxTokens, decls: parser.New()}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		c.counter = DefaultCounter()
	}
	return c
}

// MaxTokens returns the configured unit size target
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// span is a 0-based half-open line range
type span struct {
	start, end int
	tokens     int
	names      []string
}

// Split divides a document into units at paragraph boundaries, or at
// top-level declarations for Go sources that parse. Sections are packed
// together up to the token target; a section that is too large on its own
// is split by lines. A single oversized line becomes its own unit.
// Whitespace-only documents produce no units.
func (c *Chunker) Split(doc types.Document) []types.Unit {
	lines := strings.Split(doc.Text, "\n")

	var units []types.Unit
	var cur *span
	flush := func() {
		if cur == nil {
			return
		}
		units = append(units, c.newUnit(doc, lines, *cur, len(units)))
		cur = nil
	}
	add := func(p span) {
		if cur != nil && cur.tokens+p.tokens > c.maxTokens {
			flush()
		}
		if cur == nil {
			cur = &span{start: p.start, end: p.end, tokens: p.tokens, names: p.names}
			return
		}
		cur.end = p.end
		cur.tokens += p.tokens
		cur.names = appendNames(cur.names, p.names)
	}

	for _, para := range c.sections(doc, lines) {
		para.tokens = c.counter.CountTokens(joinLines(lines, para))
		if para.tokens <= c.maxTokens {
			add(para)
			continue
		}
		flush()
		for i := para.start; i < para.end; i++ {
			line := span{start: i, end: i + 1, tokens: c.counter.CountTokens(lines[i]), names: para.names}
			add(line)
		}
		flush()
	}
	flush()
	return units
}

func (c *Chunker) newUnit(doc types.Document, lines []string, s span, index int) types.Unit {
	text := joinLines(lines, s)
	return types.Unit{
		Path:        doc.Path,
		Index:       index,
		Text:        text,
		StartLine:   s.start + 1,
		EndLine:     s.end,
		TokenCount:  c.counter.CountTokens(text),
		DocHash:     doc.ContentHash,
		ContentHash: types.HashText(text),
		Symbols:     s.names,
	}
}

// sections returns the spans units are packed from
func (c *Chunker) sections(doc types.Document, lines []string) []span {
	if c.decls == nil || filepath.Ext(doc.Path) != ".go" {
		return paragraphs(lines)
	}
	blocks, err := c.decls.Declarations(doc.Path, []byte(doc.Text))
	if err != nil || len(blocks) == 0 {
		return paragraphs(lines)
	}
	out := make([]span, 0, len(blocks))
	for _, b := range blocks {
		var names []string
		if b.Kind != parser.KindHeader && b.Kind != parser.KindDirective {
			names = b.Names
		}
		out = append(out, span{start: b.StartLine - 1, end: b.EndLine, names: names})
	}
	return out
}

func appendNames(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	out := make([]string, 0, len(dst)+len(src))
	out = append(out, dst...)
	return append(out, src...)
}

// paragraphs returns runs of non-blank lines
func paragraphs(lines []string) []span {
	var out []span
	start := -1
	for i, line := range lines {
		blank := strings.TrimSpace(line) == ""
		switch {
		case !blank && start < 0:
			start = i
		case blank && start >= 0:
			out = append(out, span{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, span{start: start, end: len(lines)})
	}
	return out
}

func joinLines(lines []string, s span) string {
	return strings.Join(lines[s.start:s.end], "\n")
}
