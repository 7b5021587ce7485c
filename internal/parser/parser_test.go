package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `//go:build linux

// Package store keeps things.
package store

import (
	"fmt"
	"strings"
)

// Limit caps every batch
const Limit = 10

var (
	a, _ = 1, 2
	b    = 3
)

// ---- types ----

// Store holds items
type Store[T any] struct {
	items []T
}

// Add appends an item
func (s *Store[T]) Add(v T) {
	// no locking
	s.items = append(s.items, v)
}

func New() *Store[string] {
	return &Store[string]{}
}

func describe(s fmt.Stringer) string { return strings.ToUpper(s.String()) }
`

func TestDeclarations(t *testing.T) {
	blocks, err := New().Declarations("store.go", []byte(sample))
	require.NoError(t, err)

	type want struct {
		kind       Kind
		label      string
		start, end int
	}
	expected := []want{
		{KindDirective, "directive", 1, 1},
		{KindHeader, "store", 3, 9},
		{KindConst, "Limit", 11, 12},
		{KindVar, "a,b", 14, 17},
		{KindDirective, "directive", 19, 19},
		{KindType, "Store", 21, 24},
		{KindMethod, "Store.Add", 26, 30},
		{KindFunction, "New", 32, 34},
		{KindFunction, "describe", 36, 36},
	}

	require.Len(t, blocks, len(expected))
	for i, w := range expected {
		b := blocks[i]
		assert.Equal(t, w.kind, b.Kind, "block %d", i)
		assert.Equal(t, w.label, b.Label(), "block %d", i)
		assert.Equal(t, w.start, b.StartLine, "block %d start", i)
		assert.Equal(t, w.end, b.EndLine, "block %d end", i)
	}
}

func TestDeclarations_NoImports(t *testing.T) {
	blocks, err := New().Declarations("x.go", []byte("package x\n\nfunc F() {}\n"))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, Block{Kind: KindHeader, Names: []string{"x"}, StartLine: 1, EndLine: 1}, blocks[0])
	assert.Equal(t, Block{Kind: KindFunction, Names: []string{"F"}, StartLine: 3, EndLine: 3}, blocks[1])
}

func TestDeclarations_SyntaxError(t *testing.T) {
	blocks, err := New().Declarations("bad.go", []byte("package x\n\nfunc {\n"))
	assert.ErrorIs(t, err, ErrSyntax)
	assert.Nil(t, blocks)

	_, err = New().Declarations("readme.md", []byte("# Title\n"))
	assert.ErrorIs(t, err, ErrSyntax)
}
