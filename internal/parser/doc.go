// Package parser splits Go source files into top-level declarations.
//
// The chunker uses these blocks as unit boundaries for .go documents, so a
// function or type is never cut in half while it fits the token target and
// its doc comment always travels with it.
//
//	p := parser.New()
//	blocks, err := p.Declarations("main.go", src)
//	if errors.Is(err, parser.ErrSyntax) {
//	    // fall back to paragraph splitting
//	}
//	for _, b := range blocks {
//	    fmt.Printf("%s %s lines %d-%d\n", b.Kind, b.Label(), b.StartLine, b.EndLine)
//	}
//
// The package clause and all import declarations form a single header
// block. Comments outside any declaration, such as build constraints,
// become directive blocks so no line of the file is lost.
package parser
