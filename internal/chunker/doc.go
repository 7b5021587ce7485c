// Package chunker divides documents into token-bounded units for embedding.
//
// Units are cut at paragraph boundaries (runs of non-blank lines) and packed
// up to a token target, so related lines stay together in one vector. Go
// sources that parse are cut at top-level declarations instead, and each
// unit records the declarations it covers.
//
// # Basic Usage
//
//	c := chunker.New(chunker.WithMaxTokens(512))
//	for _, unit := range c.Split(doc) {
//	    fmt.Printf("unit %d: %d tokens, lines %d-%d\n",
//	        unit.Index, unit.TokenCount, unit.StartLine, unit.EndLine)
//	}
//
// # Unit Sizing
//
// Paragraphs are never split while they fit the target. An oversized
// paragraph is split by lines, and a single line longer than the target is
// emitted as its own unit rather than cut mid-line.
//
// Token counting uses tiktoken's cl100k_base encoding loaded from embedded
// ranks. If the encoding cannot be loaded the chunker falls back to the
// chars/4 heuristic.
//
// # Content Hashing
//
// Each unit carries the SHA-256 of its own text and of its parent document.
// Vector IDs are derived from these, so re-chunking unchanged content yields
// the same IDs.
package chunker
