// Package vectorstore persists embedding vectors with string metadata.
//
// Two backends implement Store: an embedded SQLite database (the default,
// no external service required) and Qdrant over gRPC. Both are bound to a
// single collection whose name encodes the embedder identity:
//
//	name := vectorstore.CollectionName("docs", "openai", "text-embedding-3-small", 1536)
//	// docs__openai-text-embedding-3-small__1536
//
// Opening a store for an existing collection with a different dimension
// fails with ErrCollectionMismatch. Old collections are removed only
// through Catalog.DropCollection.
//
// # Build Modes
//
// The SQLite backend uses modernc.org/sqlite (pure Go) by default. Build
// with -tags sqlite_cgo to use github.com/mattn/go-sqlite3 instead:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
//
// # Metadata Queries
//
// QueryByMetadata returns IDs and metadata without vectors. The pipeline
// looks vectors up by source, branch and path:
//
//	refs, err := store.QueryByMetadata(ctx, vectorstore.Filter{
//	    Must: map[string]string{vectorstore.KeySourceID: "acme/docs", vectorstore.KeyBranch: "main"},
//	    Key:  vectorstore.KeyPath,
//	    Any:  []string{"README.md", "guide/intro.md"},
//	})
package vectorstore
