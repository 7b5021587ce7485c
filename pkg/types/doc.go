// Package types provides shared type definitions for the reposync pipeline.
//
// This package defines the records that flow between the mirror, the cache
// ledger, the change detector, the batch index builder, and the vector-ID
// directory. None of these types perform I/O.
//
// # Tasks and Steps
//
// A task identifies one synchronization target. Its parameters are hashed into
// a deterministic TaskID by the ledger:
//
//	params := types.TaskParams{
//	    SourceID: "github.com/acme/docs",
//	    Branch:   "main",
//	    Filters:  types.Filters{Extensions: []string{".md", ".txt"}},
//	}
//
// Every task carries one StepRecord per pipeline step (fetch, parse,
// vectorize). A step is reusable from cache only when it completed with the
// same input fingerprint:
//
//	rec.Usable(fingerprint) // status == completed && fingerprint matches
//
// # Repository Metadata
//
// RepositoryMetadata is the durable snapshot of a mirrored source: the last
// indexed commit and one FileRecord per tracked path. FileRecords hold the
// content hash and the vector IDs produced for that file, which is what makes
// precise replacement and deletion possible on later runs.
//
// # Documents and Units
//
// A Document is one file of mirrored content. The chunker splits documents
// into Units, the smallest pieces that are embedded and stored as vectors.
//
// # Errors
//
// Failures are classified into five kinds, each a sentinel usable with
// errors.Is:
//
//	ErrFetchFailed     network or transport failure, retryable
//	ErrFetchRejected   authentication or missing repository, fatal
//	ErrParseFailed     malformed file content, the file is skipped
//	ErrVectorizeFailed embedding or store failure, the batch is skipped
//	ErrCacheCorrupt    unreadable state file, treated as empty state
package types
