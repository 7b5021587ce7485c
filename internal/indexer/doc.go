// Package indexer builds vector store entries from documents, resumably.
//
// A run moves through NotStarted, Grouping, Processing and Done:
//
//  1. Documents whose current content already has vectors in the store are
//     recorded in the directory and excluded.
//  2. The rest are grouped by the first GroupDepth directory levels (files
//     nested less deeply land in RootGroup) and cut into batches of at most
//     BatchSize documents, ordered by group key and then first path.
//  3. Each batch is split into units, embedded, and bulk-inserted. A failed
//     bulk insert is retried InsertRetries times one record at a time. A
//     batch that still fails is reported and skipped; the others continue.
//  4. A finished batch's BatchID is written to the collection's checkpoint
//     file before the next batch starts, and later runs skip it.
//
// # Basic Usage
//
//	cps, _ := indexer.OpenCheckpoints(stateDir, store.Collection().Name, logger)
//	b := indexer.New(emb, store, indexer.DefaultConfig(), indexer.WithLogger(logger))
//
//	res, err := b.Run(ctx, indexer.Request{
//	    SourceID:    "acme/docs",
//	    Branch:      "main",
//	    Documents:   changed,
//	    Directory:   dir,
//	    Checkpoints: cps,
//	})
//	if err != nil {
//	    return err // cancellation, or the store could not be queried
//	}
//	for _, fb := range res.Failed {
//	    log.Printf("batch %s failed: %s", fb.BatchID, fb.Error)
//	}
//
// # Concurrency
//
// Batches run on an errgroup limited to Workers goroutines (default 1).
// Checkpoint writes are serialized by the checkpoint set's mutex. Only one
// Run per Builder may be active; a concurrent call gets ErrBuildInProgress.
//
// # Cancellation
//
// The context is checked before each batch starts. Inserts run detached
// from cancellation with a per-attempt timeout, so a batch is either fully
// written and checkpointed or not started.
package indexer
