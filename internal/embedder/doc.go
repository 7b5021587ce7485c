// Package embedder turns text units into vectors.
//
// Three providers are available: OpenAI and Jina AI, which share one
// OpenAI-compatible HTTP client, and a deterministic local provider for
// offline runs and tests. Any server that implements POST /embeddings in the
// OpenAI format (Ollama, vLLM, LM Studio) works through the openai provider
// with a custom base URL.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//	for i, vec := range resp.Vectors() {
//	    // vec belongs to texts[i]
//	}
//
// # Provider Selection
//
// With an empty Config.Provider the embedder selects a provider from the
// environment:
//
//  1. If REPOSYNC_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → local provider
//
// # Identity
//
// Identity(e) combines provider, model and dimension. The pipeline uses it in
// cache fingerprints and collection names, so switching models never mixes
// incompatible vectors.
//
// # Caching
//
// Providers consult an optional LRU cache keyed by model and text hash before
// calling the API. Only misses are sent, in requests of at most MaxBatchSize
// texts.
//
// # Error Handling
//
// HTTP 429 and 5xx responses, timeouts, and connection failures are retried
// with exponential backoff. Everything else fails the batch immediately:
//
//	resp, err := emb.GenerateBatch(ctx, req)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // the caller decides whether to skip or abort
//	}
package embedder
