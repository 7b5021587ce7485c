package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dshills/reposync/internal/chunker"
	"github.com/dshills/reposync/internal/embedder"
)

var sampleTexts = []string{
	"# Getting started\n\nClone the repository and run the installer.",
	"Incremental sync only re-indexes files whose content changed.",
	"func Add(a, b int) int {\n\treturn a + b\n}",
}

// embedCheckResult is the JSON report of embed-check
type embedCheckResult struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Dimension  int       `json:"dimension"`
	Identity   string    `json:"identity"`
	Collection string    `json:"collection"`
	Texts      int       `json:"texts"`
	Tokens     []int     `json:"tokens"`
	Norms      []float64 `json:"norms"`
	Duration   string    `json:"duration"`
	Error      string    `json:"error,omitempty"`
}

// runEmbedCheck embeds a few sample texts through the configured provider
// and verifies the vectors before any repository is indexed with it.
func runEmbedCheck(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("embed-check", flag.ContinueOnError)
	text := fs.StringArray("text", nil, "Text to embed instead of the built-in samples (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reposync embed-check [--text <text>]...\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if code, ok := parseCommand(fs, args, 0); !ok {
		return code
	}

	cfg, _, logger, err := loadConfig(globals, false)
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	embCfg := cfg.EmbedderConfig()
	embCfg.Logger = logger
	emb, err := embedder.New(embCfg)
	if err != nil {
		errorf("create embedder: %v", err)
		return exitFailure
	}
	defer func() { _ = emb.Close() }()

	texts := sampleTexts
	if len(*text) > 0 {
		texts = *text
	}

	res, err := checkEmbedder(context.Background(), emb, texts, chunker.DefaultCounter())
	res.Collection = collectionSpec(cfg, emb).Name
	if err != nil {
		res.Error = err.Error()
	}

	if globals.JSON {
		printJSON(res)
	} else {
		header("Embedding provider")
		fmt.Printf("  %s %s\n", label("Provider:  "), res.Provider)
		fmt.Printf("  %s %s\n", label("Model:     "), res.Model)
		fmt.Printf("  %s %d\n", label("Dimension: "), res.Dimension)
		fmt.Printf("  %s %s\n", label("Collection:"), res.Collection)
		if err == nil {
			for i := range res.Norms {
				fmt.Printf("  text %d: %d tokens, |v| = %.4f\n", i+1, res.Tokens[i], res.Norms[i])
			}
			fmt.Printf("  %s %s\n", label("Duration:  "), res.Duration)
		}
	}
	if err != nil {
		errorf("%v", err)
		return exitFailure
	}
	if !globals.JSON && !globals.Quiet {
		_, _ = colorGreen.Println("Embedding provider OK")
	}
	return exitOK
}

// checkEmbedder embeds texts in one batch and validates count, dimension and values
func checkEmbedder(ctx context.Context, emb embedder.Embedder, texts []string, counter chunker.Counter) (embedCheckResult, error) {
	res := embedCheckResult{
		Provider:  emb.Provider(),
		Model:     emb.Model(),
		Dimension: emb.Dimension(),
		Identity:  embedder.Identity(emb),
		Texts:     len(texts),
	}

	start := time.Now()
	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	res.Duration = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		return res, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return res, fmt.Errorf("%w: %d embeddings for %d texts", embedder.ErrUnexpectedResponse, len(resp.Embeddings), len(texts))
	}

	for i, e := range resp.Embeddings {
		if len(e.Vector) != emb.Dimension() {
			return res, fmt.Errorf("%w: text %d has %d values, provider reports %d",
				embedder.ErrDimensionMismatch, i+1, len(e.Vector), emb.Dimension())
		}
		var sum float64
		for _, v := range e.Vector {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return res, fmt.Errorf("%w: text %d contains non-finite values", embedder.ErrUnexpectedResponse, i+1)
			}
			sum += float64(v) * float64(v)
		}
		if sum == 0 {
			return res, fmt.Errorf("%w: text %d is a zero vector", embedder.ErrUnexpectedResponse, i+1)
		}
		res.Norms = append(res.Norms, math.Sqrt(sum))
		res.Tokens = append(res.Tokens, counter.CountTokens(texts[i]))
	}
	return res, nil
}
