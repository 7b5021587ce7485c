package chunker

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TokensPerChar is the heuristic for estimating tokens (chars/4)
const TokensPerChar = 4

// Encoding used for token counting; compatible with current embedding models
const Encoding = "cl100k_base"

// Counter counts tokens in text
type Counter interface {
	CountTokens(text string) int
}

// HeuristicCounter estimates tokens as chars/4
type HeuristicCounter struct{}

// CountTokens implements Counter
func (HeuristicCounter) CountTokens(text string) int {
	return EstimateTokenCount(text)
}

// EstimateTokenCount estimates the number of tokens in a string.
// Any non-empty text counts as at least one token.
func EstimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	if n := len(text) / TokensPerChar; n > 0 {
		return n
	}
	return 1
}

// TiktokenCounter counts BPE tokens with the offline cl100k_base ranks
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// CountTokens implements Counter
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

var (
	tiktokenOnce    sync.Once
	tiktokenCounter *TiktokenCounter
	tiktokenErr     error
)

// NewTiktokenCounter returns the shared tiktoken counter. The encoding is
// loaded once from the embedded ranks, so no network access is needed.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	tiktokenOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		enc, err := tiktoken.GetEncoding(Encoding)
		if err != nil {
			tiktokenErr = err
			return
		}
		tiktokenCounter = &TiktokenCounter{enc: enc}
	})
	return tiktokenCounter, tiktokenErr
}

// DefaultCounter returns the tiktoken counter, falling back to the heuristic
func DefaultCounter() Counter {
	if c, err := NewTiktokenCounter(); err == nil {
		return c
	}
	return HeuristicCounter{}
}
