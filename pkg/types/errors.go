package types

import (
	"errors"
	"fmt"
)

// Failure kinds. Typed errors below unwrap to one of these.
var (
	ErrFetchFailed     = errors.New("fetch failed")
	ErrFetchRejected   = errors.New("fetch rejected")
	ErrParseFailed     = errors.New("parse failed")
	ErrVectorizeFailed = errors.New("vectorize failed")
	ErrCacheCorrupt    = errors.New("cache corrupt")
)

// Validation errors
var (
	ErrEmptySource     = errors.New("source id cannot be empty")
	ErrEmptyBranch     = errors.New("branch cannot be empty")
	ErrInvalidCommitID = errors.New("invalid commit id")
	ErrUnknownStep     = errors.New("unknown step")
)

// FetchError describes a failed clone or update of the content mirror.
// Retryable is true for network-class failures.
type FetchError struct {
	Op        string // clone, update
	Source    string
	Retryable bool
	Stderr    string
	Err       error
}

func (e *FetchError) Error() string {
	kind := ErrFetchRejected
	if e.Retryable {
		kind = ErrFetchFailed
	}
	msg := fmt.Sprintf("%v: %s %s", kind, e.Op, e.Source)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (" + e.Stderr + ")"
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	kind := ErrFetchRejected
	if e.Retryable {
		kind = ErrFetchFailed
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// ParseError reports a single file that could not be turned into a document.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrParseFailed, e.Path, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParseFailed, e.Err}
}

// BatchError reports an indexing batch that was skipped after exhausting retries.
type BatchError struct {
	BatchID string
	Group   string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%v: batch %s (group %s): %v", ErrVectorizeFailed, ShortID(e.BatchID), e.Group, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{ErrVectorizeFailed, e.Err}
}

// ShortID truncates a hex identifier for log and error output
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
