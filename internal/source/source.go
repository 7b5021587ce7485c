// Package source reads the mirrored working copy into documents.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/reposync/pkg/types"
)

// DefaultMaxFileSize is the largest file read when Options.MaxFileSize is unset
const DefaultMaxFileSize int64 = 1 << 20

// sniffLen is how much of a file is scanned for NUL bytes
const sniffLen = 8192

// Directories never descended into
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Options controls which files become documents
type Options struct {
	Filters     types.Filters
	MaxFileSize int64
}

// Snapshot is the result of one Load
type Snapshot struct {
	Documents []types.Document // sorted by path
	Failed    []*types.ParseError
	Skipped   int // filtered, oversized, or binary files
}

// FailedPaths returns the paths of files that could not be read
func (s *Snapshot) FailedPaths() []string {
	out := make([]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		out = append(out, f.Path)
	}
	return out
}

// Source walks a working copy
type Source struct {
	root   string
	opts   Options
	exts   map[string]bool
	logger *slog.Logger
}

// New creates a Source rooted at root
func New(root string, opts Options, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	for _, p := range append(append([]string{}, opts.Filters.Include...), opts.Filters.Exclude...) {
		if !ValidGlob(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	var exts map[string]bool
	if len(opts.Filters.Extensions) > 0 {
		exts = make(map[string]bool, len(opts.Filters.Extensions))
		for _, e := range opts.Filters.Extensions {
			e = strings.ToLower(strings.TrimSpace(e))
			if e != "" && !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[e] = true
		}
	}
	return &Source{
		root:   root,
		opts:   opts,
		exts:   exts,
		logger: logger.With("component", "source"),
	}, nil
}

// Root returns the working copy directory
func (s *Source) Root() string { return s.root }

// Load reads every eligible file. Per-file read or decode failures are
// collected in Snapshot.Failed; only walk-level errors abort.
func (s *Source) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	err := filepath.WalkDir(s.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if full == s.root {
				return err
			}
			rel := s.rel(full)
			snap.Failed = append(snap.Failed, &types.ParseError{Path: rel, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if full != s.root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel := s.rel(full)
		if !s.Eligible(rel) {
			snap.Skipped++
			return nil
		}

		doc, skip, err := s.readDocument(full, rel, d)
		switch {
		case err != nil:
			snap.Failed = append(snap.Failed, &types.ParseError{Path: rel, Err: err})
		case skip:
			snap.Skipped++
		default:
			snap.Documents = append(snap.Documents, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}

	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].Path < snap.Documents[j].Path })
	for _, f := range snap.Failed {
		s.logger.Warn("source.parse_failed", "path", f.Path, "err", f.Err)
	}
	s.logger.Info("source.load.complete",
		"root", s.root,
		"documents", len(snap.Documents),
		"failed", len(snap.Failed),
		"skipped", snap.Skipped,
	)
	return snap, nil
}

// Eligible applies extension, include, and exclude filters to a relative path
func (s *Source) Eligible(rel string) bool {
	if s.exts != nil && !s.exts[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	if len(s.opts.Filters.Include) > 0 {
		matched := false
		for _, p := range s.opts.Filters.Include {
			if MatchGlob(p, rel) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range s.opts.Filters.Exclude {
		if MatchGlob(p, rel) {
			return false
		}
	}
	return true
}

func (s *Source) readDocument(full, rel string, d fs.DirEntry) (types.Document, bool, error) {
	info, err := d.Info()
	if err != nil {
		return types.Document{}, false, err
	}
	if info.Size() > s.opts.MaxFileSize {
		s.logger.Debug("source.skip.oversized", "path", rel, "size", info.Size())
		return types.Document{}, true, nil
	}

	data, err := os.ReadFile(full) //nolint:gosec // path comes from walking the working copy
	if err != nil {
		return types.Document{}, false, err
	}
	if bytes.IndexByte(data[:min(len(data), sniffLen)], 0x00) >= 0 {
		s.logger.Debug("source.skip.binary", "path", rel)
		return types.Document{}, true, nil
	}
	if !utf8.Valid(data) {
		return types.Document{}, false, errors.New("content is not valid UTF-8")
	}

	doc := types.NewDocument(rel, string(data), info.ModTime().UTC())
	doc.Metadata["extension"] = strings.ToLower(filepath.Ext(rel))
	return doc, false, nil
}

func (s *Source) rel(full string) string {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return filepath.ToSlash(full)
	}
	return filepath.ToSlash(rel)
}
