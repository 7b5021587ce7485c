package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Document is one file of mirrored content
type Document struct {
	Path         string // Slash-separated, relative to the working copy root
	Text         string
	ContentHash  string // Hex SHA-256 of Text
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// NewDocument builds a document and computes its content hash
func NewDocument(path, text string, modTime time.Time) Document {
	return Document{
		Path:         path,
		Text:         text,
		ContentHash:  HashText(text),
		Size:         int64(len(text)),
		LastModified: modTime,
		Metadata:     map[string]string{},
	}
}

// FileRecord returns the metadata record for this document with the given vector IDs
func (d Document) FileRecord(vectorIDs []string) *FileRecord {
	return &FileRecord{
		ContentHash:  d.ContentHash,
		Size:         d.Size,
		LastModified: d.LastModified,
		VectorIDs:    vectorIDs,
	}
}

// Unit is an embeddable piece of a document
type Unit struct {
	Path        string
	Index       int // Position within the document, 0-based
	Text        string
	StartLine   int
	EndLine     int
	TokenCount  int
	DocHash     string   // Content hash of the parent document
	ContentHash string   // Hex SHA-256 of Text
	Symbols     []string // Go declarations covered by the unit, if any
}

// Validate checks that the unit carries content and a sane line range
func (u *Unit) Validate() error {
	if u.Text == "" {
		return errors.New("unit text cannot be empty")
	}
	if u.StartLine <= 0 || u.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if u.StartLine > u.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	return nil
}

// HashText returns the hex SHA-256 of text
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
