// Package statefile persists pipeline state as JSON with crash-safe replacement.
//
// Every write goes to a temporary file in the target directory, is fsynced,
// and is then renamed over the destination, so a reader observes either the
// previous complete file or the new complete file and never a partial one.
// Reads are strict: unknown fields and trailing content are treated as
// corruption.
package statefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/reposync/pkg/types"
)

const (
	// FilePerm is the permission of state files
	FilePerm os.FileMode = 0o644
	// DirPerm is the permission of state directories
	DirPerm os.FileMode = 0o755
)

// WriteJSON marshals v with stable indentation and atomically replaces path
func WriteJSON(path string, v any) error {
	data, err := marshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomicDurable(path, data, FilePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadJSON strictly decodes path into dst.
// It returns (false, nil) when the file does not exist. Any decoding problem
// is reported as an error wrapping types.ErrCacheCorrupt.
func ReadJSON(path string, dst any) (bool, error) {
	return readJSON(path, dst, true)
}

// readJSON decodes path into dst. Unknown fields are rejected when strict.
func readJSON(path string, dst any, strict bool) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return true, fmt.Errorf("%w: %s: %v", types.ErrCacheCorrupt, path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return true, fmt.Errorf("%w: %s: trailing content", types.ErrCacheCorrupt, path)
	}
	return true, nil
}

// Quarantine moves a corrupt file aside so the next write starts clean.
// It returns the new path.
func Quarantine(path string) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// RemoveStaleTemps deletes temporary files left behind by interrupted writes of path
func RemoveStaleTemps(path string) (int, error) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + ".tmp."
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func marshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}
