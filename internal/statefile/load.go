package statefile

import (
	"errors"

	"github.com/dshills/reposync/pkg/types"
)

// Versioned is implemented by state documents that carry a schema version
type Versioned interface {
	Version() string
}

// LoadResult describes what Load found on disk
type LoadResult struct {
	Found       bool   // A file existed at the path
	Quarantined string // Non-empty when a corrupt file was moved aside
	Cause       error  // Corruption cause when Quarantined is set
}

// Load reads path into dst and validates its schema version against current.
//
// The version is read first with every other field ignored, so a file
// from a newer major release is returned as ErrSchemaTooNew and left in
// place whatever its shape. Files up to the current version are decoded
// strictly; a newer minor version may carry fields this build does not
// know and is decoded leniently.
//
// A missing file is not an error. A corrupt or incompatible-older file is
// moved aside and reported through LoadResult; dst is left in an undefined
// state and the caller must reset it.
func Load(path string, dst Versioned, current string) (LoadResult, error) {
	if _, err := RemoveStaleTemps(path); err != nil {
		return LoadResult{}, err
	}

	var header struct {
		SchemaVersion string `json:"schema_version"`
	}
	found, err := readJSON(path, &header, false)
	if !found && err == nil {
		return LoadResult{}, nil
	}
	if err == nil {
		err = CheckVersion(header.SchemaVersion, current)
	}
	if err == nil {
		_, err = readJSON(path, dst, !newerThan(header.SchemaVersion, current))
	}
	if err == nil {
		return LoadResult{Found: true}, nil
	}
	if !errors.Is(err, types.ErrCacheCorrupt) {
		return LoadResult{Found: found}, err
	}

	moved, qerr := Quarantine(path)
	if qerr != nil {
		return LoadResult{Found: true}, errors.Join(err, qerr)
	}
	return LoadResult{Found: true, Quarantined: moved, Cause: err}, nil
}
