package statefile

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/reposync/pkg/types"
)

// ErrSchemaTooNew is returned for files written by a newer, incompatible release
var ErrSchemaTooNew = errors.New("state file schema is newer than supported")

// CheckVersion validates a persisted schema version against the version this build writes.
//
// Versions sharing the current major version are accepted and upgraded on the
// next write. A newer major version is refused with ErrSchemaTooNew so that
// state owned by a newer release is never overwritten. Anything else
// (missing, unparsable, or an older major) wraps types.ErrCacheCorrupt.
func CheckVersion(found, current string) error {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return fmt.Errorf("invalid current schema version %q: %w", current, err)
	}
	if found == "" {
		return fmt.Errorf("%w: missing schema_version", types.ErrCacheCorrupt)
	}
	v, err := semver.NewVersion(found)
	if err != nil {
		return fmt.Errorf("%w: invalid schema_version %q", types.ErrCacheCorrupt, found)
	}

	compatible, err := semver.NewConstraint(fmt.Sprintf("^%d", cur.Major()))
	if err != nil {
		return err
	}
	if compatible.Check(v) {
		return nil
	}
	if v.Major() > cur.Major() {
		return fmt.Errorf("%w: found %s, supported %s", ErrSchemaTooNew, v, cur)
	}
	return fmt.Errorf("%w: unsupported schema_version %s", types.ErrCacheCorrupt, v)
}

// newerThan reports whether found is a valid version above current
func newerThan(found, current string) bool {
	v, err := semver.NewVersion(found)
	if err != nil {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	return v.GreaterThan(cur)
}
