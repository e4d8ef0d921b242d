// Package recordid generates and classifies record identifiers. A record id
// is either temporary (minted locally while a record has never reached the
// remote store) or canonical (assigned by the remote store on first upsert).
//
// Temporary ids have the form "local_<unix-millis>_<random>". The timestamp
// keeps them roughly ordered by creation; the random suffix makes them unique
// across devices that create records in the same millisecond.
//
// This is a leaf package; the only dependency is google/uuid for randomness.
package recordid

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks an id as provisional. Canonical ids never start with it.
const TempPrefix = "local_"

// suffixLen is the number of hex characters taken from a random UUID.
const suffixLen = 12

// NewTemporary mints a fresh temporary id stamped with now.
func NewTemporary(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]

	return TempPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

// IsTemporary reports whether id was minted by NewTemporary (or any earlier
// client using the same prefix convention).
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// IsCanonical reports whether id is a non-empty remote-assigned id.
func IsCanonical(id string) bool {
	return id != "" && !IsTemporary(id)
}

// MintedAt extracts the creation time embedded in a temporary id. The second
// return value is false for canonical ids and malformed temporary ids.
func MintedAt(id string) (time.Time, bool) {
	if !IsTemporary(id) {
		return time.Time{}, false
	}

	rest := strings.TrimPrefix(id, TempPrefix)

	stamp, _, found := strings.Cut(rest, "_")
	if !found {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.UnixMilli(ms), true
}
