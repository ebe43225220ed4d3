// Package idgen generates identifiers for occupancy intervals and monitor
// runs.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// IntervalPrefix is prepended to every occupancy interval ID.
const IntervalPrefix = "occ-"

// alphabet is lowercase only so IDs survive case-insensitive tooling such as
// spreadsheet exports.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// intervalLength is the number of random characters after the prefix.
const intervalLength = 12

// IntervalID returns a new occupancy interval ID such as "occ-k3v9q0z1m2ab".
func IntervalID() (string, error) {
	id, err := nanoid.Generate(alphabet, intervalLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return IntervalPrefix + id, nil
}

// IsIntervalID reports whether s has the shape of an interval ID.
func IsIntervalID(s string) bool {
	rest, ok := strings.CutPrefix(s, IntervalPrefix)
	if !ok || len(rest) != intervalLength {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// RunID returns a random identifier for one monitor process lifetime. It is
// stamped on every lifecycle event so consumers can tell restarts apart.
func RunID() string {
	return uuid.NewString()
}
