// Package idgen generates short, sortable, filesystem-safe identifiers
// for lock holders and background jobs: a UUIDv7 (time-ordered, so IDs
// sort the way they were created) re-encoded as lowercase Crockford
// base32, trimmed to a short fixed-width token.
package idgen

import (
	"encoding/base32"
	"fmt"

	"github.com/google/uuid"
)

// encoding matches the alphabet used throughout this module for
// filesystem-safe short IDs.
var encoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// shortLen is the number of encoded characters kept from the UUIDv7's
// 26-character full encoding — enough entropy that collisions within
// a single process's lifetime are not a practical concern, short
// enough to stay pleasant in log lines and filenames.
const shortLen = 20

// New returns a new time-ordered short ID.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating uuidv7: %w", err)
	}

	encoded := encoding.EncodeToString(id[:])
	if len(encoded) > shortLen {
		encoded = encoded[:shortLen]
	}

	return encoded, nil
}
