// Package key derives the deterministic cache-key fingerprint from a
// URL and its variant tuple.
package key

import (
	"crypto/sha256"
	"encoding/base32"
	"sort"
	"strings"
)

// encoding is a lowercase Crockford-style base32 alphabet, matching
// the short-ID encoding used for lock and job IDs (internal/idgen):
// no padding, filesystem-safe, case-insensitive by convention.
var encoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// Key is an opaque, filesystem-safe fingerprint derived from a URL and
// its variant mapping. Equal (url, variants) pairs always produce an
// equal Key, regardless of variant iteration order.
type Key string

// String returns the key's filesystem-safe textual form.
func (k Key) String() string {
	return string(k)
}

// Derive computes the fingerprint for (url, variants). Variant keys
// are sorted before hashing so that insertion order never affects the
// result.
//
// The digest is SHA-256 over a canonical encoding of the inputs,
// re-encoded in base32; collision probability is far below 2⁻⁶⁴.
func Derive(url string, variants map[string]string) Key {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})

	for _, axis := range sortedKeys(variants) {
		h.Write([]byte(axis))
		h.Write([]byte{'='})
		h.Write([]byte(variants[axis]))
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)

	return Key(encoding.EncodeToString(sum))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Sanitize maps an arbitrary key string to the Store's safe filename
// character set: letters, digits, '_', '-'. Every other character
// (rune) is replaced with a single '_'. [Derive]'s output is already safe; Sanitize
// exists for keys supplied directly by callers (tests, explicit purge
// lists).
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}
