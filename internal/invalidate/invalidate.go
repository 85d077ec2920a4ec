// Package invalidate implements the Invalidation Resolver and Purger:
// turning a domain event into the set of cache keys to remove, and
// removing them by explicit list, URL pattern, or bulk purge-all.
package invalidate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/calvinalkan/isr-cache/internal/key"
	"github.com/calvinalkan/isr-cache/internal/store"
)

// Sentinel errors.
var ErrInvalidKeyType = errors.New("invalid key type")

// Event is an InvalidationEvent: a domain change plus the page
// classes and tags it affects.
type Event struct {
	Event        string
	EntityType   string
	EntityID     string
	Dependencies map[string][]string // page_class -> tags
	Variants     []map[string]string
}

// ResolveResult is the Resolver's output.
type ResolveResult struct {
	CacheKeysToPurge []key.Key
	Reason           string
}

// Resolver converts events into cache keys using a configured
// (page_class, tag) -> URL template mapping. Each template contains
// exactly one "%s", substituted with the tag.
type Resolver struct {
	urlTemplates map[string]string
}

// NewResolver returns a Resolver using urlTemplates, e.g.
// {"category_page": "/category/%s"}.
func NewResolver(urlTemplates map[string]string) *Resolver {
	return &Resolver{urlTemplates: urlTemplates}
}

// Resolve composes, for every (page_class, tag) x variant in the
// event's dependencies, the canonical URL for that page class and
// derives its fingerprint via [key.Derive]. Page classes with no
// configured template are skipped; they contribute no keys.
func (r *Resolver) Resolve(event Event) ResolveResult {
	variants := event.Variants
	if len(variants) == 0 {
		variants = []map[string]string{nil}
	}

	var keys []key.Key

	for pageClass, tags := range event.Dependencies {
		template, ok := r.urlTemplates[pageClass]
		if !ok {
			continue
		}

		for _, tag := range tags {
			url := fmt.Sprintf(template, tag)

			for _, variant := range variants {
				keys = append(keys, key.Derive(url, variant))
			}
		}
	}

	return ResolveResult{
		CacheKeysToPurge: keys,
		Reason:           fmt.Sprintf("event %q on %s:%s", event.Event, event.EntityType, event.EntityID),
	}
}

// PurgeResult is the Purger's output.
type PurgeResult struct {
	PurgedCount int
	KeysPurged  []string
	Errors      []string
}

// Purger deletes entries from a [store.Store] by explicit key,
// URL pattern, or bulk purge-all.
type Purger struct {
	store *store.Store
}

// NewPurger returns a Purger operating on s.
func NewPurger(s *store.Store) *Purger {
	return &Purger{store: s}
}

// PurgeKeys deletes each key in keys. Missing keys are silently
// skipped, not an error: purging the same key twice reports zero
// purged the second time.
func (p *Purger) PurgeKeys(keys []string) PurgeResult {
	result := PurgeResult{KeysPurged: []string{}, Errors: []string{}}

	for _, k := range keys {
		if p.store.Delete(k) {
			result.PurgedCount++
			result.KeysPurged = append(result.KeysPurged, k)
		}
	}

	return result
}

// PurgePattern deletes every entry whose metadata.url matches
// pattern, a glob where '*' matches any substring (including empty)
// and every other character is literal, anchored to the full URL.
// Entries without a url field are silently skipped.
func (p *Purger) PurgePattern(pattern string) (PurgeResult, error) {
	re, err := compileURLGlob(pattern)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("%w: %w", ErrInvalidKeyType, err)
	}

	entries, err := p.store.List(false)
	if err != nil {
		return PurgeResult{}, err
	}

	result := PurgeResult{KeysPurged: []string{}, Errors: []string{}}

	for k, entry := range entries {
		url, ok := entry.Metadata["url"].(string)
		if !ok {
			continue
		}

		if !re.MatchString(url) {
			continue
		}

		if p.store.Delete(k) {
			result.PurgedCount++
			result.KeysPurged = append(result.KeysPurged, k)
		}
	}

	return result, nil
}

// PurgeAll deletes every entry in the store.
func (p *Purger) PurgeAll() (PurgeResult, error) {
	entries, err := p.store.List(false)
	if err != nil {
		return PurgeResult{}, err
	}

	result := PurgeResult{KeysPurged: []string{}, Errors: []string{}}

	for k := range entries {
		if p.store.Delete(k) {
			result.PurgedCount++
			result.KeysPurged = append(result.KeysPurged, k)
		}
	}

	return result, nil
}

// compileURLGlob translates a '*'-only glob into an anchored regexp:
// '*' matches any substring (including empty), every other character
// is literal, and the match is anchored to the full URL.
func compileURLGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	escaped := make([]string, len(parts))

	for i, part := range parts {
		escaped[i] = regexp.QuoteMeta(part)
	}

	expr := "^" + strings.Join(escaped, ".*") + "$"

	return regexp.Compile(expr)
}
