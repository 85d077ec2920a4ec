// Package store implements a durable, process-safe key/value store of
// opaque byte content with per-entry TTL and a free-form metadata
// mapping, backed by the filesystem.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinalkan/isr-cache/internal/isrfs"
	"github.com/calvinalkan/isr-cache/internal/key"
)

// Sentinel errors. Write/Read never surface these to their own
// callers — an I/O failure on those paths is reported as Write → fail
// or Read → none; they exist for Prune/Stats/List, whose callers need
// to distinguish a real failure from "nothing found".
var ErrIO = errors.New("store i/o failure")

const entrySuffix = ".cache"

var hashEncoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// artifact is the on-disk encoding of a [CacheEntry]. Fields are
// exported so [encoding/gob] can serialize them; the persisted format
// is internal and never observed by callers directly.
type artifact struct {
	Content   []byte
	CreatedAt int64
	TTL       int64
	Metadata  map[string]any
}

// CacheEntry is the in-memory view of a stored artifact.
type CacheEntry struct {
	Content   []byte
	CreatedAt int64
	TTL       int64
	Metadata  map[string]any
}

// Stats summarizes the store's current contents.
type Stats struct {
	Total   int
	Valid   int
	Expired int
	Bytes   int64
}

// Store is the filesystem-backed cache key/value store. A Store is
// safe for concurrent use by multiple goroutines and, given a shared
// directory, multiple OS processes.
type Store struct {
	fs          isrfs.FS
	dir         string
	useSharding bool
	now         func() time.Time
}

// New returns a Store rooted at dir. useSharding selects the two-level
// sharded layout over the flat one.
func New(fs isrfs.FS, dir string, useSharding bool) *Store {
	return &Store{fs: fs, dir: dir, useSharding: useSharding, now: time.Now}
}

// Write serializes content, createdAt=now, ttl, and metadata into a
// single persistent artifact and publishes it via temp-file-then-
// rename, so a concurrent reader never observes a partial artifact.
// ttl=0 means never-expire. Any I/O failure returns ok=false; no error
// escapes.
func (s *Store) Write(k string, content []byte, ttl int64, metadata map[string]any) bool {
	path := s.path(k)

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}

	art := artifact{
		Content:   content,
		CreatedAt: s.now().Unix(),
		TTL:       ttl,
		Metadata:  metadata,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&art); err != nil {
		return false
	}

	if err := s.fs.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return false
	}

	return true
}

// Read returns the entry for k under a shared lock, or (nil, false)
// if it is absent, unparseable, or expired. An expired entry is
// additionally deleted, best-effort.
func (s *Store) Read(k string) (*CacheEntry, bool) {
	path := s.path(k)

	lock, err := s.fs.RLock(path)
	if err != nil {
		return nil, false
	}

	defer lock.Close()

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var art artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&art); err != nil {
		// Corrupt artifact: treated as absent, best-effort removal.
		_ = s.fs.Remove(path)

		return nil, false
	}

	if s.expired(art) {
		_ = s.fs.Remove(path)

		return nil, false
	}

	return &CacheEntry{
		Content:   art.Content,
		CreatedAt: art.CreatedAt,
		TTL:       art.TTL,
		Metadata:  art.Metadata,
	}, true
}

// Delete removes the entry for k, reporting whether it existed.
func (s *Store) Delete(k string) bool {
	path := s.path(k)

	existed, err := s.fs.Exists(path)
	if err != nil || !existed {
		return false
	}

	return s.fs.Remove(path) == nil
}

// Exists reports whether k has a live (non-expired) entry.
func (s *Store) Exists(k string) bool {
	_, ok := s.Read(k)

	return ok
}

// List scans the store and returns every live entry, keyed by its
// sanitized on-disk name. Metadata is always included; Content is
// included only when withContent is true. Expired entries are excluded
// either way.
func (s *Store) List(withContent bool) (map[string]*CacheEntry, error) {
	out := make(map[string]*CacheEntry)

	err := s.walk(func(k, path string) error {
		entry, ok := s.readArtifactAt(path)
		if !ok {
			return nil
		}

		if !withContent {
			entry.Content = nil
		}

		out[k] = entry

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Prune scans the store and removes every entry whose TTL has
// elapsed, returning the count removed.
func (s *Store) Prune() (int, error) {
	count := 0

	err := s.walk(func(k, path string) error {
		data, err := s.fs.ReadFile(path)
		if err != nil {
			return nil
		}

		var art artifact
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&art); err != nil {
			_ = s.fs.Remove(path)
			count++

			return nil
		}

		if s.expired(art) {
			_ = s.fs.Remove(path)
			count++
		}

		return nil
	})

	return count, err
}

// Stats summarizes the store's current contents.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	err := s.walk(func(k, path string) error {
		data, err := s.fs.ReadFile(path)
		if err != nil {
			return nil
		}

		stats.Total++

		var art artifact
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&art); err != nil {
			stats.Expired++

			return nil
		}

		if s.expired(art) {
			stats.Expired++
		} else {
			stats.Valid++
			stats.Bytes += int64(len(art.Content))
		}

		return nil
	})

	return stats, err
}

// WriteBatch writes each item sequentially. There is no atomicity
// across the batch.
func (s *Store) WriteBatch(items map[string]struct {
	Content  []byte
	TTL      int64
	Metadata map[string]any
}) map[string]bool {
	results := make(map[string]bool, len(items))

	for k, item := range items {
		results[k] = s.Write(k, item.Content, item.TTL, item.Metadata)
	}

	return results
}

// ReadBatch reads each key sequentially. There is no atomicity across
// the batch.
func (s *Store) ReadBatch(keys []string) map[string]*CacheEntry {
	results := make(map[string]*CacheEntry, len(keys))

	for _, k := range keys {
		if entry, ok := s.Read(k); ok {
			results[k] = entry
		}
	}

	return results
}

func (s *Store) expired(art artifact) bool {
	if art.TTL == 0 {
		return false
	}

	return art.CreatedAt+art.TTL < s.now().Unix()
}

func (s *Store) readArtifactAt(path string) (*CacheEntry, bool) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var art artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&art); err != nil {
		return nil, false
	}

	if s.expired(art) {
		return nil, false
	}

	return &CacheEntry{
		Content:   art.Content,
		CreatedAt: art.CreatedAt,
		TTL:       art.TTL,
		Metadata:  art.Metadata,
	}, true
}

// walk visits every stored artifact, invoking fn with its original
// (unsanitized identity unknown) safe key name and full path. The
// store does not retain a reverse mapping from safe filename back to
// the raw key, so the "key" passed to fn is the sanitized on-disk
// name; callers that round-trip raw keys should keep their own index
// if they need the original string back from a List scan.
func (s *Store) walk(fn func(k, path string) error) error {
	if s.useSharding {
		return s.walkSharded(fn)
	}

	return s.walkFlat(fn)
}

func (s *Store) walkFlat(fn func(k, path string) error) error {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}

		return fmt.Errorf("%w: listing store dir: %w", ErrIO, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != entrySuffix {
			continue
		}

		name := entry.Name()[:len(entry.Name())-len(entrySuffix)]
		if err := fn(name, filepath.Join(s.dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) walkSharded(fn func(k, path string) error) error {
	level1, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if isNotExist(err) {
			return nil
		}

		return fmt.Errorf("%w: listing store dir: %w", ErrIO, err)
	}

	for _, d1 := range level1 {
		if !d1.IsDir() {
			continue
		}

		dir1 := filepath.Join(s.dir, d1.Name())

		level2, err := s.fs.ReadDir(dir1)
		if err != nil {
			continue
		}

		for _, d2 := range level2 {
			if !d2.IsDir() {
				continue
			}

			dir2 := filepath.Join(dir1, d2.Name())

			entries, err := s.fs.ReadDir(dir2)
			if err != nil {
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != entrySuffix {
					continue
				}

				name := entry.Name()[:len(entry.Name())-len(entrySuffix)]
				if err := fn(name, filepath.Join(dir2, entry.Name())); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// safeName returns the sanitized filename stem used for k, with no
// extension or directory prefix. Used by tests that need to correlate
// a raw key with a [Store.List] result.
func (s *Store) safeName(k string) string {
	return key.Sanitize(k)
}

// path maps a raw key to its on-disk artifact path.
func (s *Store) path(k string) string {
	safe := s.safeName(k)

	if !s.useSharding {
		return filepath.Join(s.dir, safe+entrySuffix)
	}

	sum := sha256.Sum256([]byte(k))
	hash := hashEncoding.EncodeToString(sum[:])

	return filepath.Join(s.dir, hash[0:2], hash[2:4], safe+entrySuffix)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
