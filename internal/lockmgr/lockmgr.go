// Package lockmgr implements cross-process mutual exclusion per cache
// key with automatic expiry. The only synchronization
// primitive is an exclusive-create file operation: two concurrent
// acquirers for the same key can never both win, regardless of OS
// scheduling.
package lockmgr

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinalkan/isr-cache/internal/idgen"
	"github.com/calvinalkan/isr-cache/internal/isrfs"
)

// Sentinel errors.
var (
	ErrIO = errors.New("lock manager i/o failure")
)

var hashEncoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// Lock is the persisted artifact shape: a single small JSON sidecar,
// not a bespoke binary format — five fields buy nothing from a custom
// layout.
type Lock struct {
	LockID    string `json:"lock_id"`
	Key       string `json:"key"`
	AcquiredAt int64  `json:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at"`
	OwnerPID   int    `json:"owner_pid"`
}

// AcquireResult is the outcome of [Manager.Acquire] and
// [Manager.AcquireWithWait].
type AcquireResult struct {
	Locked         bool
	LockID         string
	ExpiresAt      int64
	AlreadyLocked  bool
	TimeoutWaiting bool
}

// Manager coordinates exclusive holders per key using [isrfs.FS]'s
// exclusive-create-or-fail semantics as the sole synchronization
// point. A Manager is safe for concurrent use from multiple
// goroutines and multiple OS processes, as long as they share the
// same lock directory on the same filesystem.
type Manager struct {
	fs  isrfs.FS
	dir string
	now func() time.Time
}

// New returns a Manager storing lock artifacts under dir.
func New(fs isrfs.FS, dir string) *Manager {
	return &Manager{fs: fs, dir: dir, now: time.Now}
}

func (m *Manager) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hashEncoding.EncodeToString(sum[:])

	return filepath.Join(m.dir, name+".lock")
}

// Acquire attempts to take the lock for key, valid for timeout. If an
// existing lock artifact is expired, it is reclaimed first. timeout=0
// is legal: the resulting lock is reclaimable immediately, useful only
// as a liveness marker.
func (m *Manager) Acquire(key string, timeout time.Duration) (AcquireResult, error) {
	path := m.path(key)

	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return AcquireResult{}, fmt.Errorf("%w: creating lock dir: %w", ErrIO, err)
	}

	if err := m.reclaimIfExpired(path); err != nil {
		return AcquireResult{}, err
	}

	now := m.now()

	lockID, err := idgen.New()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("%w: generating lock id: %w", ErrIO, err)
	}

	lock := Lock{
		LockID:     lockID,
		Key:        key,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(timeout).Unix(),
		OwnerPID:   os.Getpid(),
	}

	data, err := json.Marshal(lock)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("%w: marshaling lock: %w", ErrIO, err)
	}

	f, err := m.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return AcquireResult{AlreadyLocked: true}, nil
		}

		return AcquireResult{}, fmt.Errorf("%w: creating lock file: %w", ErrIO, err)
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()

	if writeErr != nil {
		_ = m.fs.Remove(path)

		return AcquireResult{}, fmt.Errorf("%w: writing lock file: %w", ErrIO, writeErr)
	}

	if closeErr != nil {
		_ = m.fs.Remove(path)

		return AcquireResult{}, fmt.Errorf("%w: closing lock file: %w", ErrIO, closeErr)
	}

	return AcquireResult{Locked: true, LockID: lock.LockID, ExpiresAt: lock.ExpiresAt}, nil
}

// AcquireWithWait retries [Manager.Acquire] with sleeps of
// retryInterval until it succeeds or total elapsed time reaches
// maxWait, whichever comes first.
func (m *Manager) AcquireWithWait(key string, timeout, maxWait, retryInterval time.Duration) (AcquireResult, error) {
	deadline := m.now().Add(maxWait)

	for {
		result, err := m.Acquire(key, timeout)
		if err != nil {
			return AcquireResult{}, err
		}

		if result.Locked {
			return result, nil
		}

		if !m.now().Before(deadline) {
			result.TimeoutWaiting = true

			return result, nil
		}

		time.Sleep(retryInterval)
	}
}

// Release deletes the lock artifact for key. Release never checks
// ownership; callers compare the returned lock_id against their own
// acquisition for observability only.
func (m *Manager) Release(key string) error {
	err := m.fs.Remove(m.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: releasing lock: %w", ErrIO, err)
	}

	return nil
}

// IsLocked reports whether a non-expired lock artifact exists for
// key. An expired artifact is opportunistically reclaimed as a side
// effect.
func (m *Manager) IsLocked(key string) (bool, error) {
	path := m.path(key)

	if err := m.reclaimIfExpired(path); err != nil {
		return false, err
	}

	return m.fs.Exists(path)
}

// CleanupExpired scans the lock directory and removes every expired
// artifact, returning the count removed.
func (m *Manager) CleanupExpired() (int, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("%w: listing lock dir: %w", ErrIO, err)
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())

		reclaimed, err := m.reclaim(path)
		if err != nil {
			return count, err
		}

		if reclaimed {
			count++
		}
	}

	return count, nil
}

// ReleaseAll unconditionally deletes every lock artifact, regardless
// of expiry, returning the count removed.
func (m *Manager) ReleaseAll() (int, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("%w: listing lock dir: %w", ErrIO, err)
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if err := m.fs.Remove(filepath.Join(m.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return count, fmt.Errorf("%w: releasing lock: %w", ErrIO, err)
		}

		count++
	}

	return count, nil
}

// reclaimIfExpired removes path if it holds an expired or
// unparseable (corrupt) lock. Corrupt artifacts are treated as
// absent.
func (m *Manager) reclaimIfExpired(path string) error {
	_, err := m.reclaim(path)

	return err
}

func (m *Manager) reclaim(path string) (bool, error) {
	data, err := m.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("%w: reading lock file: %w", ErrIO, err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		// Corrupt artifact: treat as absent, best-effort remove.
		_ = m.fs.Remove(path)

		return true, nil
	}

	if lock.ExpiresAt > m.now().Unix() {
		return false, nil
	}

	if err := m.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("%w: reclaiming expired lock: %w", ErrIO, err)
	}

	return true, nil
}
