package isrfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// lockSidecarPath returns the lock-file path for the cache artifact at
// path: a ".locks" subdirectory next to it, so taking the lock never
// touches the artifact's own parent-directory mtime. The Store relies
// on this when it shared-locks an entry for Read while a background
// regeneration's atomic rename may be in flight.
func lockSidecarPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	return filepath.Join(dir, ".locks", base+".lock")
}

var (
	// ErrWouldBlock is returned by the non-blocking lock probe when
	// another holder already has the lock.
	ErrWouldBlock = errors.New("lock would block")

	// errInodeMismatch is an internal sentinel indicating the lock file was
	// replaced between open and flock. Callers should retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// artifactLocker guards a cache artifact's sidecar lock file with
// flock(2) on behalf of [Real]. [Real.RLock] lets concurrent
// [store.Store.Read] calls overlap each other and a reader never
// observes a torn artifact mid-rename; [Real.Lock] is available for
// exclusive access to the same artifact, though the Lock Manager
// does not use it — its per-key regeneration lock is a separate,
// expiry-bearing O_EXCL sidecar, not a held flock.
//
// flock locks an inode, not a pathname. A sidecar can be replaced
// while a caller is blocked acquiring it (rename, delete+recreate),
// so every acquisition verifies the locked descriptor still refers to
// the inode currently at path and retries on mismatch.
//
// artifactLocker has no mutable state beyond its dependencies and is
// safe for concurrent use as long as the underlying [FS] is.
type artifactLocker struct {
	fs    FS
	flock func(fd int, how int) error
}

func newArtifactLocker(fs FS) *artifactLocker {
	return &artifactLocker{
		fs:    fs,
		flock: syscall.Flock,
	}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the underlying file descriptor.
//
// Close is idempotent — calling it multiple times is safe and
// subsequent calls return nil. Close attempts an explicit unlock
// first; if that fails but the close succeeds, the lock is usually
// still released (closing a descriptor drops any flock held by it).
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, syscall.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return nil
}

type lockType int

const (
	sharedLock    lockType = syscall.LOCK_SH
	exclusiveLock lockType = syscall.LOCK_EX
)

// Lock acquires an exclusive lock on the cache artifact's sidecar
// file at path, blocking until it is available. The sidecar (never
// the artifact itself) is created lazily if absent.
func (l *artifactLocker) Lock(path string) (*Lock, error) {
	return l.lockAttempt(path, exclusiveLock, false)
}

// RLock acquires a shared lock on the cache artifact's sidecar file
// at path, blocking until it is available. Multiple [store.Store.Read]
// calls may hold this concurrently; a held [artifactLocker.Lock]
// excludes all of them and vice versa.
func (l *artifactLocker) RLock(path string) (*Lock, error) {
	return l.lockAttempt(path, sharedLock, false)
}

// tryLockNonBlocking attempts to acquire lt on path without blocking.
// Used only by tests that verify one lock excludes another; the core
// never needs a non-blocking attempt since the Lock Manager's own
// O_EXCL polling (see lockmgr.AcquireWithWait) is what implements
// timeout-bounded acquisition for regeneration, not this locker.
func (l *artifactLocker) tryLockNonBlocking(path string, lt lockType) (*Lock, error) {
	return l.lockAttempt(path, lt, true)
}

func (l *artifactLocker) lockAttempt(path string, lt lockType, nonBlocking bool) (*Lock, error) {
	openFlag := openFlagForLockType(lt)

	for {
		file, err := l.openLockFile(path, openFlag)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, lt, nonBlocking)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

// acquire attempts to flock the given file and verify the inode still
// matches path. On success, the file is locked and ready to use. On
// failure, the file is unlocked (if needed) but NOT closed — the
// caller must close it.
func (l *artifactLocker) acquire(file File, path string, lt lockType, nonBlocking bool) error {
	fd := int(file.Fd())

	flags := int(lt)
	if nonBlocking {
		flags |= syscall.LOCK_NB
	}

	if err := flockRetryEINTR(l.flock, fd, flags); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return err
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *artifactLocker) openLockFile(path string, flag int) (File, error) {
	f, err := l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath verifies that f (the open file descriptor about to
// be used as the lock) still refers to the file currently at path.
// Without this check, a locker that opened the sidecar right before
// it was replaced could flock an inode that no longer corresponds to
// "the lock at path", while a second locker flocks the replacement —
// both believing they hold the same lock.
func (l *artifactLocker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

func openFlagForLockType(lt lockType) int {
	if lt == sharedLock {
		return os.O_RDONLY
	}

	return os.O_RDWR
}

// Compile-time interface check.
var _ FileLock = (*Lock)(nil)

// flockRetryEINTR wraps flock, retrying on EINTR: a blocking syscall
// interrupted by a signal (SIGCHLD, SIGALRM, terminal resize) hasn't
// failed, it just needs to be retried. Retries are capped so a
// pathological signal storm can't spin forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
