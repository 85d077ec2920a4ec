// Package isrfs provides the filesystem abstraction shared by the cache
// store and the lock manager.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Chaos]: testing implementation that injects I/O failures
//
// Example usage:
//
//	fsys := isrfs.NewReal()
//	f, err := fsys.Open("entry.cache")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package isrfs

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.Seeker], or [io.Closer].
type File interface {
	// Embedded interfaces from [io] package.
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. Used for [syscall.Flock].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk.
	Sync() error
}

// FileLock represents a held file lock.
// Call [FileLock.Close] to release the lock.
type FileLock interface {
	io.Closer
}

// FS defines filesystem operations for reading, writing, and managing
// cache entries and lock artifacts.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os] package
//   - [Chaos]: testing use, injects I/O failures
type FS interface {
	// --- File Operations ---

	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// Create creates or truncates a file for writing. See [os.Create].
	Create(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile]. Use O_CREATE|O_EXCL for exclusive lock creation.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// --- Convenience Methods ---

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically: a temp file is
	// written in the same directory, then renamed over path. A reader
	// never observes a partial artifact.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// --- Directory Operations ---

	// ReadDir reads a directory and returns its entries. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// --- Metadata ---

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// --- Mutations ---

	// Remove deletes a file. See [os.Remove].
	Remove(path string) error

	// RemoveAll deletes a path and any children. See [os.RemoveAll].
	RemoveAll(path string) error

	// Rename moves/renames a file. Atomic on the same filesystem.
	Rename(oldpath, newpath string) error

	// --- Locking ---

	// Lock acquires an exclusive file lock, blocking until acquired.
	// Call [FileLock.Close] to release.
	Lock(path string) (FileLock, error)

	// RLock acquires a shared file lock, blocking until acquired.
	// Multiple shared locks may be held concurrently.
	RLock(path string) (FileLock, error)
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
