package isrfs

import (
	"os"
	"sync"
)

// Op identifies an [FS] method for fault injection in [Chaos].
type Op string

// Injectable operations, one per [FS] method.
const (
	OpOpen            Op = "Open"
	OpCreate          Op = "Create"
	OpOpenFile        Op = "OpenFile"
	OpReadFile        Op = "ReadFile"
	OpWriteFileAtomic Op = "WriteFileAtomic"
	OpReadDir         Op = "ReadDir"
	OpMkdirAll        Op = "MkdirAll"
	OpStat            Op = "Stat"
	OpExists          Op = "Exists"
	OpRemove          Op = "Remove"
	OpRemoveAll       Op = "RemoveAll"
	OpRename          Op = "Rename"
	OpLock            Op = "Lock"
	OpRLock           Op = "RLock"
)

// Chaos wraps an [FS] (normally [Real]) and injects configurable errors
// before delegating, so the Store's and Lock Manager's failure-handling
// paths can be exercised without corrupting a real disk.
//
// Chaos is safe for concurrent use.
type Chaos struct {
	fs FS

	mu     sync.Mutex
	faults map[Op]error
	counts map[Op]int
}

// NewChaos wraps fs with fault injection. With no faults configured it
// behaves exactly like fs.
func NewChaos(fs FS) *Chaos {
	return &Chaos{
		fs:     fs,
		faults: make(map[Op]error),
		counts: make(map[Op]int),
	}
}

// FailNext makes the next call to op return err instead of delegating.
// The fault is consumed by the first matching call; subsequent calls
// succeed again unless FailNext is called again.
func (c *Chaos) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.faults[op] = err
}

// FailAlways arms the same one-shot fault as [Chaos.FailNext]: the
// first matching call returns err and consumes it, and later calls
// delegate to the wrapped FS again. [Chaos.Clear] removes a fault that
// has not fired yet.
func (c *Chaos) FailAlways(op Op, err error) {
	c.FailNext(op, err)
}

// Clear removes all injected faults.
func (c *Chaos) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.faults = make(map[Op]error)
}

// Count returns how many times op was called.
func (c *Chaos) Count(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[op]
}

// trip records the call and returns the injected error for op, if any,
// consuming it: every fault fires once, whether it was set via
// FailNext or FailAlways.
func (c *Chaos) trip(op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[op]++

	err, ok := c.faults[op]
	if !ok {
		return nil
	}

	delete(c.faults, op)

	return err
}

func (c *Chaos) Open(path string) (File, error) {
	if err := c.trip(OpOpen); err != nil {
		return nil, err
	}

	return c.fs.Open(path)
}

func (c *Chaos) Create(path string) (File, error) {
	if err := c.trip(OpCreate); err != nil {
		return nil, err
	}

	return c.fs.Create(path)
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := c.trip(OpOpenFile); err != nil {
		return nil, err
	}

	return c.fs.OpenFile(path, flag, perm)
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.trip(OpReadFile); err != nil {
		return nil, err
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := c.trip(OpWriteFileAtomic); err != nil {
		return err
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if err := c.trip(OpReadDir); err != nil {
		return nil, err
	}

	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if err := c.trip(OpMkdirAll); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.trip(OpStat); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.trip(OpExists); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if err := c.trip(OpRemove); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if err := c.trip(OpRemoveAll); err != nil {
		return err
	}

	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.trip(OpRename); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) Lock(path string) (FileLock, error) {
	if err := c.trip(OpLock); err != nil {
		return nil, err
	}

	return c.fs.Lock(path)
}

func (c *Chaos) RLock(path string) (FileLock, error) {
	if err := c.trip(OpRLock); err != nil {
		return nil, err
	}

	return c.fs.RLock(path)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
