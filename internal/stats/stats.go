// Package stats collects the per-request counters the orchestrator
// emits: a request served through the cache records one of
// {cache_miss, cache_hit, stale_serve}, plus a generation event when
// content was generated; a bypassed request, or a miss whose
// generation fails, records only the generation event. When disabled via configuration,
// [Noop] is used instead so the core never branches on whether stats
// are enabled.
package stats

import "sync/atomic"

// Collector receives the events the orchestrator produces. Every
// method must be safe for concurrent use and must not block the
// request path.
type Collector interface {
	CacheHit()
	CacheMiss()
	StaleServe()
	Generation(success bool, elapsedMS int64)
	Snapshot() Snapshot
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	CacheHits        int64
	CacheMisses      int64
	StaleServes      int64
	Generations      int64
	GenerationErrors int64
	GenerationMS     int64
}

// Memory is an in-process atomic-counter [Collector]: every method uses
// atomic operations only, never a lock.
type Memory struct {
	hits        int64
	misses      int64
	stale       int64
	generations int64
	genErrors   int64
	genMS       int64
}

// NewMemory returns a ready-to-use in-process Collector.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) CacheHit()   { atomic.AddInt64(&m.hits, 1) }
func (m *Memory) CacheMiss()  { atomic.AddInt64(&m.misses, 1) }
func (m *Memory) StaleServe() { atomic.AddInt64(&m.stale, 1) }

func (m *Memory) Generation(success bool, elapsedMS int64) {
	atomic.AddInt64(&m.generations, 1)
	atomic.AddInt64(&m.genMS, elapsedMS)

	if !success {
		atomic.AddInt64(&m.genErrors, 1)
	}
}

// Snapshot returns a consistent-enough point-in-time read; individual
// fields may interleave with concurrent writers by at most one
// increment, which is acceptable for observability counters.
func (m *Memory) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:        atomic.LoadInt64(&m.hits),
		CacheMisses:      atomic.LoadInt64(&m.misses),
		StaleServes:      atomic.LoadInt64(&m.stale),
		Generations:      atomic.LoadInt64(&m.generations),
		GenerationErrors: atomic.LoadInt64(&m.genErrors),
		GenerationMS:     atomic.LoadInt64(&m.genMS),
	}
}

// Noop discards every event. Used when configuration disables stats.
type Noop struct{}

func (Noop) CacheHit()                          {}
func (Noop) CacheMiss()                         {}
func (Noop) StaleServe()                        {}
func (Noop) Generation(success bool, ms int64)  {}
func (Noop) Snapshot() Snapshot                 { return Snapshot{} }

// Compile-time interface checks.
var (
	_ Collector = (*Memory)(nil)
	_ Collector = Noop{}
)
