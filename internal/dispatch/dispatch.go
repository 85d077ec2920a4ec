// Package dispatch implements the Background Dispatcher: enqueuing
// work that must run only after the current HTTP response has been
// handed off to the network layer, never blocking the reader on it.
//
// A [Dispatcher] is created per request — only the [Handler] it wraps
// is process-wide state; jobs queued
// via [Dispatcher.Dispatch] run once [Dispatcher.Flush] is called,
// which callers do only after the response body is fully written.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calvinalkan/isr-cache/internal/idgen"
)

// Sentinel errors.
var ErrDispatch = errors.New("dispatch failed")

// Strategy names reported in [Result.MethodUsed].
const (
	StrategyPostResponse = "post-response"
	StrategySynchronous  = "synchronous"
)

// Job is a unit of deferred work. Params must be serializable by
// value: no live closures. Callables are referenced through the
// Callback Registry by name, never carried on the Job itself.
type Job struct {
	ID         string
	Task       string
	Params     map[string]any
	EnqueuedAt int64
}

// Handler executes jobs. IsAvailable reports whether the
// post-response strategy can be used right now; when false, Dispatch
// falls back to running the job synchronously before the response
// returns.
type Handler interface {
	Dispatch(job Job) error
	IsAvailable() bool
}

// Result is the outcome of [Dispatcher.Dispatch].
type Result struct {
	Queued     bool
	JobID      string
	MethodUsed string
}

// Dispatcher queues jobs for a single request and runs them once
// Flush is called. A Dispatcher is safe for concurrent use, though in
// practice it is owned by exactly one request.
type Dispatcher struct {
	handler     Handler
	maxInFlight int
	now         func() time.Time

	mu      sync.Mutex
	pending []Job
}

// New returns a Dispatcher backed by handler. maxInFlight bounds the
// number of jobs run concurrently out of a single Flush call (the
// fan-out pool); 0 means unbounded.
func New(handler Handler, maxInFlight int) *Dispatcher {
	return &Dispatcher{handler: handler, maxInFlight: maxInFlight, now: time.Now}
}

// Dispatch assigns a unique job id and either queues the job for
// post-response execution or, if the handler reports it is not
// available, runs it synchronously right now.
func (d *Dispatcher) Dispatch(task string, params map[string]any) (Result, error) {
	id, err := idgen.New()
	if err != nil {
		return Result{}, fmt.Errorf("%w: generating job id: %w", ErrDispatch, err)
	}

	job := Job{ID: id, Task: task, Params: params, EnqueuedAt: d.now().Unix()}

	if !d.handler.IsAvailable() {
		if err := d.handler.Dispatch(job); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrDispatch, err)
		}

		return Result{Queued: true, JobID: job.ID, MethodUsed: StrategySynchronous}, nil
	}

	d.mu.Lock()
	d.pending = append(d.pending, job)
	d.mu.Unlock()

	return Result{Queued: true, JobID: job.ID, MethodUsed: StrategyPostResponse}, nil
}

// DispatchBatch dispatches every task in order, returning one Result
// per task in the same order.
func (d *Dispatcher) DispatchBatch(tasks []struct {
	Task   string
	Params map[string]any
}) ([]Result, error) {
	results := make([]Result, 0, len(tasks))

	for _, t := range tasks {
		result, err := d.Dispatch(t.Task, t.Params)
		if err != nil {
			return results, err
		}

		results = append(results, result)
	}

	return results, nil
}

// Flush runs every queued post-response job, fanning out across at
// most maxInFlight goroutines at a time (0 means unbounded). Callers
// must only invoke Flush once the response body has reached the
// transport — Flush does not itself wait for that; it is the caller's
// contract to uphold.
//
// Flush blocks until every queued job has completed. Callers that
// want Flush itself to be non-blocking from the caller's perspective
// should invoke it in its own goroutine (the orchestrator hands Flush
// back as Response.Flush, and the daemon's page handler runs it that
// way once the response is sent).
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	jobs := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(jobs) == 0 {
		return
	}

	var sem chan struct{}
	if d.maxInFlight > 0 {
		sem = make(chan struct{}, d.maxInFlight)
	}

	var wg sync.WaitGroup

	for _, job := range jobs {
		job := job

		wg.Add(1)

		go func() {
			defer wg.Done()

			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			_ = d.handler.Dispatch(job)
		}()
	}

	wg.Wait()
}

// Pending returns a snapshot of jobs queued but not yet flushed.
// Intended for tests and diagnostics.
func (d *Dispatcher) Pending() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Job, len(d.pending))
	copy(out, d.pending)

	return out
}
