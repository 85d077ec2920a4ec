// Package orchestrator wires the Request Classifier, Key Generator,
// Cache Store, Freshness Classifier, Lock Manager, Content Generator,
// Background Dispatcher, and Callback Registry into the single state
// machine: classify, derive key, read store, classify freshness, and
// branch into the fresh/stale/expired/miss paths. It is the one
// package that knows about all eight subsystems; every other package
// is usable in isolation.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calvinalkan/isr-cache/internal/classify"
	"github.com/calvinalkan/isr-cache/internal/config"
	"github.com/calvinalkan/isr-cache/internal/dispatch"
	"github.com/calvinalkan/isr-cache/internal/freshness"
	"github.com/calvinalkan/isr-cache/internal/generator"
	"github.com/calvinalkan/isr-cache/internal/key"
	"github.com/calvinalkan/isr-cache/internal/lockmgr"
	"github.com/calvinalkan/isr-cache/internal/logging"
	"github.com/calvinalkan/isr-cache/internal/registry"
	"github.com/calvinalkan/isr-cache/internal/sender"
	"github.com/calvinalkan/isr-cache/internal/stats"
	"github.com/calvinalkan/isr-cache/internal/store"
)

// ErrGenerationFailed is returned (alongside an error Response) when
// the Content Generator reports failure on the miss path.
var ErrGenerationFailed = errors.New("content generation failed")

// lockMaxWait bounds how long the miss path waits for the per-key lock
// before falling back to a degraded, unlocked generation;
// lockRetryInterval is the pause between acquisition attempts.
const (
	lockMaxWait       = 5 * time.Second
	lockRetryInterval = 100 * time.Millisecond
)

// Options parameterizes a single [Orchestrator.Handle] call.
type Options struct {
	Variants       map[string]string
	TTL            int64 // 0 selects the configured default TTL
	CallbackName   string // resolved via the Registry for background regeneration
	CallbackParams map[string]any
	Timeout        time.Duration
}

// Response is everything the caller needs to hand off to a
// [sender.Sender], plus an optional Flush hook for queued background
// work. Flush is nil when nothing was queued.
type Response struct {
	StatusCode    int
	Body          []byte
	CacheStatus   sender.CacheStatus
	AgeSeconds    int64
	HasAge        bool
	GenerationMS  int64
	HasGeneration bool

	// Flush runs any background jobs queued by this request. Callers
	// must invoke it only after the response body has reached the
	// transport, never before, and never concurrently with writing the
	// response.
	Flush func()
}

// Orchestrator holds the process-wide collaborators: the Store, Lock
// Manager, Registry, and stats Collector persist across requests; a
// fresh [dispatch.Dispatcher] is created per [Orchestrator.Handle]
// call — only its job handler is process-wide.
type Orchestrator struct {
	store        *store.Store
	locks        *lockmgr.Manager
	gen          *generator.Generator
	registry     *registry.Registry
	stats        stats.Collector
	logger       logging.Logger
	cfg          config.Config
	classifyOpts classify.Options
	maxInFlight  int
	now          func() time.Time
}

// New returns an Orchestrator wiring the given collaborators.
// maxInFlight bounds the background worker pool each request's
// Dispatcher fans out across; 0 means unbounded.
func New(
	s *store.Store,
	locks *lockmgr.Manager,
	gen *generator.Generator,
	reg *registry.Registry,
	collector stats.Collector,
	logger logging.Logger,
	cfg config.Config,
	classifyOpts classify.Options,
	maxInFlight int,
) *Orchestrator {
	return &Orchestrator{
		store:        s,
		locks:        locks,
		gen:          gen,
		registry:     reg,
		stats:        collector,
		logger:       logger,
		cfg:          cfg,
		classifyOpts: classifyOpts,
		maxInFlight:  maxInFlight,
		now:          time.Now,
	}
}

// Handle runs the full state machine for one request: classify, look
// up the key, read the store, classify freshness, and branch into the
// fresh/stale/expired/miss paths. callback produces HTML synchronously
// for the bypass and miss paths; opts.CallbackName must name a
// registered [registry.Callable] for background regeneration to
// resolve the same work without shipping a live closure across the
// job boundary.
func (o *Orchestrator) Handle(req classify.Request, opts Options, callback generator.Callback) (Response, error) {
	classification := classify.Classify(req, o.classifyOpts)
	if !classification.Cacheable {
		return o.generate(req, callback, opts)
	}

	k := key.Derive(req.URL, opts.Variants)

	entry, ok := o.store.Read(k.String())
	if !ok {
		return o.missPath(req, k, opts, callback)
	}

	staleWindow := o.cfg.StaleWindow(entry.TTL)
	verdict := freshness.Classify(o.now().Unix(), entry.CreatedAt, entry.TTL, staleWindow)

	switch verdict.Verdict {
	case freshness.Fresh:
		o.stats.CacheHit()

		return Response{
			StatusCode:  200,
			Body:        entry.Content,
			CacheStatus: sender.CacheFresh,
			AgeSeconds:  verdict.AgeSeconds,
			HasAge:      true,
		}, nil

	case freshness.Stale:
		o.stats.StaleServe()

		locked, err := o.locks.IsLocked(k.String())
		if err != nil {
			o.logger.Warn("lock status check failed", "key", string(k), "err", err)
		}

		resp := Response{
			StatusCode: 200,
			Body:       entry.Content,
			AgeSeconds: verdict.AgeSeconds,
			HasAge:     true,
		}

		if locked {
			resp.CacheStatus = sender.CacheStaleRegenerating

			return resp, nil
		}

		resp.CacheStatus = sender.CacheStale
		resp.Flush = o.queueRegeneration(req, k, entry.TTL, opts)

		return resp, nil

	default: // freshness.Expired
		return o.missPath(req, k, opts, callback)
	}
}

// missPath acquires the per-key lock, generates under it, publishes,
// and releases — falling back to a
// degraded unlocked generation if the lock cannot be acquired in time
// and no concurrently-published entry is found on re-read. Once the
// lock is held it re-reads the Store too, and serves a fresh entry
// published while it waited instead of generating again.
func (o *Orchestrator) missPath(req classify.Request, k key.Key, opts Options, callback generator.Callback) (Response, error) {
	backgroundTimeout := time.Duration(o.cfg.Background.TimeoutSeconds) * time.Second

	acquired, err := o.locks.AcquireWithWait(k.String(), backgroundTimeout, lockMaxWait, lockRetryInterval)
	if err != nil {
		o.logger.Warn("lock acquire failed", "key", string(k), "err", err)
	}

	if err != nil || !acquired.Locked {
		if entry, ok := o.store.Read(k.String()); ok {
			o.stats.CacheHit()

			return Response{
				StatusCode:  200,
				Body:        entry.Content,
				CacheStatus: sender.CacheLocked,
				AgeSeconds:  o.now().Unix() - entry.CreatedAt,
				HasAge:      true,
			}, nil
		}

		o.logger.Warn("generating without lock (degraded)", "key", string(k))

		return o.generateAndPublish(req, k, opts, callback)
	}

	defer func() {
		if err := o.locks.Release(k.String()); err != nil {
			o.logger.Warn("lock release failed", "key", string(k), "err", err)
		}
	}()

	if entry, ok := o.store.Read(k.String()); ok {
		v := freshness.Classify(o.now().Unix(), entry.CreatedAt, entry.TTL, o.cfg.StaleWindow(entry.TTL))
		if v.Verdict == freshness.Fresh {
			o.stats.CacheHit()

			return Response{StatusCode: 200, Body: entry.Content, CacheStatus: sender.CacheLocked, AgeSeconds: v.AgeSeconds, HasAge: true}, nil
		}
	}

	return o.generateAndPublish(req, k, opts, callback)
}

// generateAndPublish runs callback, and on success writes the result
// to the Store under ttl with the reserved metadata fields (url,
// variants, generated_at).
func (o *Orchestrator) generateAndPublish(req classify.Request, k key.Key, opts Options, callback generator.Callback) (Response, error) {
	result := o.gen.Execute(generator.Input{Callback: callback, Timeout: opts.Timeout, URL: req.URL})
	o.stats.Generation(result.Success, result.ElapsedMS)

	if !result.Success {
		return Response{StatusCode: 500, Body: []byte(result.Error)}, fmt.Errorf("%w: %s", ErrGenerationFailed, result.Error)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = o.cfg.Cache.DefaultTTL
	}

	metadata := map[string]any{
		"url":          req.URL,
		"variants":     opts.Variants,
		"generated_at": o.now().Unix(),
	}

	if !o.store.Write(k.String(), result.HTML, ttl, metadata) {
		o.logger.Warn("store write failed", "key", string(k))
	}

	o.stats.CacheMiss()

	return Response{
		StatusCode:    200,
		Body:          result.HTML,
		CacheStatus:   sender.CacheMiss,
		GenerationMS:  result.ElapsedMS,
		HasGeneration: true,
	}, nil
}

// generate runs callback directly with no Store involvement, used for
// the bypass path.
func (o *Orchestrator) generate(req classify.Request, callback generator.Callback, opts Options) (Response, error) {
	result := o.gen.Execute(generator.Input{Callback: callback, Timeout: opts.Timeout, URL: req.URL})
	o.stats.Generation(result.Success, result.ElapsedMS)

	if !result.Success {
		return Response{StatusCode: 500, Body: []byte(result.Error)}, fmt.Errorf("%w: %s", ErrGenerationFailed, result.Error)
	}

	return Response{
		StatusCode:    200,
		Body:          result.HTML,
		CacheStatus:   sender.CacheBypass,
		GenerationMS:  result.ElapsedMS,
		HasGeneration: true,
	}, nil
}

// queueRegeneration dispatches a regenerate job for k and returns the
// Flush hook the caller must invoke once the response has reached the
// transport. Dispatching is via a fresh per-request [dispatch.Dispatcher]
// backed by the Orchestrator's process-wide job handler — only that
// handler is process-wide.
func (o *Orchestrator) queueRegeneration(req classify.Request, k key.Key, ttl int64, opts Options) func() {
	d := dispatch.New(&jobHandler{o: o}, o.maxInFlight)

	_, err := d.Dispatch("regenerate", map[string]any{
		"url":             req.URL,
		"cache_key":       k.String(),
		"callback_name":   opts.CallbackName,
		"callback_params": opts.CallbackParams,
		"ttl":             ttl,
		"variants":        opts.Variants,
	})
	if err != nil {
		o.logger.Warn("regenerate dispatch failed", "key", string(k), "err", err)

		return nil
	}

	return d.Flush
}

// jobHandler is the process-wide [dispatch.Handler] the Orchestrator
// hands every per-request Dispatcher. It is always available: the
// background work here is an in-process goroutine, not an external
// queue that could be down.
type jobHandler struct {
	o *Orchestrator
}

func (h *jobHandler) IsAvailable() bool { return true }

func (h *jobHandler) Dispatch(job dispatch.Job) error {
	if job.Task != "regenerate" {
		return nil
	}

	return h.o.runRegenerateJob(job)
}

// runRegenerateJob is the background job handler for task=regenerate:
// acquire the same lock (skip silently if already held), resolve the
// callback by name,
// generate, write to the Store with the original TTL and metadata,
// release the lock.
func (o *Orchestrator) runRegenerateJob(job dispatch.Job) error {
	cacheKey, _ := job.Params["cache_key"].(string)
	url, _ := job.Params["url"].(string)
	callbackName, _ := job.Params["callback_name"].(string)
	callbackParams, _ := job.Params["callback_params"].(map[string]any)
	ttl, _ := job.Params["ttl"].(int64)
	variants, _ := job.Params["variants"].(map[string]string)

	backgroundTimeout := time.Duration(o.cfg.Background.TimeoutSeconds) * time.Second

	acquired, err := o.locks.Acquire(cacheKey, backgroundTimeout)
	if err != nil {
		o.logger.Error("regenerate job: lock acquire failed", "key", cacheKey, "err", err)

		return err
	}

	if !acquired.Locked {
		o.logger.Debug("regenerate job: skipped, already locked", "key", cacheKey)

		return nil
	}

	defer func() {
		if err := o.locks.Release(cacheKey); err != nil {
			o.logger.Warn("regenerate job: lock release failed", "key", cacheKey, "err", err)
		}
	}()

	callable, ok := o.registry.Get(callbackName)
	if !ok {
		o.logger.Error("regenerate job: unresolved callback", "name", callbackName, "key", cacheKey)

		return fmt.Errorf("%w: %q", registry.ErrInvalidName, callbackName)
	}

	result := o.gen.Execute(generator.Input{
		Callback: adaptCallable(callable, callbackParams),
		URL:      url,
	})
	o.stats.Generation(result.Success, result.ElapsedMS)

	if !result.Success {
		o.logger.Warn("regenerate job: generation failed", "key", cacheKey, "err", result.Error)

		return fmt.Errorf("%w: %s", ErrGenerationFailed, result.Error)
	}

	metadata := map[string]any{
		"url":          url,
		"variants":     variants,
		"generated_at": o.now().Unix(),
	}

	if !o.store.Write(cacheKey, result.HTML, ttl, metadata) {
		o.logger.Warn("regenerate job: store write failed", "key", cacheKey)
	}

	return nil
}

// adaptCallable bridges a name-resolved [registry.Callable] — which
// takes a params mapping and returns (string, error) — into a
// [generator.Callback], which the Generator's panic/timeout pipeline
// expects.
func adaptCallable(callable registry.Callable, params map[string]any) generator.Callback {
	return func(_ *strings.Builder) (string, error) {
		return callable(params)
	}
}
