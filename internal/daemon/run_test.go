package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calvinalkan/isr-cache/internal/generator"
	"github.com/calvinalkan/isr-cache/internal/isrfs"
	"github.com/calvinalkan/isr-cache/internal/lockmgr"
	"github.com/calvinalkan/isr-cache/internal/logging"
	"github.com/calvinalkan/isr-cache/internal/orchestrator"
	"github.com/calvinalkan/isr-cache/internal/registry"
	"github.com/calvinalkan/isr-cache/internal/sender"
	"github.com/calvinalkan/isr-cache/internal/classify"
	"github.com/calvinalkan/isr-cache/internal/config"
	"github.com/calvinalkan/isr-cache/internal/stats"
	"github.com/calvinalkan/isr-cache/internal/store"
)

func newTestStack(t *testing.T) (*orchestrator.Orchestrator, *sender.Sender) {
	t.Helper()

	fs := isrfs.NewReal()
	dir := t.TempDir()

	s := store.New(fs, dir+"/entries", false)
	locks := lockmgr.New(fs, dir+"/locks")
	gen := generator.New()
	reg := registry.New()

	registerDemoCallbacks(reg)

	collector := stats.NewMemory()
	cfg := config.Default()
	cfg.Cache.DefaultTTL = 60

	orch := orchestrator.New(s, locks, gen, reg, collector, logging.Noop{}, cfg, classify.Options{}, 4)
	snd := sender.New(sender.Options{CompressionEnabled: false})

	return orch, snd
}

func TestPageHandler_ServesAndCaches(t *testing.T) {
	t.Parallel()

	orch, snd := newTestStack(t)
	handler := pageHandler(orch, snd, logging.Noop{})

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if rec.Header().Get("X-ISR-Cache") != "miss" {
		t.Fatalf("X-ISR-Cache = %q, want miss", rec.Header().Get("X-ISR-Cache"))
	}

	req2 := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec2 := httptest.NewRecorder()
	handler(rec2, req2)

	if rec2.Header().Get("X-ISR-Cache") != "fresh" {
		t.Fatalf("X-ISR-Cache = %q, want fresh", rec2.Header().Get("X-ISR-Cache"))
	}

	if rec2.Body.String() != rec.Body.String() {
		t.Fatal("second response body diverged from cached first response")
	}
}

func TestPurgeHandler_RejectsNonPost(t *testing.T) {
	t.Parallel()

	orch, _ := newTestStack(t)
	_ = orch

	req := httptest.NewRequest(http.MethodGet, "/isr/purge", nil)
	rec := httptest.NewRecorder()

	purgeHandler(nil, logging.Noop{})(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestStatsHandler_ReturnsJSON(t *testing.T) {
	t.Parallel()

	collector := stats.NewMemory()
	collector.CacheHit()

	req := httptest.NewRequest(http.MethodGet, "/isr/stats", nil)
	rec := httptest.NewRecorder()

	statsHandler(collector)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", rec.Header().Get("Content-Type"))
	}
}
