// Package daemon wires every subsystem into a runnable HTTP cache
// daemon: pflag-parsed global flags, a config load that must succeed
// before anything else starts, and a goroutine-plus-signal-channel
// shutdown race.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/isr-cache/internal/classify"
	"github.com/calvinalkan/isr-cache/internal/config"
	"github.com/calvinalkan/isr-cache/internal/generator"
	"github.com/calvinalkan/isr-cache/internal/invalidate"
	"github.com/calvinalkan/isr-cache/internal/isrfs"
	"github.com/calvinalkan/isr-cache/internal/lockmgr"
	"github.com/calvinalkan/isr-cache/internal/logging"
	"github.com/calvinalkan/isr-cache/internal/orchestrator"
	"github.com/calvinalkan/isr-cache/internal/registry"
	"github.com/calvinalkan/isr-cache/internal/sender"
	"github.com/calvinalkan/isr-cache/internal/stats"
	"github.com/calvinalkan/isr-cache/internal/store"
)

const shutdownGrace = 5 * time.Second

// Run is the daemon's main entry point. Returns the process exit
// code. sigCh may be nil if signal-driven shutdown is not needed
// (e.g. in tests).
func Run(_ io.Reader, out, errOut io.Writer, args []string, _ map[string]string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("isrd", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() {}

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagConfig := flags.StringP("config", "c", "", "Use specified config `file`")
	flagAddr := flags.String("addr", "", "Override server.addr, e.g. :8080")
	flagCacheDir := flags.String("cache-dir", "", "Override cache.dir")

	if err := flags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if *flagHelp {
		printUsage(out)

		return 0
	}

	cfg, err := config.Load("", "./isr.config.jsonc", *flagConfig)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if flags.Changed("addr") {
		cfg.Server.Addr = *flagAddr
	}

	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = *flagCacheDir
	}

	if err := cfg.Validate(); err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger := logging.Default()

	fs := isrfs.NewReal()
	s := store.New(fs, cfg.Cache.Dir, cfg.Cache.UseSharding.Bool())
	locks := lockmgr.New(fs, cfg.LockDir())
	gen := generator.New()
	reg := registry.New()

	registerDemoCallbacks(reg)

	var collector stats.Collector = stats.Noop{}
	if cfg.Stats.Enabled.Bool() {
		collector = stats.NewMemory()
	}

	classifyOpts := classify.Options{
		AuthCookiePatterns: []string{"session", "auth_token"},
		CacheBustHeader:    "Cache-Control",
		CacheBustValue:     "no-cache",
	}

	orch := orchestrator.New(s, locks, gen, reg, collector, logger, cfg, classifyOpts, 8)
	snd := sender.New(sender.Options{CompressionEnabled: cfg.Compression.Enabled.Bool(), CompressionLevel: cfg.Compression.Level})
	purger := invalidate.NewPurger(s)

	mux := http.NewServeMux()
	mux.HandleFunc("/isr/purge", purgeHandler(purger, logger))
	mux.HandleFunc("/isr/stats", statsHandler(collector))
	mux.HandleFunc("/", pageHandler(orch, snd, logger))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	fprintln(out, "isrd listening on", cfg.Server.Addr, "cache dir", cfg.Cache.Dir)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			fprintln(errOut, "error:", err)

			return 1
		}

		return 0
	case <-sigCh:
		fprintln(out, "shutting down with", shutdownGrace, "timeout...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fprintln(errOut, "forced shutdown:", err)

			return 130
		}

		return 0
	}
}

// registerDemoCallbacks registers the sample page-rendering callback
// exercised by the default "/" handler and by background regeneration
// jobs referencing it by name.
func registerDemoCallbacks(reg *registry.Registry) {
	_ = reg.Register("render_page", func(params map[string]any) (string, error) {
		url, _ := params["url"].(string)

		return fmt.Sprintf(
			"<html><body><h1>%s</h1><p>generated at %s</p></body></html>",
			url, time.Now().UTC().Format(time.RFC3339Nano),
		), nil
	}, registry.Metadata{"description": "demo page renderer"})
}

func pageHandler(orch *orchestrator.Orchestrator, snd *sender.Sender, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := toClassifyRequest(r)

		callback := func(_ *strings.Builder) (string, error) {
			return fmt.Sprintf(
				"<html><body><h1>%s</h1><p>generated at %s</p></body></html>",
				req.URL, time.Now().UTC().Format(time.RFC3339Nano),
			), nil
		}

		resp, err := orch.Handle(req, orchestrator.Options{CallbackName: "render_page", CallbackParams: map[string]any{"url": req.URL}}, callback)
		if err != nil {
			logger.Error("handle failed", "url", req.URL, "err", err)
		}

		wrapped := sender.Wrap(w)

		env := sender.Envelope{
			StatusCode:    resp.StatusCode,
			Body:          resp.Body,
			CacheStatus:   resp.CacheStatus,
			AgeSeconds:    resp.AgeSeconds,
			HasAge:        resp.HasAge,
			GenerationMS:  resp.GenerationMS,
			HasGeneration: resp.HasGeneration,
		}

		if sendErr := snd.Send(wrapped, r, env); sendErr != nil {
			logger.Error("send failed", "url", req.URL, "err", sendErr)
		}

		if resp.Flush != nil {
			go resp.Flush()
		}
	}
}

func purgeHandler(purger *invalidate.Purger, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		pattern := r.URL.Query().Get("pattern")

		var (
			result invalidate.PurgeResult
			err    error
		)

		switch {
		case pattern != "":
			result, err = purger.PurgePattern(pattern)
		case r.URL.Query().Get("all") == "true":
			result, err = purger.PurgeAll()
		default:
			keys := r.URL.Query()["key"]
			result = purger.PurgeKeys(keys)
		}

		if err != nil {
			logger.Error("purge failed", "err", err)
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func statsHandler(collector stats.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	}
}

func toClassifyRequest(r *http.Request) classify.Request {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	cookieNames := make([]string, 0, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookieNames = append(cookieNames, c.Name)
	}

	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return classify.Request{
		Method:      r.Method,
		URL:         r.URL.Path,
		Headers:     headers,
		CookieNames: cookieNames,
		Query:       query,
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const usageText = `isrd - incremental static regeneration cache daemon

Usage: isrd [flags]

Flags:
  -h, --help             Show help
  -c, --config <file>    Use specified config file
  --addr <addr>          Override server.addr, e.g. :8080
  --cache-dir <dir>      Override cache.dir`

func printUsage(w io.Writer) {
	fprintln(w, usageText)
}
