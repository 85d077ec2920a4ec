// Package generator executes a user-supplied HTML producer, captures
// its emitted bytes, measures elapsed time, and converts any fault
// into a structured [Result]. A panic in the callback never escapes
// [Generator.Execute]'s caller.
package generator

import (
	"fmt"
	"strings"
	"time"
)

// Callback produces HTML for a request. It may return the HTML
// directly, write it to sink, or both — if both, the returned string
// takes precedence. sink is reset before every call so a failed
// invocation never leaves partially captured bytes behind.
type Callback func(sink *strings.Builder) (string, error)

// Result is the outcome of executing a [Callback].
type Result struct {
	Success   bool
	HTML      []byte
	ElapsedMS int64
	Error     string
}

// Input parameterizes a single execution.
type Input struct {
	Callback Callback
	Timeout  time.Duration // zero means "no timeout check"
	URL      string
}

// Generator runs callbacks and converts faults and timeouts into
// [Result] values. Generator holds no per-call state and is safe for
// concurrent use.
type Generator struct {
	now func() time.Time
}

// New returns a ready-to-use Generator.
func New() *Generator {
	return &Generator{now: time.Now}
}

// Execute runs in.Callback, recovering any panic and converting it
// into a failed [Result]. Elapsed time is always recorded. If
// in.Timeout is set and elapsed exceeds it, the result is marked
// failed with a timeout error even though the callback ran to
// completion — this is detection, not enforcement.
func (g *Generator) Execute(in Input) (result Result) {
	start := g.now()

	var sink strings.Builder

	defer func() {
		result.ElapsedMS = g.now().Sub(start).Milliseconds()

		if r := recover(); r != nil {
			result = Result{
				Success:   false,
				HTML:      nil,
				ElapsedMS: result.ElapsedMS,
				Error:     fmt.Sprintf("panic: %v", r),
			}
		}

		if result.Success && in.Timeout > 0 && time.Duration(result.ElapsedMS)*time.Millisecond > in.Timeout {
			result.Success = false
			result.HTML = nil
			result.Error = fmt.Sprintf("generation exceeded timeout of %s", in.Timeout)
		}
	}()

	returned, err := in.Callback(&sink)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	html := returned
	if html == "" {
		html = sink.String()
	}

	return Result{Success: true, HTML: []byte(html)}
}

// BatchExecute runs each input sequentially, preserving input keys.
func (g *Generator) BatchExecute(inputs map[string]Input) map[string]Result {
	results := make(map[string]Result, len(inputs))

	for k, in := range inputs {
		results[k] = g.Execute(in)
	}

	return results
}

// ExecuteWithFallback runs primary; if it fails, fallback is run
// through the same pipeline and its result is returned instead.
func (g *Generator) ExecuteWithFallback(primary, fallback Input) Result {
	result := g.Execute(primary)
	if result.Success {
		return result
	}

	return g.Execute(fallback)
}

// Verify reports whether cb produces a non-empty byte sequence after
// trimming whitespace.
func (g *Generator) Verify(cb Callback) bool {
	result := g.Execute(Input{Callback: cb})

	return result.Success && strings.TrimSpace(string(result.HTML)) != ""
}
