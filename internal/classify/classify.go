// Package classify implements the Request Classifier: a pure decision
// over a request view, deciding whether it is cacheable and, if not,
// which rule fired.
package classify

import "strings"

// trackingParams are the UTM-style marketing parameters ignored for
// keying and cacheability.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
}

// Request is the minimal view the classifier needs. Callers adapt
// their transport's request type into this shape.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string // case-insensitively matched by Classify
	CookieNames []string
	Query       map[string]string
}

// Rule names reported in [Result.RuleTriggered].
const (
	RuleNonGET          = "non-get"
	RuleLoggedInCookie  = "logged-in-cookie"
	RuleTrackingOnly    = "tracking-only-query"
	RuleCacheBustHeader = "cache-bust-header"
	RuleDefault         = "default"
)

// Result is the classifier's output.
type Result struct {
	Cacheable     bool
	Reason        string
	RuleTriggered string
}

// Options configures the patterns the classifier matches against.
// Cookie names match an AuthCookiePatterns entry by case-insensitive
// substring; the cache-bust rule fires when a header's name and value
// equal CacheBustHeader and CacheBustValue, case-insensitively.
type Options struct {
	// AuthCookiePatterns are substrings that mark a cookie as an
	// "authenticated user" cookie, e.g. "session", "auth_token".
	AuthCookiePatterns []string
	// CacheBustHeader is the request header name checked against
	// CacheBustValue, e.g. "Cache-Control" / "no-cache".
	CacheBustHeader string
	CacheBustValue  string
}

// Classify evaluates a fixed-priority rule table. The first matching
// rule decides; Classify performs no I/O and
// touches no shared state.
func Classify(req Request, opts Options) Result {
	if !strings.EqualFold(req.Method, "GET") {
		return Result{Cacheable: false, Reason: "method is not GET", RuleTriggered: RuleNonGET}
	}

	if cookie, ok := matchesAnyCookie(req.CookieNames, opts.AuthCookiePatterns); ok {
		return Result{
			Cacheable:     false,
			Reason:        "request carries authenticated-user cookie " + cookie,
			RuleTriggered: RuleLoggedInCookie,
		}
	}

	if isTrackingOnlyQuery(req.Query) {
		return Result{
			Cacheable:     true,
			Reason:        "query consists only of tracking parameters",
			RuleTriggered: RuleTrackingOnly,
		}
	}

	if opts.CacheBustHeader != "" && headerMatches(req.Headers, opts.CacheBustHeader, opts.CacheBustValue) {
		return Result{
			Cacheable:     false,
			Reason:        "cache-bust header present",
			RuleTriggered: RuleCacheBustHeader,
		}
	}

	return Result{Cacheable: true, Reason: "no rule matched", RuleTriggered: RuleDefault}
}

// CacheableQuery strips tracking-only parameters, returning the
// residual query the key generator should use for variant derivation.
// A query left empty after stripping does not affect cacheability.
func CacheableQuery(query map[string]string) map[string]string {
	out := make(map[string]string, len(query))

	for k, v := range query {
		if trackingParams[strings.ToLower(k)] {
			continue
		}

		out[k] = v
	}

	return out
}

func isTrackingOnlyQuery(query map[string]string) bool {
	if len(query) == 0 {
		return false
	}

	for k := range query {
		if !trackingParams[strings.ToLower(k)] {
			return false
		}
	}

	return true
}

func matchesAnyCookie(names, patterns []string) (string, bool) {
	for _, name := range names {
		for _, pattern := range patterns {
			if pattern == "" {
				continue
			}

			if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
				return name, true
			}
		}
	}

	return "", false
}

func headerMatches(headers map[string]string, name, value string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, name) && strings.EqualFold(v, value) {
			return true
		}
	}

	return false
}
