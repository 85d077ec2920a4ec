package classify

import "testing"

func defaultOptions() Options {
	return Options{
		AuthCookiePatterns: []string{"session", "auth_token"},
		CacheBustHeader:    "X-No-Cache",
		CacheBustValue:     "1",
	}
}

func TestClassify_NonGET(t *testing.T) {
	t.Parallel()

	r := Classify(Request{Method: "POST", URL: "/a"}, defaultOptions())
	if r.Cacheable || r.RuleTriggered != RuleNonGET {
		t.Fatalf("got %+v, want non-cacheable via %s", r, RuleNonGET)
	}
}

func TestClassify_LoggedInCookie(t *testing.T) {
	t.Parallel()

	r := Classify(Request{
		Method:      "GET",
		URL:         "/a",
		CookieNames: []string{"theme", "session_id"},
	}, defaultOptions())

	if r.Cacheable || r.RuleTriggered != RuleLoggedInCookie {
		t.Fatalf("got %+v, want non-cacheable via %s", r, RuleLoggedInCookie)
	}
}

func TestClassify_CacheBustHeader(t *testing.T) {
	t.Parallel()

	r := Classify(Request{
		Method:  "GET",
		URL:     "/a",
		Headers: map[string]string{"X-No-Cache": "1"},
	}, defaultOptions())

	if r.Cacheable || r.RuleTriggered != RuleCacheBustHeader {
		t.Fatalf("got %+v, want non-cacheable via %s", r, RuleCacheBustHeader)
	}
}

func TestClassify_TrackingOnlyQueryIsCacheable(t *testing.T) {
	t.Parallel()

	r := Classify(Request{
		Method: "GET",
		URL:    "/a",
		Query:  map[string]string{"utm_source": "newsletter", "gclid": "xyz"},
	}, defaultOptions())

	if !r.Cacheable || r.RuleTriggered != RuleTrackingOnly {
		t.Fatalf("got %+v, want cacheable via %s", r, RuleTrackingOnly)
	}
}

func TestClassify_MixedQueryFallsThroughToDefault(t *testing.T) {
	t.Parallel()

	r := Classify(Request{
		Method: "GET",
		URL:    "/a",
		Query:  map[string]string{"utm_source": "newsletter", "page": "2"},
	}, defaultOptions())

	if !r.Cacheable || r.RuleTriggered != RuleDefault {
		t.Fatalf("got %+v, want cacheable via %s", r, RuleDefault)
	}
}

func TestClassify_Default(t *testing.T) {
	t.Parallel()

	r := Classify(Request{Method: "GET", URL: "/a"}, defaultOptions())
	if !r.Cacheable || r.RuleTriggered != RuleDefault {
		t.Fatalf("got %+v, want cacheable via %s", r, RuleDefault)
	}
}

func TestClassify_RulePriorityOrder(t *testing.T) {
	t.Parallel()

	// Non-GET must win even when a logged-in cookie is also present.
	r := Classify(Request{
		Method:      "POST",
		URL:         "/a",
		CookieNames: []string{"session_id"},
	}, defaultOptions())

	if r.RuleTriggered != RuleNonGET {
		t.Fatalf("RuleTriggered = %q, want %q (non-GET takes priority)", r.RuleTriggered, RuleNonGET)
	}
}

func TestClassify_TrackingOnlyQueryBeatsCacheBustHeader(t *testing.T) {
	t.Parallel()

	r := Classify(Request{
		Method:  "GET",
		URL:     "/a",
		Query:   map[string]string{"utm_source": "newsletter"},
		Headers: map[string]string{"X-No-Cache": "1"},
	}, defaultOptions())

	if !r.Cacheable || r.RuleTriggered != RuleTrackingOnly {
		t.Fatalf("got %+v, want cacheable via %s (tracking-only-query outranks cache-bust-header)", r, RuleTrackingOnly)
	}
}

func TestCacheableQuery_StripsTrackingParams(t *testing.T) {
	t.Parallel()

	got := CacheableQuery(map[string]string{
		"utm_source": "newsletter",
		"page":       "2",
	})

	if len(got) != 1 || got["page"] != "2" {
		t.Fatalf("CacheableQuery = %+v, want only {page: 2}", got)
	}
}

func TestClassify_IsPure(t *testing.T) {
	t.Parallel()

	req := Request{Method: "GET", URL: "/a", Query: map[string]string{"utm_source": "x"}}
	opts := defaultOptions()

	a := Classify(req, opts)
	b := Classify(req, opts)

	if a != b {
		t.Fatalf("Classify is not pure: %+v != %+v", a, b)
	}
}
