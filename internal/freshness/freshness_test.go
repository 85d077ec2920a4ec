package freshness

import "testing"

func TestClassify_FreshBeforeTTL(t *testing.T) {
	t.Parallel()

	r := Classify(50, 0, 60, 30)
	if r.Verdict != Fresh {
		t.Fatalf("Verdict = %v, want Fresh", r.Verdict)
	}
}

func TestClassify_AgeEqualsTTLIsStaleNotFresh(t *testing.T) {
	t.Parallel()

	r := Classify(60, 0, 60, 30)
	if r.Verdict != Stale {
		t.Fatalf("Verdict = %v, want Stale (age == ttl is stale, not fresh)", r.Verdict)
	}
}

func TestClassify_StaleWithinWindow(t *testing.T) {
	t.Parallel()

	r := Classify(80, 0, 60, 30)
	if r.Verdict != Stale {
		t.Fatalf("Verdict = %v, want Stale", r.Verdict)
	}
}

func TestClassify_AgeEqualsTTLPlusWindowIsExpired(t *testing.T) {
	t.Parallel()

	r := Classify(90, 0, 60, 30)
	if r.Verdict != Expired {
		t.Fatalf("Verdict = %v, want Expired (age == ttl+window is expired, not stale)", r.Verdict)
	}
}

func TestClassify_ExpiredPastWindow(t *testing.T) {
	t.Parallel()

	r := Classify(1000, 0, 60, 30)
	if r.Verdict != Expired {
		t.Fatalf("Verdict = %v, want Expired", r.Verdict)
	}
}

func TestClassify_NegativeAgeIsFresh(t *testing.T) {
	t.Parallel()

	r := Classify(0, 100, 60, 30)
	if r.Verdict != Fresh {
		t.Fatalf("Verdict = %v, want Fresh for clock skew", r.Verdict)
	}

	if r.AgeSeconds >= 0 {
		t.Fatalf("AgeSeconds = %d, want negative", r.AgeSeconds)
	}

	if r.ExpiresInSeconds < 60 {
		t.Fatalf("ExpiresInSeconds = %d, want >= ttl (60)", r.ExpiresInSeconds)
	}
}

func TestClassify_ZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	r := Classify(1_000_000, 0, 0, 0)
	if r.Verdict != Fresh {
		t.Fatalf("Verdict = %v, want Fresh (ttl=0 means never-expire)", r.Verdict)
	}
}

func TestClassify_NonPositiveTTLAndWindowIsExpired(t *testing.T) {
	t.Parallel()

	r := Classify(10, 0, -1, 0)
	if r.Verdict != Expired {
		t.Fatalf("Verdict = %v, want Expired", r.Verdict)
	}
}

func TestClassify_MonotonicInAge(t *testing.T) {
	t.Parallel()

	const ttl, window = int64(60), int64(30)

	prev := Fresh

	for age := int64(-10); age <= 120; age++ {
		v := Classify(age, 0, ttl, window).Verdict
		if v < prev {
			t.Fatalf("verdict regressed at age=%d: %v -> %v", age, prev, v)
		}

		prev = v
	}
}
