package registry

import (
	"errors"
	"testing"
)

func noopCallable(params map[string]any) (string, error) { return "", nil }

func TestRegister_GetRoundTrips(t *testing.T) {
	t.Parallel()

	r := New()

	if err := r.Register("regenerate.blog", noopCallable, Metadata{"task": "regenerate"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cb, ok := r.Get("regenerate.blog")
	if !ok || cb == nil {
		t.Fatal("Get did not return the registered callback")
	}

	meta, ok := r.Metadata("regenerate.blog")
	if !ok || meta["task"] != "regenerate" {
		t.Fatalf("Metadata = %+v", meta)
	}
}

func TestRegister_RejectsInvalidName(t *testing.T) {
	t.Parallel()

	r := New()

	if err := r.Register("has space", noopCallable, nil); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Register error = %v, want ErrInvalidName", err)
	}
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := New()

	if err := r.Register("x", noopCallable, nil); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	if err := r.Register("x", noopCallable, nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Register error = %v, want ErrDuplicate", err)
	}
}

func TestHas(t *testing.T) {
	t.Parallel()

	r := New()

	if r.Has("x") {
		t.Fatal("Has = true before registration")
	}

	_ = r.Register("x", noopCallable, nil)

	if !r.Has("x") {
		t.Fatal("Has = false after registration")
	}
}

func TestList_Count(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register("a", noopCallable, nil)
	_ = r.Register("b", noopCallable, nil)

	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register("a", noopCallable, nil)

	if !r.Unregister("a") {
		t.Fatal("Unregister = false for a registered name")
	}

	if r.Unregister("a") {
		t.Fatal("Unregister = true for an already-removed name")
	}

	if r.Has("a") {
		t.Fatal("Has = true after Unregister")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Register("a", noopCallable, nil)
	_ = r.Register("b", noopCallable, nil)

	r.Clear()

	if r.Count() != 0 {
		t.Fatalf("Count = %d after Clear, want 0", r.Count())
	}
}

func TestGet_UnknownNameReturnsFalse(t *testing.T) {
	t.Parallel()

	r := New()

	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get = ok for an unregistered name")
	}
}
