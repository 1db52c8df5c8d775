package runtime

import (
	"context"
	"errors"
	"testing"
)

func TestCloseRunsClosersInReverseOrder(t *testing.T) {
	rt := New(context.Background(), "test")

	var order []int
	rt.Defer(func() error { order = append(order, 1); return nil })
	rt.Defer(func() error { order = append(order, 2); return nil })
	rt.Defer(func() error { order = append(order, 3); return nil })

	if err := rt.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{3, 2, 1}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestCloseCancelsContext(t *testing.T) {
	rt := New(context.Background(), "test")
	rt.Close()
	select {
	case <-rt.Context().Done():
	default:
		t.Fatal("expected runtime context to be cancelled after Close")
	}
}

func TestCloseReturnsFirstEncounteredError(t *testing.T) {
	rt := New(context.Background(), "test")
	// Close runs closers in reverse registration order, so the
	// last-registered closer's error is the first one encountered.
	lastRegistered := errors.New("last registered, runs first")
	rt.Defer(func() error { return errors.New("first registered, runs last") })
	rt.Defer(func() error { return lastRegistered })

	if err := rt.Close(); err != lastRegistered {
		t.Fatalf("expected the last-registered closer's error, got %v", err)
	}
}
