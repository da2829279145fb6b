package cancellation

import (
	"testing"

	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func TestRequestCancellationFiresCallbacksOnce(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	r.RegisterAbortCallback("req-1", func() { calls++ })

	r.RequestCancellation("req-1")
	r.RequestCancellation("req-1")
	r.RequestCancellation("req-1")

	if calls != 1 {
		t.Fatalf("expected callback to fire exactly once, got %d", calls)
	}
	if !r.IsCancelled("req-1") {
		t.Fatalf("expected req-1 to be cancelled")
	}
}

func TestRegisterAbortCallbackAfterCancelInvokesImmediately(t *testing.T) {
	r := newTestRegistry()
	r.RequestCancellation("req-2")

	calls := 0
	r.RegisterAbortCallback("req-2", func() { calls++ })

	if calls != 1 {
		t.Fatalf("expected immediate invocation, got %d calls", calls)
	}
}

func TestAcknowledgeCancellationClearsState(t *testing.T) {
	r := newTestRegistry()
	r.RequestCancellation("req-3")
	r.AcknowledgeCancellation("req-3")

	if r.IsCancelled("req-3") {
		t.Fatalf("expected req-3 to be cleared after acknowledge")
	}

	calls := 0
	r.RegisterAbortCallback("req-3", func() { calls++ })
	if calls != 0 {
		t.Fatalf("expected no immediate invocation after acknowledge, got %d", calls)
	}
}

func TestEmptyIDIsIgnored(t *testing.T) {
	r := newTestRegistry()
	r.RequestCancellation("")
	r.AcknowledgeCancellation("")
	r.RegisterAbortCallback("", func() { t.Fatalf("callback should never fire for empty id") })
	r.UnregisterAbortCallbacks("")

	if r.IsCancelled("") {
		t.Fatalf("empty id must never be cancelled")
	}
}

func TestCallbackPanicIsRecoveredAndDoesNotPoisonRegistry(t *testing.T) {
	r := newTestRegistry()
	r.RegisterAbortCallback("req-4", func() { panic("boom") })

	r.RequestCancellation("req-4")

	if !r.IsCancelled("req-4") {
		t.Fatalf("expected req-4 to remain cancelled despite panicking callback")
	}

	calls := 0
	r.RegisterAbortCallback("req-5", func() { calls++ })
	r.RequestCancellation("req-5")
	if calls != 1 {
		t.Fatalf("registry should still work normally after a prior panic, got %d calls", calls)
	}
}

func TestUnregisterAbortCallbacksDropsPendingCallbacks(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	r.RegisterAbortCallback("req-6", func() { calls++ })
	r.UnregisterAbortCallbacks("req-6")

	r.RequestCancellation("req-6")

	if calls != 0 {
		t.Fatalf("expected unregistered callback to not fire, got %d calls", calls)
	}
}
