package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCompleteResolvesValue(t *testing.T) {
	t.Parallel()

	d := New(nil)
	c := d.RegisterRPC(1, "replCode")
	d.Complete(1, []byte("ok"), false)

	v, err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait(): %s", err)
	}
	if string(v) != "ok" {
		t.Fatalf("Wait() = %q, want %q", v, "ok")
	}
	if got := d.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestCompleteResolvesError(t *testing.T) {
	t.Parallel()

	d := New(nil)
	c := d.RegisterRPC(1, "replCode")
	d.Complete(1, []byte("boom"), true)

	_, err := c.Wait(context.Background())
	if err == nil {
		t.Fatalf("Wait(): got nil error, want error")
	}
}

func TestCompleteUnknownIDIsDropped(t *testing.T) {
	t.Parallel()

	d := New(nil)
	// Should not panic and should not affect any registered call.
	d.Complete(999, []byte("stray"), false)
	if got := d.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestDiscardRPC(t *testing.T) {
	t.Parallel()

	d := New(nil)
	c := d.RegisterRPC(1, "bypass")
	cause := errors.New("write failed")
	d.DiscardRPC(1, cause)

	_, err := c.Wait(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("Wait() err = %v, want %v", err, cause)
	}
}

func TestDiscardAllFailsEveryPendingCall(t *testing.T) {
	t.Parallel()

	d := New(nil)
	completions := make([]*Completion, 0, 5)
	for i := int64(0); i < 5; i++ {
		completions = append(completions, d.RegisterRPC(i, "call"))
	}

	cause := errors.New("channel inactive")
	d.DiscardAll(cause)

	for _, c := range completions {
		_, err := c.Wait(context.Background())
		if !errors.Is(err, cause) {
			t.Fatalf("Wait() err = %v, want %v", err, cause)
		}
	}
	if got := d.Pending(); got != 0 {
		t.Fatalf("Pending() after DiscardAll = %d, want 0", got)
	}
}

func TestWaitRespectsContext(t *testing.T) {
	t.Parallel()

	d := New(nil)
	c := d.RegisterRPC(1, "replJobResult")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx)
	if err == nil {
		t.Fatalf("Wait(): got nil error for an unresolved completion past its deadline")
	}
}

func TestServerInitiatedDispatch(t *testing.T) {
	t.Parallel()

	d := New(nil)
	received := make(chan []byte, 1)
	d.RegisterHandler("replState", func(payload []byte) { received <- payload })

	d.Dispatch("replState", []byte("idle"))

	select {
	case got := <-received:
		if string(got) != "idle" {
			t.Fatalf("handler got %q, want %q", got, "idle")
		}
	case <-time.After(time.Second):
		t.Fatalf("handler was not invoked")
	}
}

func TestDispatchUnknownNameIsDropped(t *testing.T) {
	t.Parallel()

	d := New(nil)
	d.Dispatch("unregistered", []byte("noop")) // must not panic
}
