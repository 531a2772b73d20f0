package rscerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	base := errors.New("connection reset")
	err := Wrap(Transport, "rpcchannel.Call", base)

	if got := CategoryOf(err); got != Transport {
		t.Fatalf("CategoryOf() = %s, want %s", got, Transport)
	}
	if !Is(err, Transport) {
		t.Fatalf("Is(err, Transport) = false, want true")
	}
	if Is(err, NotFound) {
		t.Fatalf("Is(err, NotFound) = true, want false")
	}

	wrapped := fmt.Errorf("session 12: %w", err)
	if got := CategoryOf(wrapped); got != Transport {
		t.Fatalf("CategoryOf(wrapped) = %s, want %s", got, Transport)
	}
}

func TestCategoryOfUncategorized(t *testing.T) {
	t.Parallel()

	if got := CategoryOf(errors.New("plain error")); got != Unknown {
		t.Fatalf("CategoryOf(plain) = %s, want %s", got, Unknown)
	}
}
