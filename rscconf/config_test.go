package rscconf

import (
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	c := New(WithCredentials("client-1", "secret"))
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate(): %s", err)
	}
}

func TestValidateRejectsUndersizedMaxMessage(t *testing.T) {
	t.Parallel()

	c := New(WithCredentials("client-1", "secret"), WithMaxMessageSize(10))
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate(): got nil error for undersized MaxMessageSize, want error")
	}
}

func TestValidateRejectsMissingClientID(t *testing.T) {
	t.Parallel()

	c := New()
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate(): got nil error for missing ClientID, want error")
	}
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()

	c := New(
		WithCredentials("client-1", "secret"),
		WithKind(PySpark),
		WithConnectTimeout(5*time.Second),
		WithMaxOperations(10),
		WithFramePacking(true),
	)
	if c.Kind != PySpark {
		t.Fatalf("Kind = %q, want %q", c.Kind, PySpark)
	}
	if c.ConnectTimeout != 5*time.Second {
		t.Fatalf("ConnectTimeout = %s, want 5s", c.ConnectTimeout)
	}
	if c.MaxOperations != 10 {
		t.Fatalf("MaxOperations = %d, want 10", c.MaxOperations)
	}
	if !c.EnableFramePacking {
		t.Fatalf("EnableFramePacking = false, want true")
	}
}
