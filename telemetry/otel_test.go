package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestStartCallRecordsOutcome(t *testing.T) {
	t.Parallel()

	tel, err := New("rsc/test")
	if err != nil {
		t.Fatalf("New(): %s", err)
	}

	_, end := tel.StartCall(context.Background(), "replCode")
	end(nil) // must not panic against the global noop providers

	_, end = tel.StartCall(context.Background(), "bypass")
	end(errors.New("driver unavailable"))

	tel.RecordStatement(context.Background(), "ok")
}

func TestNilTelemetryIsSafe(t *testing.T) {
	t.Parallel()

	var tel *Telemetry
	_, end := tel.StartCall(context.Background(), "replCode")
	end(nil)
	tel.RecordStatement(context.Background(), "ok")
}
