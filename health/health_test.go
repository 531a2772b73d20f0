package health

import (
	"errors"
	"testing"
)

func TestTrackerTransitions(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if s, _ := tr.Status(); s != Unknown {
		t.Fatalf("initial status = %s, want %s", s, Unknown)
	}

	failure := errors.New("ping timed out")
	tr.RecordFailure(failure)
	if s, reason := tr.Status(); s != NotServing || !errors.Is(reason, failure) {
		t.Fatalf("after RecordFailure: status=%s reason=%v, want %s / %v", s, reason, NotServing, failure)
	}

	tr.RecordSuccess()
	if s, reason := tr.Status(); s != Serving || reason != nil {
		t.Fatalf("after RecordSuccess: status=%s reason=%v, want %s / nil", s, reason, Serving)
	}

	gone := errors.New("channel closed")
	tr.RecordUnreachable(gone)
	if s, reason := tr.Status(); s != Unreachable || !errors.Is(reason, gone) {
		t.Fatalf("after RecordUnreachable: status=%s reason=%v, want %s / %v", s, reason, Unreachable, gone)
	}
}
