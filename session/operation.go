package session

import (
	"time"

	"github.com/remoteexec/rsc/rsccompress"
)

// OperationState is the lifecycle of one runJob/submitJob call.
type OperationState string

const (
	OperationRunning   OperationState = "running"
	OperationSucceeded OperationState = "succeeded"
	OperationFailed    OperationState = "failed"
	OperationCancelled OperationState = "cancelled"
)

// Operation tracks one opaque binary job submitted via runJob/submitJob,
// distinct from a Statement (REPL code) per spec.md §4.1's job/statement
// split. Handle is the remote reference the driver returned from the
// bypass call; every later bypassJobStatus/cancel call addresses the job
// by Handle, never by opId, since opId is manager-local.
type Operation struct {
	ID          int64
	Handle      string
	Sync        bool
	Compression rsccompress.Algorithm // algorithm applied to the outbound payload, for diagnostics
	State       OperationState
	Result      string
	Err         error
	SubmitAt    time.Time
	UpdatedAt   time.Time
}

func newOperation(id int64, handle string, sync bool, compression rsccompress.Algorithm) *Operation {
	now := time.Now()
	return &Operation{ID: id, Handle: handle, Sync: sync, Compression: compression, State: OperationRunning, SubmitAt: now, UpdatedAt: now}
}
