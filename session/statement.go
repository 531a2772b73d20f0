package session

import "time"

// StatementState is the lifecycle of one executeStatement call, mirroring
// the reference's waiting/running/available/error/cancelling/cancelled set.
type StatementState string

const (
	StatementWaiting    StatementState = "waiting"
	StatementRunning    StatementState = "running"
	StatementAvailable  StatementState = "available"
	StatementError      StatementState = "error"
	StatementCancelling StatementState = "cancelling"
	StatementCancelled  StatementState = "cancelled"
)

// Statement tracks one piece of REPL code submitted to the driver and the
// outcome of polling for its result.
type Statement struct {
	ID        int64
	Code      string
	State     StatementState
	Output    string
	Err       error
	SubmitAt  time.Time
	UpdatedAt time.Time
}

func newStatement(id int64, code string) *Statement {
	now := time.Now()
	return &Statement{ID: id, Code: code, State: StatementWaiting, SubmitAt: now, UpdatedAt: now}
}
