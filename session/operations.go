package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/remoteexec/rsc/rsccompress"
	"github.com/remoteexec/rsc/rscerrors"
)

// replStateQuery mirrors the driver-side global wedge check: when a
// statement's poll comes back with an error outcome, the session asks
// whether the REPL itself is still usable before deciding how to react.
type replStateQuery struct {
	State string `json:"state"`
}

const (
	replStateOK     = "ok"
	replStateWedged = "error"
)

// Ping issues the trivial readiness call spec.md §2 describes: on success
// the session leaves Starting for Idle; on failure it goes to Error.
func (s *Session) Ping(ctx context.Context) error {
	if _, err := s.channel.Call(ctx, "ping", nil); err != nil {
		s.MarkFailed(err)
		return err
	}
	return s.MarkReady()
}

// ExecuteStatement admits one piece of REPL code, per spec.md §4.1.1. It
// returns as soon as the driver has acknowledged the submission; the
// result becomes available asynchronously via the returned Statement,
// which a background goroutine updates by polling replJobResult.
func (s *Session) ExecuteStatement(ctx context.Context, code string) (*Statement, error) {
	s.mu.Lock()
	if err := s.ensureRunning(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// executeStatement additionally requires Idle: unlike a job, a
	// statement takes the Busy slot, and only one statement runs at a
	// time. This is stricter than ensureRunning's Idle-or-Busy admission.
	if s.state != Idle {
		s.mu.Unlock()
		return nil, rscerrors.New(rscerrors.Admission, "session.ExecuteStatement",
			"a statement is already running")
	}
	id := s.nextStmtID
	s.nextStmtID++
	stmt := newStatement(id, code)
	s.statements[id] = stmt

	pollCtx, cancel := context.WithCancel(context.Background())
	s.current = &activeWork{kind: "statement", id: id, cancel: cancel}
	if err := s.transition(Busy, nil); err != nil {
		s.mu.Unlock()
		cancel()
		return nil, err
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	body, err := json.Marshal(replRequest{Method: "replCode", ID: id, Code: code})
	if err != nil {
		s.finishStatement(stmt, "", err)
		cancel()
		return stmt, err
	}

	if _, err := s.channel.Call(ctx, "replCode", body); err != nil {
		s.finishStatement(stmt, "", err)
		cancel()
		return stmt, err
	}

	s.mu.Lock()
	stmt.State = StatementRunning
	stmt.UpdatedAt = time.Now()
	s.mu.Unlock()

	go s.pollStatement(pollCtx, stmt)
	return stmt, nil
}

// pollStatement implements the §4.1.1 loop: issue replJobResult, sleep on
// a null reply, and on an error reply consult replState to decide whether
// the whole session is wedged or just this statement failed.
func (s *Session) pollStatement(ctx context.Context, stmt *Statement) {
	for {
		select {
		case <-ctx.Done():
			s.finishStatement(stmt, "", context.Canceled)
			return
		default:
		}

		reqBody, _ := json.Marshal(replRequest{Method: "replJobResult", ID: stmt.ID})
		respBody, err := s.channel.Call(ctx, "replJobResult", reqBody)
		if err != nil {
			s.handleStatementError(ctx, stmt, err)
			return
		}
		if len(respBody) == 0 {
			select {
			case <-ctx.Done():
				s.finishStatement(stmt, "", context.Canceled)
				return
			case <-time.After(s.cfg.StatementPollInterval):
			}
			continue
		}

		var reply replReply
		if err := json.Unmarshal(respBody, &reply); err != nil {
			s.handleStatementError(ctx, stmt, err)
			return
		}
		if reply.Null {
			select {
			case <-ctx.Done():
				s.finishStatement(stmt, "", context.Canceled)
				return
			case <-time.After(s.cfg.StatementPollInterval):
			}
			continue
		}
		if reply.State == string(StatementError) {
			s.handleStatementError(ctx, stmt, rscerrors.New(rscerrors.RemoteExecution, "session.pollStatement", reply.Message))
			return
		}

		s.finishStatement(stmt, reply.Output, nil)
		return
	}
}

// handleStatementError queries replState to distinguish a single failed
// statement from a globally wedged REPL (§9's design note and open
// question): if the REPL reports wedged, the whole session moves to
// Error; otherwise only this statement fails and the session returns to
// Idle to accept further work. The statement's own completion still
// resolves successfully with an error-typed result per §7's error kind 3
// — it is the session, not the Statement's completion slot, that may
// transition to Error.
func (s *Session) handleStatementError(ctx context.Context, stmt *Statement, cause error) {
	stateBody, err := s.channel.Call(ctx, "replState", nil)
	wedged := false
	if err == nil {
		var q replStateQuery
		if jsonErr := json.Unmarshal(stateBody, &q); jsonErr == nil {
			wedged = q.State == replStateWedged
		}
	} else {
		// Can't even ask: treat an unreachable channel as a transport
		// error per §7 kind 2, not as an ordinary statement error.
		wedged = true
	}

	s.mu.Lock()
	stmt.State = StatementError
	stmt.Err = cause
	stmt.UpdatedAt = time.Now()
	s.current = nil
	if wedged {
		s.transition(Error, cause)
	} else {
		s.transition(Idle, nil)
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if s.tel != nil {
		s.tel.RecordStatement(ctx, string(StatementError))
	}
}

// finishStatement records a statement's terminal outcome and returns the
// session to Idle. cause == context.Canceled marks the statement
// cancelled rather than errored.
func (s *Session) finishStatement(stmt *Statement, output string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt.UpdatedAt = time.Now()
	switch {
	case cause == context.Canceled:
		stmt.State = StatementCancelled
	case cause != nil:
		stmt.State = StatementError
		stmt.Err = cause
	default:
		stmt.State = StatementAvailable
		stmt.Output = output
	}

	s.current = nil
	if s.state == Busy {
		s.transition(Idle, nil)
	}
	s.lastActivity = time.Now()

	if s.tel != nil {
		s.tel.RecordStatement(context.Background(), string(stmt.State))
	}
}

// RunJob wraps payload in a bypass call requesting synchronous (driver
// blocks until result) execution. Unlike a Statement, a job does not hold
// the session's Busy slot: §4.1's state table ties Busy only to statement
// execution, since jobs are the second of the two concurrent request
// streams multiplexed onto the same channel.
func (s *Session) RunJob(ctx context.Context, payload []byte) (int64, error) {
	return s.submitOperation(ctx, payload, true)
}

// SubmitJob wraps payload in a bypass call requesting asynchronous
// execution; the caller polls completion via JobStatus.
func (s *Session) SubmitJob(ctx context.Context, payload []byte) (int64, error) {
	return s.submitOperation(ctx, payload, false)
}

func (s *Session) submitOperation(ctx context.Context, payload []byte, sync bool) (int64, error) {
	s.mu.Lock()
	if err := s.ensureRunning(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if len(s.operations) >= s.cfg.MaxOperations {
		s.mu.Unlock()
		return 0, rscerrors.New(rscerrors.ResourceExhausted, "session.submitOperation",
			"too many pending operations")
	}
	compression := s.cfg.JobCompression
	s.mu.Unlock()

	wirePayload, err := rsccompress.Compress(compression, payload)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(replRequest{Method: "bypass", Job: wirePayload, Compression: compression, Sync: sync})
	if err != nil {
		return 0, err
	}
	respBody, err := s.channel.Call(ctx, "bypass", body)
	if err != nil {
		return 0, err
	}
	var reply replReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return 0, err
	}

	s.mu.Lock()
	id := s.nextOpID
	op := newOperation(id, reply.Handle, sync, compression)
	if err := s.boundedPutOperation(op); err != nil {
		s.mu.Unlock()
		// The driver already admitted and may be running this job; its
		// handle is never tracked locally, so jobStatus/cancelJob on it
		// will always report not-found. A bound hit here means the
		// caller is past MaxOperations and not draining old jobs.
		return 0, err
	}
	s.nextOpID++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return id, nil
}

// JobStatus looks up the operation's stored handle and invokes
// bypassJobStatus; it blocks until a reply arrives, per §5's documented
// (if unusual) contract — no timeout is imposed in-core.
func (s *Session) JobStatus(ctx context.Context, opID int64) (*Operation, error) {
	s.mu.Lock()
	op, ok := s.operations[opID]
	s.mu.Unlock()
	if !ok {
		return nil, rscerrors.New(rscerrors.NotFound, "session.JobStatus", "unknown job id")
	}

	reqBody, _ := json.Marshal(replRequest{Method: "bypassJobStatus", Handle: op.Handle})
	respBody, err := s.channel.Call(ctx, "bypassJobStatus", reqBody)
	if err != nil {
		return op, err
	}

	var reply replReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return op, err
	}

	s.mu.Lock()
	op.UpdatedAt = time.Now()
	switch reply.State {
	case string(OperationSucceeded):
		op.State = OperationSucceeded
		op.Result = reply.Output
	case string(OperationFailed):
		op.State = OperationFailed
		op.Err = rscerrors.New(rscerrors.RemoteExecution, "session.JobStatus", reply.Message)
	default:
		op.State = OperationRunning
	}
	s.mu.Unlock()

	return op, nil
}

// CancelJob is fire-and-forget per §5: it atomically removes the local
// entry first, then signals the remote without waiting for or surfacing
// the acknowledgement. Unknown ids are a no-op, making repeated cancels
// idempotent (§8's stated law).
func (s *Session) CancelJob(opID int64) error {
	s.mu.Lock()
	op, ok := s.operations[opID]
	if ok {
		s.removeOperation(opID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	go func() {
		reqBody, _ := json.Marshal(replRequest{Method: "cancel", Handle: op.Handle})
		s.channel.Call(context.Background(), "cancel", reqBody)
	}()
	return nil
}

// AddFile and AddJar push a resource onto the driver's classpath/working
// set before any statement that depends on it runs.
func (s *Session) AddFile(ctx context.Context, uri string) error { return s.addResource(ctx, "addFile", uri) }
func (s *Session) AddJar(ctx context.Context, uri string) error  { return s.addResource(ctx, "addJar", uri) }

func (s *Session) addResource(ctx context.Context, method, uri string) error {
	s.mu.Lock()
	if err := s.ensureRunning(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	body, _ := json.Marshal(replRequest{Method: method, Path: uri})
	_, err := s.channel.Call(ctx, method, body)

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return err
}

// Interrupt cancels whichever statement currently holds Busy. Per §5,
// interrupting is equivalent to stopping the session — the current
// contract offers no finer-grained cancellation of a running statement.
func (s *Session) Interrupt(ctx context.Context) error {
	return s.Stop(ctx)
}

// Stop implements stop()/stopSession(): it moves the session through
// ShuttingDown to Dead, cancelling any outstanding work and closing the
// channel. Stop proceeds from every state other than ShuttingDown and Dead,
// including Error; on a Dead session it is a no-op, and on one already
// ShuttingDown it returns an illegal-transition error.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return nil
	}
	if err := s.transition(ShuttingDown, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil && current.cancel != nil {
		current.cancel()
	}

	closeErr := s.channel.Close()

	s.mu.Lock()
	s.transition(Dead, nil)
	s.mu.Unlock()

	return closeErr
}
