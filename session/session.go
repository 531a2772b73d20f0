// Package session implements the Session Manager (C1): the per-driver state
// machine, statement/job admission, the bounded operations table, and the
// replJobResult polling loop described in spec.md §4.1.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remoteexec/rsc/health"
	"github.com/remoteexec/rsc/rpcchannel"
	"github.com/remoteexec/rsc/rscconf"
	"github.com/remoteexec/rsc/rscerrors"
	"github.com/remoteexec/rsc/rsccompress"
	"github.com/remoteexec/rsc/telemetry"
)

// Session owns one rpcchannel.Channel to one driver process and every
// statement/job issued against it. All mutable state is guarded by mu,
// matching spec.md §5's per-session mutex.
type Session struct {
	id string

	mu    sync.Mutex
	state State
	err   error // set on transition into Error; the "why" behind it

	channel *rpcchannel.Channel
	cfg     *rscconf.Config
	log     *zap.Logger
	tel     *telemetry.Telemetry
	health  *health.Tracker

	nextStmtID int64
	nextOpID   int64

	statements map[int64]*Statement
	operations map[int64]*Operation

	lastActivity time.Time

	current *activeWork // the one outstanding statement, if Busy
}

// activeWork names the statement that currently holds Busy.
type activeWork struct {
	kind    string // always "statement"; jobs never hold Busy
	id      int64
	cancel  context.CancelFunc
}

// New constructs a Session in the Starting state over an already-connected
// channel. The caller is expected to have completed rpcchannel.Connect
// before calling New; New does not dial.
func New(id string, channel *rpcchannel.Channel, cfg *rscconf.Config, opts ...Option) *Session {
	s := &Session{
		id:           id,
		state:        Starting,
		channel:      channel,
		cfg:          cfg,
		log:          zap.NewNop(),
		health:       health.NewTracker(),
		nextOpID:     1,
		statements:   make(map[int64]*Statement),
		operations:   make(map[int64]*Operation),
		lastActivity: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTelemetry attaches call tracing/metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Session) { s.tel = tel }
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason the session entered Error, or nil if it never did.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IdleFor reports how long the session has gone without admitted work.
// Meaningless outside of Idle; callers checking for reap eligibility should
// also check State() == Idle.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// transition moves the session to 'to', rejecting illegal edges. Callers
// must hold mu.
func (s *Session) transition(to State, cause error) error {
	if !transitionTo(s.state, to) {
		return rscerrors.New(rscerrors.Admission, "session.transition",
			"illegal state transition "+s.state.String()+" -> "+to.String())
	}
	s.state = to
	if to == Error {
		s.err = cause
	}
	return nil
}

// ensureRunning is the admission guard spec.md §4.1 requires before any
// statement or job may be accepted: the session must be Idle or Busy.
// Statements and jobs are two independently-admitted request streams
// multiplexed onto the same channel, so a job (or addFile/addJar) submitted
// while a statement holds Busy is still admitted; only executeStatement
// itself additionally requires Idle, via the Idle->Busy-only transition
// edge.
func (s *Session) ensureRunning() error {
	if s.state != Idle && s.state != Busy {
		return rscerrors.New(rscerrors.Admission, "session.ensureRunning",
			"session is "+s.state.String()+", not running")
	}
	return nil
}

// MarkReady drives the Starting -> Idle transition once the caller's
// initial health ping has succeeded. Call MarkFailed instead if it didn't.
func (s *Session) MarkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.RecordSuccess()
	return s.transition(Idle, nil)
}

// MarkFailed drives the Starting -> Error transition when the initial
// health ping never succeeds, surfacing the reason via Err().
func (s *Session) MarkFailed(reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.RecordFailure(reason)
	return s.transition(Error, reason)
}

// OnChannelInactive is wired as the channel's InactiveHandler: an
// unexpected disconnect forces the session into Error from any state other
// than ShuttingDown or Dead (in those two it only records the channel as
// unreachable), since the reference's own reconnection is out
// of scope (see SPEC_FULL.md's Non-goals).
func (s *Session) OnChannelInactive(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.RecordUnreachable(cause)
	if s.state == Dead || s.state == ShuttingDown {
		return
	}
	s.log.Warn("session: channel went inactive, transitioning to error",
		zap.String("session_id", s.id), zap.Error(cause))
	s.state = Error
	s.err = cause
	if s.current != nil && s.current.cancel != nil {
		s.current.cancel()
	}
}

// boundedPutOperation inserts op, failing fast with a ResourceExhausted
// error once the table is already at cfg.MaxOperations rather than growing
// unbounded or silently evicting an older entry out from under its caller.
// Callers must hold mu.
func (s *Session) boundedPutOperation(op *Operation) error {
	if len(s.operations) >= s.cfg.MaxOperations {
		return rscerrors.New(rscerrors.ResourceExhausted, "session.boundedPutOperation",
			"too many pending operations")
	}
	s.operations[op.ID] = op
	return nil
}

// removeOperation deletes op from the table. Callers must hold mu.
func (s *Session) removeOperation(id int64) {
	delete(s.operations, id)
}

// Statement returns a point-in-time copy of statement id's state, safe to
// read without racing the background poll goroutine that mutates the
// original.
func (s *Session) Statement(id int64) (Statement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.statements[id]
	if !ok {
		return Statement{}, false
	}
	return *stmt, true
}

// replRequest is the JSON envelope sent for every call in this
// implementation: arbitrary application payloads are opaque bytes on the
// wire (see DESIGN.md), so the session layer is responsible for picking a
// concrete encoding. JSON keeps call payloads human-diffable in logs and
// avoids introducing a schema/IDL layer this spec does not call for.
type replRequest struct {
	Method      string               `json:"method,omitempty"`
	Code        string               `json:"code,omitempty"`
	Job         []byte               `json:"job,omitempty"`
	Compression rsccompress.Algorithm `json:"compression,omitempty"`
	Sync        bool                 `json:"sync,omitempty"`
	Handle      string               `json:"handle,omitempty"`
	ID          int64                `json:"id,omitempty"`
	Path        string               `json:"path,omitempty"`
}

type replReply struct {
	Null    bool   `json:"null,omitempty"`
	Output  string `json:"output,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Handle  string `json:"handle,omitempty"`
}
