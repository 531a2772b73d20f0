// Package dispatcher is the receive-side router for one RPC channel. It
// matches inbound REPLY/ERROR frames to outstanding calls by id, and routes
// inbound server-initiated frames to registered handlers by name. It has no
// knowledge of the socket; the channel package feeds it decoded frames.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Completion is a value-type future with three terminal outcomes: value,
// error, or cancelled. Modeling it this way avoids a language-specific
// promise abstraction — callers only observe terminal resolution via Wait.
type Completion struct {
	done chan struct{}
	once sync.Once

	value     []byte
	err       error
	cancelled bool
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolveValue(v []byte) {
	c.once.Do(func() {
		c.value = v
		close(c.done)
	})
}

func (c *Completion) resolveError(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Completion) resolveCancelled() {
	c.once.Do(func() {
		c.cancelled = true
		close(c.done)
	})
}

// Wait blocks until the completion resolves or ctx is done, whichever comes
// first. A cancelled completion returns context.Canceled.
func (c *Completion) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		if c.cancelled {
			return nil, context.Canceled
		}
		return c.value, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handler processes one inbound server-initiated frame.
type Handler func(payload []byte)

type entry struct {
	name       string
	completion *Completion
}

// Dispatcher owns the pending-call table and the server-initiated handler
// registry for one channel. Safe for concurrent use: registerRpc races with
// the single-threaded receive loop calling Complete, so the table is a
// plain mutex-guarded map rather than requiring lock-free structures.
type Dispatcher struct {
	mu       sync.Mutex
	pending  map[int64]entry
	handlers map[string]Handler
	log      *zap.Logger
}

// New creates a Dispatcher. log may be nil, in which case dropped-frame
// events are not logged.
func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		pending:  make(map[int64]entry),
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// RegisterRPC registers a pending call before it is written to the wire.
// name is a debug tag (the call's method name) used only in log messages.
func (d *Dispatcher) RegisterRPC(id int64, name string) *Completion {
	c := newCompletion()
	d.mu.Lock()
	d.pending[id] = entry{name: name, completion: c}
	d.mu.Unlock()
	return c
}

// DiscardRPC removes a registration whose write never succeeded, failing
// its completion with err.
func (d *Dispatcher) DiscardRPC(id int64, err error) {
	d.mu.Lock()
	e, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if ok {
		e.completion.resolveError(err)
	}
}

// Complete resolves the pending call for id with an inbound REPLY (isErr
// false) or ERROR (isErr true) payload. Unknown ids are logged and dropped,
// per the reply-routing contract.
func (d *Dispatcher) Complete(id int64, payload []byte, isErr bool) {
	d.mu.Lock()
	e, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !ok {
		d.log.Warn("dispatcher: reply for unknown call id, dropping", zap.Int64("call_id", id), zap.Bool("is_error", isErr))
		return
	}
	if isErr {
		e.completion.resolveError(remoteError(payload))
		return
	}
	e.completion.resolveValue(payload)
}

// DiscardAll fails every outstanding completion with cause. Called when the
// channel goes inactive.
func (d *Dispatcher) DiscardAll(cause error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[int64]entry)
	d.mu.Unlock()

	for _, e := range pending {
		e.completion.resolveError(cause)
	}
}

// Pending reports how many calls are currently outstanding. Exposed for
// tests and observability, not part of the core contract.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// RegisterHandler installs a handler for server-initiated frames tagged
// with name. Registering the same name twice replaces the previous handler.
func (d *Dispatcher) RegisterHandler(name string, h Handler) {
	d.mu.Lock()
	d.handlers[name] = h
	d.mu.Unlock()
}

// Dispatch routes one inbound server-initiated frame to its registered
// handler by name. Unknown names are logged and dropped.
func (d *Dispatcher) Dispatch(name string, payload []byte) {
	d.mu.Lock()
	h, ok := d.handlers[name]
	d.mu.Unlock()
	if !ok {
		d.log.Warn("dispatcher: server-initiated frame for unregistered name, dropping", zap.String("name", name))
		return
	}
	h(payload)
}

// remoteErr wraps an ERROR frame's payload as an error value.
type remoteErr struct{ payload []byte }

func (e remoteErr) Error() string { return string(e.payload) }

func remoteError(payload []byte) error { return remoteErr{payload: payload} }
