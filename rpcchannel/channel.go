// Package rpcchannel implements the RPC Client (C2): one durable, ordered,
// authenticated message stream to one remote driver. It performs the SASL
// handshake, assigns monotonic call ids, frames and codes messages,
// correlates replies through a [dispatcher.Dispatcher], and reports
// channel-inactive events to whoever is watching (the session manager).
package rpcchannel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/remoteexec/rsc/dispatcher"
	"github.com/remoteexec/rsc/internal/pack"
	"github.com/remoteexec/rsc/rscconf"
	"github.com/remoteexec/rsc/rscerrors"
	"github.com/remoteexec/rsc/retryutil"
	"github.com/remoteexec/rsc/sasl"
	"github.com/remoteexec/rsc/telemetry"
	"github.com/remoteexec/rsc/wire"
)

// InactiveHandler is invoked exactly once, on whichever goroutine first
// discovers the channel to be inactive: the receive loop on a read error,
// the calling goroutine on a write failure, or the caller of Close. The session manager
// registers this to drive its Error transition.
type InactiveHandler func(cause error)

// Channel is C2. Create one with Connect.
type Channel struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	writeMu sync.Mutex // serializes header+payload frame pairs
	nextID  atomic.Int64

	// dispatcher is installed exactly once, after the handshake
	// completes, resolving the circular dependency between the SASL
	// handler (which needs to reach the channel to install it) and the
	// channel (whose receive loop needs it to exist first). setDispatcher
	// refuses a second call.
	dispatcher     *dispatcher.Dispatcher
	dispatcherOnce sync.Once
	dispatcherSet  bool

	conv sasl.Conversation // nil until handshake negotiates QOP > auth

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}

	cfg *rscconf.Config
	log *zap.Logger
	tel *telemetry.Telemetry

	onInactive InactiveHandler
}

// Option configures a Channel at construction time.
type Option func(*Channel)

// WithLogger attaches a structured logger. A nil logger is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTelemetry attaches call tracing/metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Channel) { c.tel = tel }
}

// WithInactiveHandler registers the callback fired on channel-inactive.
func WithInactiveHandler(h InactiveHandler) Option {
	return func(c *Channel) { c.onInactive = h }
}

// Connect opens a TCP connection to addr, runs the SASL handshake, and
// returns a ready Channel. It implements spec.md §4.2's five-step connect
// protocol. cfg.ConnectTimeout bounds step 1; cfg.HandshakeTimeout bounds
// steps 2-4, separately. A handshake that fails because its deadline passed
// is reported as a Timeout error; any other handshake failure is Transport.
func Connect(ctx context.Context, addr string, cfg *rscconf.Config, mech sasl.Mechanism, opts ...Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, rscerrors.Wrap(rscerrors.Admission, "rpcchannel.Connect", err)
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	dialErr := retryutil.Do(connectCtx, retryutil.DefaultPolicy(), func(ctx context.Context) error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if dialErr != nil {
		return nil, rscerrors.Wrap(rscerrors.Transport, "rpcchannel.Connect", dialErr)
	}

	c := &Channel{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		closeCh: make(chan struct{}),
		cfg:     cfg,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	handshakeCtx, hcancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer hcancel()

	if err := c.handshake(handshakeCtx, mech); err != nil {
		conn.Close()
		cat := rscerrors.Transport
		if dl, ok := handshakeCtx.Deadline(); ok && !time.Now().Before(dl) {
			cat = rscerrors.Timeout
		}
		return nil, rscerrors.Wrap(cat, "rpcchannel.Connect", err)
	}

	if err := c.setDispatcher(dispatcher.New(c.log)); err != nil {
		conn.Close()
		return nil, rscerrors.Wrap(rscerrors.Transport, "rpcchannel.Connect", err)
	}

	go c.receiveLoop()

	return c, nil
}

// setDispatcher is the one-shot installation point described in spec.md
// §9's design notes. A second call always fails, even with the same value.
func (c *Channel) setDispatcher(d *dispatcher.Dispatcher) error {
	installed := false
	c.dispatcherOnce.Do(func() {
		c.dispatcher = d
		c.dispatcherSet = true
		installed = true
	})
	if !installed {
		return fmt.Errorf("rpcchannel: setDispatcher called more than once")
	}
	return nil
}

// handshake runs the SASL exchange over the raw (unwrapped) path: the
// client sends SaslMessage{clientId, initialResponse}, then evaluates each
// inbound SaslMessage from the driver until the mechanism reports
// completion, at which point the negotiated QOP's wrap/unwrap are installed
// on the codec path for every subsequent application frame.
func (c *Channel) handshake(ctx context.Context, mech sasl.Mechanism) error {
	conv, err := mech.NewClient(c.cfg.ClientID, c.cfg.Secret)
	if err != nil {
		return fmt.Errorf("rpcchannel: building sasl client: %w", err)
	}

	var initial []byte
	if conv.HasInitialResponse() {
		initial, err = conv.InitialResponse()
		if err != nil {
			return fmt.Errorf("rpcchannel: sasl initial response: %w", err)
		}
	}

	if err := c.writeDeadline(ctx, func() error {
		return wire.WriteSaslMax(c.w, wire.SaslMessage{HasClientID: true, ClientID: c.cfg.ClientID, Payload: initial}, c.cfg.MaxMessageSize)
	}); err != nil {
		return fmt.Errorf("rpcchannel: writing initial sasl message: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return err
	}

	for !conv.IsComplete() {
		msg, err := c.readDeadline(ctx, func(r io.Reader) (wire.SaslMessage, error) {
			return wire.ReadSaslMax(r, c.cfg.MaxMessageSize)
		})
		if err != nil {
			return fmt.Errorf("rpcchannel: reading sasl challenge: %w", err)
		}

		resp, err := conv.EvaluateChallenge(msg.Payload)
		if err != nil {
			return fmt.Errorf("rpcchannel: evaluating sasl challenge: %w", err)
		}
		if len(resp) == 0 {
			continue
		}
		if err := c.writeDeadline(ctx, func() error {
			return wire.WriteSaslMax(c.w, wire.SaslMessage{Payload: resp}, c.cfg.MaxMessageSize)
		}); err != nil {
			return fmt.Errorf("rpcchannel: writing sasl response: %w", err)
		}
		if err := c.w.Flush(); err != nil {
			return err
		}
	}

	if conv.QOP() != sasl.QOPAuth {
		c.conv = conv
	}
	return nil
}

func (c *Channel) writeDeadline(ctx context.Context, fn func() error) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

func (c *Channel) readDeadline(ctx context.Context, fn func(io.Reader) (wire.SaslMessage, error)) (wire.SaslMessage, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return fn(c.r)
}

// Call implements spec.md §4.2's call protocol: reject if closed, allocate
// a monotonic id, register with the dispatcher before writing, write under
// the channel-write lock, and return the completion's result.
func (c *Channel) Call(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, rscerrors.New(rscerrors.Transport, "rpcchannel.Call", "channel is closed")
	}
	if !c.dispatcherSet {
		return nil, rscerrors.New(rscerrors.Transport, "rpcchannel.Call", "channel has no dispatcher installed")
	}

	ctx, end := c.tel.StartCall(ctx, method)

	id := c.nextID.Add(1)
	completion := c.dispatcher.RegisterRPC(id, method)

	if err := c.writeCall(id, payload); err != nil {
		c.dispatcher.DiscardRPC(id, err)
		wrapped := rscerrors.Wrap(rscerrors.Transport, "rpcchannel.Call", err)
		end(wrapped)
		c.fail(wrapped)
		return nil, wrapped
	}

	value, err := completion.Wait(ctx)
	end(err)
	return value, err
}

// writeCall writes one MessageHeader{id, CALL} followed by the payload
// frame, sealed under the negotiated SASL QOP if any, and optionally
// packed. The write lock ensures these two frames are never interleaved
// with another call's frames.
func (c *Channel) writeCall(id int64, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sealed, err := c.seal(payload)
	if err != nil {
		return err
	}

	if err := wire.WriteHeaderMax(c.w, wire.MessageHeader{ID: id, Type: wire.Call}, c.cfg.MaxMessageSize); err != nil {
		return err
	}
	if err := wire.WritePayloadMax(c.w, sealed, c.cfg.MaxMessageSize); err != nil {
		return err
	}
	return c.w.Flush()
}

// seal applies frame packing (if enabled and the payload is eligible) and
// then SASL wrap (if negotiated). A one-byte flag ahead of the body records
// whether packing was actually applied, so the receiver never has to guess
// or assume both ends agree on the config flag — only on whether the
// payload happened to be 8-byte aligned and non-empty.
func (c *Channel) seal(payload []byte) ([]byte, error) {
	out := payload
	packed := false
	if c.cfg.EnableFramePacking && len(out) > 0 && len(out)%8 == 0 {
		buf, err := pack.Pack(out)
		if err != nil {
			return nil, err
		}
		out = append([]byte(nil), buf.Bytes()...)
		buf.Release()
		packed = true
	}

	sealed := make([]byte, 1+len(out))
	if packed {
		sealed[0] = 1
	}
	copy(sealed[1:], out)

	if c.conv != nil {
		var err error
		sealed, err = c.conv.Wrap(sealed)
		if err != nil {
			return nil, err
		}
	}
	return sealed, nil
}

// unseal reverses seal: unwrap first, then strip the packing flag byte and
// unpack only if the sender set it.
func (c *Channel) unseal(payload []byte) ([]byte, error) {
	out := payload
	if c.conv != nil {
		var err error
		out, err = c.conv.Unwrap(out)
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	flag, body := out[0], out[1:]
	if flag != 1 {
		return body, nil
	}

	buf, err := pack.Unpack(body)
	if err != nil {
		return nil, err
	}
	unpacked := append([]byte(nil), buf.Bytes()...)
	buf.Release()
	return unpacked, nil
}

// pushEnvelope wraps a server-initiated frame's name alongside its body, so
// the dispatcher's name-based routing (spec.md §4.3) has a name to route
// on. No concrete operation in this spec currently uses server push;
// this exists for protocol completeness.
type pushEnvelope struct {
	Name string          `json:"name"`
	Body json.RawMessage `json:"body"`
}

// receiveLoop is C2's single event-loop thread: it reads one
// MessageHeader+payload pair at a time and routes it through the
// dispatcher. It runs until a read fails, at which point the channel is
// considered inactive.
func (c *Channel) receiveLoop() {
	for {
		header, err := wire.ReadHeaderMax(c.r, c.cfg.MaxMessageSize)
		if err != nil {
			c.fail(rscerrors.Wrap(rscerrors.Transport, "rpcchannel.receiveLoop", err))
			return
		}
		payload, err := wire.ReadPayloadMax(c.r, c.cfg.MaxMessageSize)
		if err != nil {
			c.fail(rscerrors.Wrap(rscerrors.Transport, "rpcchannel.receiveLoop", err))
			return
		}
		unsealed, err := c.unseal(payload)
		if err != nil {
			c.fail(rscerrors.Wrap(rscerrors.Transport, "rpcchannel.receiveLoop", err))
			return
		}

		switch header.Type {
		case wire.Reply:
			c.dispatcher.Complete(header.ID, unsealed, false)
		case wire.Error:
			c.dispatcher.Complete(header.ID, unsealed, true)
		case wire.Call:
			var env pushEnvelope
			if err := json.Unmarshal(unsealed, &env); err != nil {
				c.log.Warn("rpcchannel: dropping malformed server-initiated frame", zap.Error(err))
				continue
			}
			c.dispatcher.Dispatch(env.Name, env.Body)
		}
	}
}

// fail marks the channel inactive exactly once: it closes the socket,
// fails every outstanding completion with cause, and notifies the
// registered InactiveHandler.
func (c *Channel) fail(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		close(c.closeCh)
		if c.dispatcher != nil {
			c.dispatcher.DiscardAll(cause)
		}
		if c.onInactive != nil {
			c.onInactive(cause)
		}
	})
}

// Close shuts the channel down cleanly. It is idempotent: N invocations
// result in exactly one socket shutdown, matching spec.md §4.2's CAS-based
// close semantics.
func (c *Channel) Close() error {
	c.fail(rscerrors.New(rscerrors.Transport, "rpcchannel.Close", "channel closed by caller"))
	return nil
}

// Closed reports whether the channel has gone inactive or been explicitly
// closed.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Done returns a channel closed exactly once the channel becomes inactive.
func (c *Channel) Done() <-chan struct{} {
	return c.closeCh
}
