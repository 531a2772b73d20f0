package rpcchannel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/remoteexec/rsc/rscconf"
	"github.com/remoteexec/rsc/sasl"
	"github.com/remoteexec/rsc/wire"
)

// trivialConv completes on construction with no challenge round trip, so
// tests can exercise the channel without a real DIGEST-MD5 server.
type trivialConv struct{}

func (trivialConv) HasInitialResponse() bool                 { return true }
func (trivialConv) InitialResponse() ([]byte, error)         { return []byte("trivial"), nil }
func (trivialConv) EvaluateChallenge(_ []byte) ([]byte, error) { return nil, nil }
func (trivialConv) IsComplete() bool                         { return true }
func (trivialConv) QOP() sasl.QOP                             { return sasl.QOPAuth }
func (trivialConv) Wrap(b []byte) ([]byte, error)             { return b, nil }
func (trivialConv) Unwrap(b []byte) ([]byte, error)           { return b, nil }

type trivialMechanism struct{}

func (trivialMechanism) Name() string { return "TRIVIAL" }
func (trivialMechanism) NewClient(clientID, secret string) (sasl.Conversation, error) {
	return trivialConv{}, nil
}

// fakeDriver accepts one connection, drains the client's initial SASL
// message, then echoes every call's payload back as a reply.
func fakeDriver(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if _, err := wire.ReadSasl(conn); err != nil {
		t.Errorf("fakeDriver: reading initial sasl message: %s", err)
		return
	}

	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			return
		}
		payload, err := wire.ReadPayload(conn)
		if err != nil {
			return
		}
		if err := wire.WriteHeader(conn, wire.MessageHeader{ID: header.ID, Type: wire.Reply}); err != nil {
			return
		}
		if err := wire.WritePayload(conn, payload); err != nil {
			return
		}
	}
}

func testConfig() *rscconf.Config {
	return rscconf.New(
		rscconf.WithCredentials("test-client", "test-secret"),
		rscconf.WithConnectTimeout(2*time.Second),
		rscconf.WithHandshakeTimeout(2*time.Second),
	)
}

func TestConnectAndCallRoundTrip(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}
	defer ln.Close()
	go fakeDriver(t, ln)

	ch, err := Connect(context.Background(), ln.Addr().String(), testConfig(), trivialMechanism{})
	if err != nil {
		t.Fatalf("Connect(): %s", err)
	}
	defer ch.Close()

	reply, err := ch.Call(context.Background(), "replCode", []byte("print(1)"))
	if err != nil {
		t.Fatalf("Call(): %s", err)
	}
	if string(reply) != "print(1)" {
		t.Fatalf("reply = %q, want echoed payload", reply)
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}
	defer ln.Close()
	go fakeDriver(t, ln)

	ch, err := Connect(context.Background(), ln.Addr().String(), testConfig(), trivialMechanism{})
	if err != nil {
		t.Fatalf("Connect(): %s", err)
	}
	ch.Close()

	if _, err := ch.Call(context.Background(), "replCode", []byte("x")); err == nil {
		t.Fatalf("Call() after Close() should fail")
	}
}

func TestInactiveHandlerFiresOnPeerClose(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		wire.ReadSasl(conn)
		accepted <- conn
	}()

	inactive := make(chan error, 1)
	ch, err := Connect(context.Background(), ln.Addr().String(), testConfig(), trivialMechanism{},
		WithInactiveHandler(func(cause error) { inactive <- cause }))
	if err != nil {
		t.Fatalf("Connect(): %s", err)
	}
	defer ch.Close()

	conn := <-accepted
	conn.Close()

	select {
	case <-inactive:
	case <-time.After(2 * time.Second):
		t.Fatalf("inactive handler did not fire after peer closed the connection")
	}
	if !ch.Closed() {
		t.Fatalf("channel should report Closed() after going inactive")
	}
}
