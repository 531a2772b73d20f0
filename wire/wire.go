// Package wire implements the three system frame classes exchanged between
// the session manager and a remote driver — MessageHeader, NullMessage, and
// SaslMessage — plus the length-prefixed frame codec they ride on.
//
// After the handshake, every logical message is two frames: a MessageHeader
// frame followed by exactly one payload frame (either a raw application
// payload or a NullMessage). During the handshake, SaslMessage frames are
// sent on their own, with no MessageHeader. Frames are never interleaved on
// the wire; callers serialize writes with their own lock (see package
// rpcchannel).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the package-wide ceiling used by WriteFrame/ReadFrame and
// their header/payload/sasl wrappers: a hard backstop against a corrupt or
// hostile peer claiming an enormous length prefix when no caller-configured
// bound applies. rpcchannel.Channel instead enforces rscconf.Config's own
// MaxMessageSize (50 MiB by default) via the *Max variants of these
// functions.
const MaxFrameSize = 64 << 20 // 64 MiB

// MessageType identifies what kind of message a MessageHeader precedes.
type MessageType uint8

const (
	// Call marks an outbound request awaiting a reply.
	Call MessageType = 0
	// Reply marks a successful response to a Call.
	Reply MessageType = 1
	// Error marks a failed response to a Call.
	Error MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "CALL"
	case Reply:
		return "REPLY"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// MessageHeader always precedes a payload frame. ID correlates a Reply or
// Error back to the Call that requested it.
type MessageHeader struct {
	ID   int64
	Type MessageType
}

// Encode writes the header's wire representation: 8 bytes little-endian id,
// 1 byte type.
func (h MessageHeader) Encode() []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.ID))
	b[8] = byte(h.Type)
	return b
}

// DecodeMessageHeader parses the body of a MessageHeader frame.
func DecodeMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) != 9 {
		return MessageHeader{}, fmt.Errorf("wire: MessageHeader body must be 9 bytes, got %d", len(b))
	}
	return MessageHeader{
		ID:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Type: MessageType(b[8]),
	}, nil
}

// NullMessage is the canonical null payload: a reply body that carries no
// value, used by replJobResult while a statement is still executing.
type NullMessage struct{}

// IsNull reports whether a decoded payload frame was the zero-length
// NullMessage body rather than an application payload.
func IsNull(body []byte) bool {
	return len(body) == 0
}

// SaslMessage is exchanged only during the handshake and only on the raw
// (unwrapped) path. ClientID is set on the client's first message only;
// every subsequent SaslMessage in the exchange omits it.
type SaslMessage struct {
	ClientID    string
	HasClientID bool
	Payload     []byte
}

// Encode writes the message's wire representation:
//
//	1 byte hasClientID flag
//	  [4 bytes LE clientID length + clientID bytes]  (if hasClientID)
//	4 bytes LE payload length + payload bytes
func (m SaslMessage) Encode() []byte {
	size := 1 + 4 + len(m.Payload)
	if m.HasClientID {
		size += 4 + len(m.ClientID)
	}
	b := make([]byte, size)
	off := 0
	if m.HasClientID {
		b[off] = 1
	}
	off++
	if m.HasClientID {
		binary.LittleEndian.PutUint32(b[off:off+4], uint32(len(m.ClientID)))
		off += 4
		copy(b[off:], m.ClientID)
		off += len(m.ClientID)
	}
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(len(m.Payload)))
	off += 4
	copy(b[off:], m.Payload)
	return b
}

// DecodeSaslMessage parses the body of a SaslMessage frame.
func DecodeSaslMessage(b []byte) (SaslMessage, error) {
	if len(b) < 1 {
		return SaslMessage{}, fmt.Errorf("wire: SaslMessage body too short")
	}
	var m SaslMessage
	off := 0
	m.HasClientID = b[off] != 0
	off++
	if m.HasClientID {
		if len(b) < off+4 {
			return SaslMessage{}, fmt.Errorf("wire: SaslMessage body truncated at clientID length")
		}
		n := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+n {
			return SaslMessage{}, fmt.Errorf("wire: SaslMessage body truncated at clientID")
		}
		m.ClientID = string(b[off : off+n])
		off += n
	}
	if len(b) < off+4 {
		return SaslMessage{}, fmt.Errorf("wire: SaslMessage body truncated at payload length")
	}
	n := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) < off+n {
		return SaslMessage{}, fmt.Errorf("wire: SaslMessage body truncated at payload")
	}
	m.Payload = append([]byte(nil), b[off:off+n]...)
	return m, nil
}

// WriteFrame writes a single length-prefixed frame: 4 bytes LE length
// followed by body, capped at the package ceiling MaxFrameSize. It is the
// caller's responsibility to serialize calls to WriteFrame across
// goroutines (rpcchannel does this with its write lock).
//
// WriteFrame is the right choice for tests standing in as the remote peer,
// which have no configured max-message-size to enforce. A caller enforcing
// its own configured bound (rpcchannel.Channel, from
// rscconf.Config.MaxMessageSize, for the handshake as well as for calls)
// should call WriteFrameMax instead.
func WriteFrame(w io.Writer, body []byte) error {
	return WriteFrameMax(w, body, MaxFrameSize)
}

// WriteFrameMax writes a frame the same way WriteFrame does, but rejects a
// body larger than maxSize rather than the package-wide MaxFrameSize
// ceiling.
func WriteFrameMax(w io.Writer, body []byte, maxSize int) error {
	if len(body) > maxSize {
		return fmt.Errorf("wire: frame body of %d bytes exceeds max frame size %d", len(body), maxSize)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads a single length-prefixed frame written by WriteFrame,
// rejecting a declared length over the package ceiling MaxFrameSize. See
// ReadFrameMax to enforce a caller-configured bound instead.
func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameMax(r, MaxFrameSize)
}

// ReadFrameMax reads a frame the same way ReadFrame does, but rejects a
// declared length over maxSize rather than the package-wide MaxFrameSize
// ceiling.
func ReadFrameMax(r io.Reader, maxSize int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int(n) > maxSize {
		return nil, fmt.Errorf("wire: peer declared frame of %d bytes, exceeds max frame size %d", n, maxSize)
	}
	if n == 0 {
		return []byte{}, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteHeader writes a MessageHeader frame.
func WriteHeader(w io.Writer, h MessageHeader) error {
	return WriteFrame(w, h.Encode())
}

// WriteHeaderMax writes a MessageHeader frame, enforcing maxSize in place
// of the package ceiling.
func WriteHeaderMax(w io.Writer, h MessageHeader, maxSize int) error {
	return WriteFrameMax(w, h.Encode(), maxSize)
}

// ReadHeader reads and decodes a MessageHeader frame.
func ReadHeader(r io.Reader) (MessageHeader, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return MessageHeader{}, err
	}
	return DecodeMessageHeader(body)
}

// ReadHeaderMax reads and decodes a MessageHeader frame, enforcing maxSize
// in place of the package ceiling.
func ReadHeaderMax(r io.Reader, maxSize int) (MessageHeader, error) {
	body, err := ReadFrameMax(r, maxSize)
	if err != nil {
		return MessageHeader{}, err
	}
	return DecodeMessageHeader(body)
}

// WritePayload writes a raw application payload frame, or a NullMessage
// frame when payload is nil.
func WritePayload(w io.Writer, payload []byte) error {
	return WriteFrame(w, payload)
}

// WritePayloadMax writes a payload frame, enforcing maxSize in place of the
// package ceiling.
func WritePayloadMax(w io.Writer, payload []byte, maxSize int) error {
	return WriteFrameMax(w, payload, maxSize)
}

// ReadPayload reads a raw application payload frame. A zero-length result
// is a NullMessage (see [IsNull]).
func ReadPayload(r io.Reader) ([]byte, error) {
	return ReadFrame(r)
}

// ReadPayloadMax reads a payload frame, enforcing maxSize in place of the
// package ceiling.
func ReadPayloadMax(r io.Reader, maxSize int) ([]byte, error) {
	return ReadFrameMax(r, maxSize)
}

// WriteSasl writes a SaslMessage frame.
func WriteSasl(w io.Writer, m SaslMessage) error {
	return WriteFrame(w, m.Encode())
}

// WriteSaslMax writes a SaslMessage frame, enforcing maxSize in place of
// the package ceiling.
func WriteSaslMax(w io.Writer, m SaslMessage, maxSize int) error {
	return WriteFrameMax(w, m.Encode(), maxSize)
}

// ReadSasl reads and decodes a SaslMessage frame.
func ReadSasl(r io.Reader) (SaslMessage, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return SaslMessage{}, err
	}
	return DecodeSaslMessage(body)
}

// ReadSaslMax reads and decodes a SaslMessage frame, enforcing maxSize in
// place of the package ceiling.
func ReadSaslMax(r io.Reader, maxSize int) (SaslMessage, error) {
	body, err := ReadFrameMax(r, maxSize)
	if err != nil {
		return SaslMessage{}, err
	}
	return DecodeSaslMessage(body)
}
