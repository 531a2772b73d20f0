package wire

import (
	"bytes"
	"testing"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []MessageHeader{
		{ID: 0, Type: Call},
		{ID: 1, Type: Reply},
		{ID: -1, Type: Error},
		{ID: 1 << 40, Type: Call},
	}

	for _, h := range tests {
		got, err := DecodeMessageHeader(h.Encode())
		if err != nil {
			t.Fatalf("DecodeMessageHeader(%+v): %s", h, err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestSaslMessageRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []SaslMessage{
		{HasClientID: true, ClientID: "client-1", Payload: []byte("initial-response")},
		{Payload: []byte("challenge-response")},
		{HasClientID: true, ClientID: "", Payload: nil},
		{Payload: []byte{}},
	}

	for _, m := range tests {
		got, err := DecodeSaslMessage(m.Encode())
		if err != nil {
			t.Fatalf("DecodeSaslMessage(%+v): %s", m, err)
		}
		if got.HasClientID != m.HasClientID || got.ClientID != m.ClientID || !bytes.Equal(got.Payload, m.Payload) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	header := MessageHeader{ID: 42, Type: Reply}
	payload := []byte(`{"status":"ok","output":"3"}`)

	if err := WriteHeader(&buf, header); err != nil {
		t.Fatalf("WriteHeader: %s", err)
	}
	if err := WritePayload(&buf, payload); err != nil {
		t.Fatalf("WritePayload: %s", err)
	}

	gotHeader, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %s", err)
	}
	if gotHeader != header {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, header)
	}

	gotPayload, err := ReadPayload(&buf)
	if err != nil {
		t.Fatalf("ReadPayload: %s", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %s, want %s", gotPayload, payload)
	}
}

func TestNullMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WritePayload(&buf, nil); err != nil {
		t.Fatalf("WritePayload(nil): %s", err)
	}
	got, err := ReadPayload(&buf)
	if err != nil {
		t.Fatalf("ReadPayload: %s", err)
	}
	if !IsNull(got) {
		t.Fatalf("IsNull(%v) = false, want true", got)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var lenBuf [4]byte
	// Declare a frame far larger than MaxFrameSize without actually writing it.
	for i := range lenBuf {
		lenBuf[i] = 0xFF
	}
	buf.Write(lenBuf[:])

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatalf("ReadFrame: got nil error for an oversized frame declaration, want error")
	}
}
