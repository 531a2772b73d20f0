package sasl

import (
	"bytes"
	"strings"
	"testing"
)

// driverChallenge emulates the one challenge a fake rsc driver would send;
// in the real handshake this originates server-side.
func driverChallenge(nonce, qopOffer string) []byte {
	return []byte(`realm="rsc",nonce="` + nonce + `",qop=` + qopOffer)
}

func TestDigestMD5EvaluateChallenge(t *testing.T) {
	t.Parallel()

	mech := DigestMD5{}
	conv, err := mech.NewClient("client-1", "s3cr3t")
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	if conv.HasInitialResponse() {
		t.Fatalf("DIGEST-MD5 should not send an initial response")
	}

	resp, err := conv.EvaluateChallenge(driverChallenge("abc123", "auth-conf auth-int auth"))
	if err != nil {
		t.Fatalf("EvaluateChallenge: %s", err)
	}
	if !conv.IsComplete() {
		t.Fatalf("conversation should complete after one challenge")
	}
	if conv.QOP() != QOPAuthConf {
		t.Fatalf("QOP() = %q, want %q (most preferred)", conv.QOP(), QOPAuthConf)
	}
	if !strings.Contains(string(resp), `username="client-1"`) {
		t.Fatalf("response missing username directive: %s", resp)
	}
	if !strings.Contains(string(resp), "response=") {
		t.Fatalf("response missing response directive: %s", resp)
	}
}

func TestDigestMD5QOPNegotiationFallback(t *testing.T) {
	t.Parallel()

	mech := DigestMD5{}
	conv, err := mech.NewClient("client-1", "s3cr3t")
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	if _, err := conv.EvaluateChallenge(driverChallenge("abc123", "auth")); err != nil {
		t.Fatalf("EvaluateChallenge: %s", err)
	}
	if conv.QOP() != QOPAuth {
		t.Fatalf("QOP() = %q, want %q", conv.QOP(), QOPAuth)
	}
}

func TestDigestMD5NoCommonQOP(t *testing.T) {
	t.Parallel()

	mech := DigestMD5{AllowedQOP: []QOP{QOPAuthConf}}
	conv, err := mech.NewClient("client-1", "s3cr3t")
	if err != nil {
		t.Fatalf("NewClient: %s", err)
	}
	if _, err := conv.EvaluateChallenge(driverChallenge("abc123", "auth")); err == nil {
		t.Fatalf("EvaluateChallenge: got nil error, want error for disjoint qop sets")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	t.Parallel()

	for _, qop := range []QOP{QOPAuth, QOPAuthInt, QOPAuthConf} {
		mech := DigestMD5{AllowedQOP: []QOP{qop}}
		conv, err := mech.NewClient("client-1", "s3cr3t")
		if err != nil {
			t.Fatalf("NewClient: %s", err)
		}
		if _, err := conv.EvaluateChallenge(driverChallenge("abc123", string(qop))); err != nil {
			t.Fatalf("EvaluateChallenge: %s", err)
		}

		plaintext := []byte("replCode statement payload")
		sealed, err := conv.Wrap(plaintext)
		if err != nil {
			t.Fatalf("Wrap(%s): %s", qop, err)
		}
		opened, err := conv.Unwrap(sealed)
		if err != nil {
			t.Fatalf("Unwrap(%s): %s", qop, err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("Unwrap(Wrap(x)) != x under qop=%s: got %s, want %s", qop, opened, plaintext)
		}
	}
}
