// Package sasl implements the client side of the SASL handshake used to
// authenticate to a remote driver before any application frame is sent.
//
// The handshake always uses fixed realm and protocol identifiers "rsc" and
// "rsc" (matching the reference implementation), authenticating with a
// (clientId, secret) pair supplied by the caller. The default and only
// shipped mechanism is DigestMD5, modeled on RFC 2831. A small Mechanism
// interface exists so a future mechanism can be added without touching the
// channel or dispatcher.
package sasl

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Realm and Protocol are fixed identifiers shared by every client and
// driver in this system; they are not configurable.
const (
	Realm    = "rsc"
	Protocol = "rsc"
)

// QOP is the negotiated "quality of protection" for a completed handshake.
type QOP string

const (
	// QOPAuth provides authentication only; frames are not wrapped.
	QOPAuth QOP = "auth"
	// QOPAuthInt adds integrity protection: frames are wrapped with a MAC.
	QOPAuthInt QOP = "auth-int"
	// QOPAuthConf adds confidentiality: frames are encrypted and MAC'd.
	QOPAuthConf QOP = "auth-conf"
)

// Mechanism names a SASL client factory by mechanism name.
type Mechanism interface {
	// Name is the mechanism name advertised during connection setup
	// (e.g. "DIGEST-MD5").
	Name() string
	// NewClient starts a conversation authenticating clientID with secret.
	NewClient(clientID, secret string) (Conversation, error)
}

// Conversation drives one SASL client exchange to completion.
type Conversation interface {
	// HasInitialResponse reports whether the mechanism sends a token
	// before seeing the server's first challenge.
	HasInitialResponse() bool
	// InitialResponse returns the mechanism's initial token, or an empty
	// slice if HasInitialResponse is false.
	InitialResponse() ([]byte, error)
	// EvaluateChallenge consumes one server challenge and returns the
	// client's response. Returns IsComplete()==true once no more
	// challenges are expected.
	EvaluateChallenge(challenge []byte) (response []byte, err error)
	// IsComplete reports whether the conversation has finished
	// successfully.
	IsComplete() bool
	// QOP returns the negotiated quality of protection. Only valid once
	// IsComplete returns true.
	QOP() QOP
	// Wrap seals an application frame for the negotiated QOP. A no-op
	// under QOPAuth.
	Wrap(outgoing []byte) ([]byte, error)
	// Unwrap opens a frame sealed by the peer's Wrap.
	Unwrap(incoming []byte) ([]byte, error)
}

// DigestMD5 is the mechanism named "DIGEST-MD5", modeled on RFC 2831.
// AllowedQOP lists the qualities of protection the client is willing to
// negotiate, most-preferred first; a nil slice defaults to
// {auth-conf, auth-int, auth}.
type DigestMD5 struct {
	AllowedQOP []QOP
}

// Name implements Mechanism.
func (DigestMD5) Name() string { return "DIGEST-MD5" }

// NewClient implements Mechanism.
func (d DigestMD5) NewClient(clientID, secret string) (Conversation, error) {
	allowed := d.AllowedQOP
	if len(allowed) == 0 {
		allowed = []QOP{QOPAuthConf, QOPAuthInt, QOPAuth}
	}
	cnonce := make([]byte, 16)
	if _, err := rand.Read(cnonce); err != nil {
		return nil, fmt.Errorf("sasl: generating cnonce: %w", err)
	}
	return &digestMD5Conv{
		username:   clientID,
		secret:     secret,
		allowedQOP: allowed,
		cnonce:     hex.EncodeToString(cnonce),
	}, nil
}

type digestMD5Conv struct {
	username   string
	secret     string
	allowedQOP []QOP

	cnonce   string
	nonce    string
	qop      QOP
	complete bool

	sealKey [32]byte
}

func (c *digestMD5Conv) HasInitialResponse() bool { return false }

func (c *digestMD5Conv) InitialResponse() ([]byte, error) { return nil, nil }

// challenge is the simplified, directive-based challenge format exchanged
// between client and driver: comma-separated key=value pairs, e.g.
// `realm="rsc",nonce="...",qop="auth-conf auth-int auth"`. The qop value
// lists the offered qualities separated by spaces, since commas separate
// directives.
func parseChallenge(raw []byte) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(string(raw), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("sasl: malformed challenge directive %q", part)
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out, nil
}

func (c *digestMD5Conv) EvaluateChallenge(challenge []byte) ([]byte, error) {
	directives, err := parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	realm := directives["realm"]
	if realm != "" && realm != Realm {
		return nil, fmt.Errorf("sasl: unexpected realm %q, want %q", realm, Realm)
	}
	nonce := directives["nonce"]
	if nonce == "" {
		return nil, fmt.Errorf("sasl: challenge missing nonce")
	}
	c.nonce = nonce

	offered := strings.Split(directives["qop"], " ")
	c.qop = selectQOP(c.allowedQOP, offered)
	if c.qop == "" {
		return nil, fmt.Errorf("sasl: no common qop between client %v and server offer %q", c.allowedQOP, directives["qop"])
	}

	digestURI := Protocol + "/" + Realm
	response := digestResponse(c.username, Realm, c.secret, nonce, c.cnonce, digestURI, string(c.qop))

	derived := pbkdf2.Key([]byte(c.secret), []byte(nonce+c.cnonce), 4096, 32, sha256.New)
	copy(c.sealKey[:], derived)

	c.complete = true

	resp := fmt.Sprintf(`username="%s",realm="%s",nonce="%s",cnonce="%s",digest-uri="%s",qop=%s,response=%s`,
		c.username, Realm, nonce, c.cnonce, digestURI, c.qop, response)
	return []byte(resp), nil
}

func (c *digestMD5Conv) IsComplete() bool { return c.complete }

func (c *digestMD5Conv) QOP() QOP { return c.qop }

// digestResponse computes the RFC 2831 response value:
//
//	HA1 = MD5(MD5(username:realm:password):nonce:cnonce)
//	HA2 = MD5("AUTHENTICATE:" digest-uri)
//	response = HEX(MD5(HEX(HA1):nonce:nc:cnonce:qop:HEX(HA2)))
//
// nc is fixed at "00000001" because this client performs exactly one
// authentication exchange per connection.
func digestResponse(username, realm, password, nonce, cnonce, digestURI, qop string) string {
	a1 := md5sum(fmt.Sprintf("%s:%s:%s", username, realm, password))
	ha1 := md5sum(string(a1) + ":" + nonce + ":" + cnonce)

	a2 := "AUTHENTICATE:" + digestURI
	ha2 := md5sum(a2)

	kd := hex.EncodeToString(ha1) + ":" + nonce + ":00000001:" + cnonce + ":" + qop + ":" + hex.EncodeToString(ha2)
	return hex.EncodeToString(md5sum(kd))
}

func md5sum(s string) []byte {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

func selectQOP(allowed []QOP, offered []string) QOP {
	offeredSet := make(map[QOP]bool, len(offered))
	for _, o := range offered {
		offeredSet[QOP(strings.TrimSpace(o))] = true
	}
	for _, want := range allowed {
		if offeredSet[want] {
			return want
		}
	}
	return ""
}

// Wrap seals outgoing application frames once the conversation has
// completed with auth-int or auth-conf. Under auth-conf the frame is
// AES-256-GCM sealed with the handshake-derived key; under auth-int it is
// authenticated with HMAC-SHA256; under plain auth it passes through.
func (c *digestMD5Conv) Wrap(outgoing []byte) ([]byte, error) {
	switch c.qop {
	case QOPAuthConf:
		block, err := aes.NewCipher(c.sealKey[:])
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		sealed := gcm.Seal(nil, nonce, outgoing, nil)
		return append(nonce, sealed...), nil
	case QOPAuthInt:
		mac := hmac.New(sha256.New, c.sealKey[:])
		mac.Write(outgoing)
		return append(outgoing, mac.Sum(nil)...), nil
	default:
		return outgoing, nil
	}
}

// Unwrap opens a frame sealed by the peer's Wrap under the same QOP.
func (c *digestMD5Conv) Unwrap(incoming []byte) ([]byte, error) {
	switch c.qop {
	case QOPAuthConf:
		block, err := aes.NewCipher(c.sealKey[:])
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		if len(incoming) < gcm.NonceSize() {
			return nil, fmt.Errorf("sasl: sealed frame shorter than nonce size")
		}
		nonce, ciphertext := incoming[:gcm.NonceSize()], incoming[gcm.NonceSize():]
		return gcm.Open(nil, nonce, ciphertext, nil)
	case QOPAuthInt:
		const macSize = sha256.Size
		if len(incoming) < macSize {
			return nil, fmt.Errorf("sasl: authenticated frame shorter than mac size")
		}
		body, mac := incoming[:len(incoming)-macSize], incoming[len(incoming)-macSize:]
		want := hmac.New(sha256.New, c.sealKey[:])
		want.Write(body)
		if !hmac.Equal(mac, want.Sum(nil)) {
			return nil, fmt.Errorf("sasl: mac verification failed")
		}
		return body, nil
	default:
		return incoming, nil
	}
}
