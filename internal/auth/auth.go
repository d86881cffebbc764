// Package auth implements the stateless HMAC challenge-response layer that
// covers the control channel (spec §4.2). It mirrors the shape of the
// teacher's std.SelectBlockCrypt: a small policy value built once from
// operator-supplied secret material and invoked per freshly opened
// connection, except here the policy always does the same HMAC-SHA256
// computation rather than selecting among cipher constructors.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/xtaci/tunl/internal/tunerr"
	"github.com/xtaci/tunl/internal/wire"
)

// HandshakeTimeout bounds the entire challenge/response exchange (spec §4.2,
// §5 "Authentication: 10 s deadline end-to-end").
const HandshakeTimeout = 10 * time.Second

// Authenticator performs the server and client sides of the challenge
// handshake for a shared secret. A zero-value Authenticator (empty secret)
// means authentication is disabled; Enabled reports whether it is on.
type Authenticator struct {
	secret []byte
}

// New builds an Authenticator from the operator-supplied secret. An empty
// secret disables authentication end to end.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// tag computes the lowercase hex HMAC-SHA256 of the canonical UUID string.
func (a *Authenticator) tag(id wire.UUID) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(wire.Canonical(id)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ServerHandshake runs on every accepted connection (control or data). If no
// secret is configured it is a no-op. Otherwise it issues a Challenge,
// awaits an Authenticate reply within HandshakeTimeout, and verifies the tag
// in constant time. On a tag mismatch it sends an Error and returns an
// AuthError; on any other message it sends an Error and returns a
// ProtocolError. Either way the caller is expected to close the connection.
func (a *Authenticator) ServerHandshake(c *wire.Codec) error {
	if !a.Enabled() {
		return nil
	}

	id := wire.NewUUID()
	if err := c.Send(wire.ChallengeMsg(id)); err != nil {
		return err
	}

	msg, err := c.Recv(HandshakeTimeout)
	if err != nil {
		return err
	}
	if msg.Type != wire.TypeAuthenticate {
		c.SendError("expected Authenticate")
		return tunerr.New(tunerr.Protocol, "server handshake: expected Authenticate, got %s", msg.Type)
	}

	want := a.tag(id)
	if !hmac.Equal([]byte(want), []byte(msg.HMAC)) {
		c.SendError("invalid secret")
		return tunerr.New(tunerr.Auth, "server handshake: invalid secret")
	}
	return nil
}

// ClientHandshake runs on every outgoing connection. It reads one frame
// within HandshakeTimeout. If it is a Challenge and a secret is configured,
// it replies with the computed tag and returns nil. If it is a Challenge
// but no secret is configured, it fails with AuthError. Any other message
// means the connection is unauthenticated (the server has no secret
// configured either); that message is returned to the caller so the
// subsequent state machine can consume it instead of losing it.
func (a *Authenticator) ClientHandshake(c *wire.Codec) (unconsumed *wire.Message, err error) {
	msg, err := c.Recv(HandshakeTimeout)
	if err != nil {
		return nil, err
	}

	if msg.Type != wire.TypeChallenge {
		return &msg, nil
	}

	if !a.Enabled() {
		return nil, tunerr.New(tunerr.Auth, "client handshake: server requires authentication but no secret was configured")
	}

	tag := a.tag(msg.UUID)
	if err := c.Send(wire.AuthenticateMsg(tag)); err != nil {
		return nil, err
	}
	return nil, nil
}
