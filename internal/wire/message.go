// Package wire implements the line-delimited JSON control protocol shared by
// the tunnel client and server: message framing, the tagged-variant Message
// type, and the UUID used to correlate a public connection with the data
// connection that eventually claims it.
package wire

import (
	"github.com/google/uuid"
)

// UUID identifies one pending public connection. It is generated fresh by
// the server for every accepted public connection and never reused.
type UUID = uuid.UUID

// NewUUID returns a freshly generated, cryptographically random UUID.
func NewUUID() UUID {
	return uuid.New()
}

// Canonical returns the lowercase hyphenated form of id, the exact byte
// sequence the authenticator HMACs.
func Canonical(id UUID) string {
	return id.String()
}

// Type discriminates the Message variants on the wire.
type Type string

const (
	TypeHello        Type = "Hello"
	TypeChallenge    Type = "Challenge"
	TypeAuthenticate Type = "Authenticate"
	TypeConnection   Type = "Connection"
	TypeAccept       Type = "Accept"
	TypeHeartbeat    Type = "Heartbeat"
	TypeError        Type = "Error"
)

// Message is the tagged-variant envelope exchanged on the control channel
// and as the first frame of every data connection. Only the fields that
// apply to Type are populated; the rest are left at their zero value.
type Message struct {
	Type Type `json:"type"`

	// Hello: port requested by the client, or the port allocated by the
	// server in the acknowledgement. 0 means "any free port".
	Port uint16 `json:"port,omitempty"`

	// Challenge / Connection / Accept: the UUID in play.
	UUID UUID `json:"uuid,omitempty"`

	// Authenticate: lowercase hex HMAC-SHA256 of the challenge UUID.
	HMAC string `json:"hmac,omitempty"`

	// Error: human readable diagnostic text.
	Text string `json:"text,omitempty"`
}

// Hello builds a Hello message requesting (or acknowledging) port.
func Hello(port uint16) Message { return Message{Type: TypeHello, Port: port} }

// ChallengeMsg builds a Challenge message carrying id.
func ChallengeMsg(id UUID) Message { return Message{Type: TypeChallenge, UUID: id} }

// AuthenticateMsg builds an Authenticate reply carrying the computed HMAC.
func AuthenticateMsg(hexHMAC string) Message {
	return Message{Type: TypeAuthenticate, HMAC: hexHMAC}
}

// ConnectionMsg announces a newly pending public connection.
func ConnectionMsg(id UUID) Message { return Message{Type: TypeConnection, UUID: id} }

// AcceptMsg claims a pending connection by UUID.
func AcceptMsg(id UUID) Message { return Message{Type: TypeAccept, UUID: id} }

// HeartbeatMsg is the idle keepalive, no payload either direction.
func HeartbeatMsg() Message { return Message{Type: TypeHeartbeat} }

// ErrorMsg builds a diagnostic Error message.
func ErrorMsg(text string) Message { return Message{Type: TypeError, Text: text} }
