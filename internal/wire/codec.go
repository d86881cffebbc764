package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/tunl/internal/tunerr"
)

// MaxMessageSize is the maximum size, in bytes, of a single line-delimited
// frame (spec §4.1). Anything longer fails with a ProtocolError.
const MaxMessageSize = 256

// Codec reads and writes Messages over an underlying byte stream. Its
// buffered reader can pull bytes past a frame's terminating newline off the
// socket; Recv does not hand those out, and they stay in the reader until
// Buffered drains them, so a caller must replay Buffered's bytes before
// raw-byte proxying on Conn.
type Codec struct {
	conn net.Conn
	r    *bufio.Reader

	// sendMu serializes writers: on the control channel, the heartbeat
	// writer and the per-connection dispatcher both send concurrently.
	sendMu sync.Mutex
}

// NewCodec wraps conn for framed Message exchange. The same Codec is used
// for the control connection and for the first message of every data
// connection.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn, r: bufio.NewReaderSize(conn, MaxMessageSize+1)}
}

// Conn returns the underlying connection, e.g. so a caller can hand it off
// to the proxy shuttle once framing is done with it.
func (c *Codec) Conn() net.Conn { return c.conn }

// Send serializes and writes msg terminated by a newline.
func (c *Codec) Send(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return tunerr.New(tunerr.Protocol, "marshal %s: %v", msg.Type, err)
	}
	b = append(b, '\n')

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return tunerr.New(tunerr.IO, "write frame: %v", err)
	}
	return nil
}

// Recv reads one newline-delimited frame, applying deadline as the socket
// read deadline. A frame exceeding MaxMessageSize, one with no terminating
// newline within the limit, or one with an unrecognized Type fails with a
// ProtocolError; a deadline expiry fails with a TimeoutError.
func (c *Codec) Recv(deadline time.Duration) (Message, error) {
	var msg Message
	if deadline > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return msg, tunerr.New(tunerr.IO, "set read deadline: %v", err)
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	line, err := c.r.ReadSlice('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return msg, tunerr.New(tunerr.Timeout, "recv: timed out waiting for frame")
		}
		if err == io.EOF {
			return msg, tunerr.New(tunerr.IO, "recv: connection closed")
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			return msg, tunerr.New(tunerr.Protocol, "recv: frame exceeds %d bytes", MaxMessageSize)
		}
		return msg, tunerr.New(tunerr.IO, "recv: %v", err)
	}
	if len(line) > MaxMessageSize {
		return msg, tunerr.New(tunerr.Protocol, "recv: frame exceeds %d bytes", MaxMessageSize)
	}

	if err := json.Unmarshal(line[:len(line)-1], &msg); err != nil {
		return msg, tunerr.New(tunerr.Protocol, "recv: malformed frame: %v", err)
	}
	switch msg.Type {
	case TypeHello, TypeChallenge, TypeAuthenticate, TypeConnection, TypeAccept, TypeHeartbeat, TypeError:
	default:
		return msg, tunerr.New(tunerr.Protocol, "recv: unknown message type %q", msg.Type)
	}
	return msg, nil
}

// Buffered drains and returns any bytes the internal reader pulled off the
// socket past the last frame's terminating newline. The data-connection
// handshake is exactly one frame (Challenge/Authenticate, then Accept)
// followed immediately by raw proxied bytes; a single TCP segment can carry
// both, so whatever the bufio.Reader already holds must be replayed to the
// proxy destination before the raw connection is read again, or the first
// bytes of the tunneled payload would be silently lost.
func (c *Codec) Buffered() []byte {
	n := c.r.Buffered()
	if n == 0 {
		return nil
	}
	b, _ := c.r.Peek(n)
	out := make([]byte, n)
	copy(out, b)
	c.r.Discard(n)
	return out
}

// SendError is a convenience for the common "diagnose then close" path
// (spec §7): best-effort send of an Error frame, ignoring the send's own
// failure since the peer may already be gone.
func (c *Codec) SendError(text string) {
	_ = c.Send(ErrorMsg(text))
}
