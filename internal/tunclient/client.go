// Package tunclient implements the client side of the tunnel: the control
// session handler (spec §4.6) that requests a public port, dispatches
// per-connection notifications, and the data-channel task that dials back,
// claims, and proxies each one.
package tunclient

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/xtaci/tunl/internal/auth"
	"github.com/xtaci/tunl/internal/proxy"
	"github.com/xtaci/tunl/internal/wire"
)

const heartbeatInterval = 500 * time.Millisecond
const idleDeadAfter = 2 * heartbeatInterval

// Client drives one control session against a tunnel server. Grounded on
// the small observability surface the FrontMage-bore-go reference client
// exposes (atomic connection counters queried from outside the session
// goroutine), not on anything the teacher's kcptun client needed since its
// mux sessions never reported per-stream counts back to a caller.
type Client struct {
	cfg  Config
	auth *auth.Authenticator

	activeProxies atomic.Int64
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, auth: auth.New(cfg.Secret)}
}

// ActiveProxies reports how many data-channel tasks are currently shuttling
// bytes.
func (c *Client) ActiveProxies() int64 { return c.activeProxies.Load() }

// dialControl opens a fresh connection to the server's control port and
// runs the client side of the authentication handshake.
//
// The handshake read only happens when this client has a secret configured.
// A server with no secret never sends a Challenge and goes straight to
// waiting for Hello/Accept (spec §4.5, Accepted -> AwaitingHello); a client
// that blocked on an initial Recv regardless would hang against such a
// server until the handshake timeout. Skipping the read when unauthenticated
// keeps the common case (both sides configured the same way) deadlock-free;
// a secret mismatch still surfaces, just as a protocol error or handshake
// timeout instead of every time through AuthError.
func (c *Client) dialControl() (*wire.Codec, error) {
	conn, err := net.Dial("tcp", c.cfg.ServerAddr)
	if err != nil {
		return nil, err
	}
	codec := wire.NewCodec(conn)
	if c.auth.Enabled() {
		if _, err := c.auth.ClientHandshake(codec); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return codec, nil
}

// Run opens the control session, requests RemotePort, logs the exposed
// host:port on success, and drives the session until the control
// connection dies (spec §4.6). There is no way to stop it from outside: it
// returns only when the control session fails, always with a non-nil
// error, so main can exit nonzero (spec §6, §7).
func (c *Client) Run() error {
	codec, err := c.dialControl()
	if err != nil {
		return fmt.Errorf("dial control: %w", err)
	}
	defer codec.Conn().Close()

	if err := codec.Send(wire.Hello(c.cfg.RemotePort)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	msg, err := codec.Recv(auth.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("recv hello ack: %w", err)
	}
	switch msg.Type {
	case wire.TypeHello:
		color.Green("listening at %s:%d", remoteHost(c.cfg.ServerAddr), msg.Port)
	case wire.TypeError:
		return fmt.Errorf("server: %s", msg.Text)
	default:
		return fmt.Errorf("unexpected message %s while awaiting hello ack", msg.Type)
	}

	done := make(chan struct{})
	lastSend := new(atomic.Int64)
	lastSend.Store(time.Now().UnixNano())

	send := func(m wire.Message) error {
		err := codec.Send(m)
		if err == nil {
			lastSend.Store(time.Now().UnixNano())
		}
		return err
	}

	go func() {
		ticker := time.NewTicker(heartbeatInterval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				idleFor := time.Duration(time.Now().UnixNano() - lastSend.Load())
				if idleFor >= heartbeatInterval {
					if err := send(wire.HeartbeatMsg()); err != nil {
						return
					}
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		msg, err := codec.Recv(idleDeadAfter)
		if err != nil {
			return fmt.Errorf("control channel: %w", err)
		}
		switch msg.Type {
		case wire.TypeHeartbeat:
			// ignore (spec §4.6): a reply isn't required on this side.
		case wire.TypeConnection:
			go c.handleConnection(msg.UUID)
		case wire.TypeError:
			return fmt.Errorf("server: %s", msg.Text)
		default:
			return fmt.Errorf("unexpected message %s on control channel", msg.Type)
		}
	}
}

// handleConnection is the data-channel task (spec §4.6): dial the control
// port again, authenticate, claim uuid, dial the local service, and shuttle
// bytes. Any failure here is isolated to this one connection; the server's
// side will either have the paired public socket closed by the shuttle or
// let the registry entry TTL out.
func (c *Client) handleConnection(id wire.UUID) {
	codec, err := c.dialControl()
	if err != nil {
		log.Println("tunl: data channel dial:", err)
		return
	}

	if err := codec.Send(wire.AcceptMsg(id)); err != nil {
		log.Println("tunl: data channel accept:", err)
		codec.Conn().Close()
		return
	}

	local, err := net.Dial("tcp", net.JoinHostPort(c.cfg.LocalHost, portString(c.cfg.LocalPort)))
	if err != nil {
		log.Println("tunl: dial local service:", err)
		codec.Conn().Close()
		return
	}

	data := codec.Conn()
	if buffered := codec.Buffered(); len(buffered) > 0 {
		if _, err := local.Write(buffered); err != nil {
			log.Println("tunl: writing buffered bytes to local side:", err)
			local.Close()
			data.Close()
			return
		}
	}

	c.activeProxies.Add(1)
	defer c.activeProxies.Add(-1)

	proxy.ShuttleLogged(local, data, "tunl: "+wire.Canonical(id))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func portString(p uint16) string {
	return fmt.Sprintf("%d", p)
}
