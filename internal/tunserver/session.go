package tunserver

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/tunl/internal/registry"
	"github.com/xtaci/tunl/internal/wire"
)

// heartbeatInterval is the idle-outbound cadence (spec §4.5 table, §9: any
// value in [100ms, 2s] is acceptable provided both sides agree; this
// project picks the same 500ms the client side uses).
const heartbeatInterval = 500 * time.Millisecond

// idleDeadAfter is "~2x heartbeat_interval" (spec §5): no frame received
// for this long and the control connection is considered dead.
const idleDeadAfter = 2 * heartbeatInterval

// session is the server-side state for one control connection past Hello
// (spec §4.5, states AwaitingHello..Closed; AwaitingHello itself is handled
// by Server.handleConn before a session is constructed).
type session struct {
	codec    *wire.Codec
	server   *Server
	listener net.Listener

	mu      sync.Mutex
	pending map[wire.UUID]time.Time

	lastSend atomic.Int64 // UnixNano of the last successful Send

	done chan struct{}
}

// runSession allocates a public listener for requestedPort, acknowledges
// the Hello, and drives the session until the control connection dies
// (spec §4.5).
func (s *Server) runSession(codec *wire.Codec, requestedPort uint16) {
	ln, port, err := allocatePort(requestedPort, s.portRange)
	if err != nil {
		codec.SendError(err.Error())
		codec.Conn().Close()
		return
	}

	if err := codec.Send(wire.Hello(port)); err != nil {
		ln.Close()
		codec.Conn().Close()
		return
	}
	s.counters.SessionsOpened.Add(1)
	log.Printf("session: %s exposed on public port %d", codec.Conn().RemoteAddr(), port)

	sess := &session{
		codec:    codec,
		server:   s,
		listener: ln,
		pending:  make(map[wire.UUID]time.Time),
		done:     make(chan struct{}),
	}
	sess.lastSend.Store(time.Now().UnixNano())

	go sess.acceptPublic()
	go sess.heartbeatWriter()

	sess.controlLoop()

	sess.teardown()
	s.counters.SessionsClosed.Add(1)
	log.Printf("session: %s closed (was public port %d)", codec.Conn().RemoteAddr(), port)
}

// acceptPublic accepts public connections on the session's listener,
// deposits each into the shared registry, and announces it on the control
// channel (spec §4.5 per-public-connection flow). Order matters: deposit
// happens-before the Connection(uuid) send, so the client's Accept can
// never race a missing entry, only the TTL window.
func (sess *session) acceptPublic() {
	for {
		conn, err := sess.listener.Accept()
		if err != nil {
			return
		}
		id := wire.NewUUID()

		sess.mu.Lock()
		sess.prunePendingLocked()
		sess.pending[id] = time.Now()
		sess.mu.Unlock()

		sess.server.registry.Deposit(id, conn)
		sess.server.counters.PendingDeposited.Add(1)

		if err := sess.send(wire.ConnectionMsg(id)); err != nil {
			// control channel is gone; the deposited entry will TTL out.
			return
		}
	}
}

// prunePendingLocked drops tracking entries old enough that the registry
// would already have expired them, so the map doesn't grow across a
// long-lived session. Must be called with sess.mu held.
func (sess *session) prunePendingLocked() {
	cutoff := time.Now().Add(-(registry.TTL + 2*time.Second))
	for id, at := range sess.pending {
		if at.Before(cutoff) {
			delete(sess.pending, id)
		}
	}
}

// send serializes writes and tracks the last-send time for the heartbeat
// writer's idleness check.
func (sess *session) send(msg wire.Message) error {
	err := sess.codec.Send(msg)
	if err == nil {
		sess.lastSend.Store(time.Now().UnixNano())
	}
	return err
}

// heartbeatWriter sends a Heartbeat whenever nothing else has been sent for
// heartbeatInterval (spec §4.5 table: "idle > 500ms -> send Heartbeat").
func (sess *session) heartbeatWriter() {
	ticker := time.NewTicker(heartbeatInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idleFor := time.Duration(time.Now().UnixNano() - sess.lastSend.Load())
			if idleFor >= heartbeatInterval {
				if err := sess.send(wire.HeartbeatMsg()); err != nil {
					return
				}
			}
		case <-sess.done:
			return
		}
	}
}

// controlLoop reads control-channel frames until the connection dies (spec
// §4.5, §5 idle-dead detection).
func (sess *session) controlLoop() {
	for {
		msg, err := sess.codec.Recv(idleDeadAfter)
		if err != nil {
			return
		}
		switch msg.Type {
		case wire.TypeHeartbeat:
			_ = sess.send(wire.HeartbeatMsg())
		case wire.TypeAccept, wire.TypeHello, wire.TypeChallenge, wire.TypeAuthenticate:
			sess.codec.SendError("unexpected message on control channel")
			return
		case wire.TypeError:
			log.Println("session: client reported error:", msg.Text)
			return
		}
	}
}

// teardown implements the Draining -> Closed transition: close the public
// listener first so no further public connections are accepted, then
// cancel every pending connection this session deposited that hasn't
// already been claimed or expired.
func (sess *session) teardown() {
	close(sess.done)
	sess.listener.Close()
	sess.codec.Conn().Close()

	sess.mu.Lock()
	ids := make([]wire.UUID, 0, len(sess.pending))
	for id := range sess.pending {
		ids = append(ids, id)
	}
	sess.mu.Unlock()

	for _, id := range ids {
		if conn := sess.server.registry.Take(id); conn != nil {
			conn.Close()
		}
	}
}
