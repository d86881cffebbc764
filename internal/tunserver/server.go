// Package tunserver implements the server side of the tunnel: the
// listener/acceptor fabric (spec §4.7) and the per-control-connection
// session state machine (spec §4.5).
package tunserver

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/xtaci/tunl/internal/auth"
	"github.com/xtaci/tunl/internal/proxy"
	"github.com/xtaci/tunl/internal/registry"
	"github.com/xtaci/tunl/internal/stats"
	"github.com/xtaci/tunl/internal/tunerr"
	"github.com/xtaci/tunl/internal/wire"
)

// DefaultControlPort is the well-known control port both roles dial/bind
// (spec §6).
const DefaultControlPort = 7835

// initialFrameTimeout bounds how long the server waits for the first
// post-authentication frame (Hello or Accept) on a freshly accepted
// connection (spec §4.5 table: "start 10s deadline for next message").
const initialFrameTimeout = 10 * time.Second

// Server owns the control listener, the authentication policy, and the
// single registry of pending public connections shared by every session
// (UUID uniqueness is a cross-session assumption per spec §3, so one
// registry correctly serves every session without per-session partitioning
// — the same structure the original bore server uses).
type Server struct {
	portRange PortRange
	auth      *auth.Authenticator
	registry  *registry.Registry
	counters  *stats.Counters
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	counters := stats.Default
	return &Server{
		portRange: PortRange{Min: cfg.MinPort, Max: cfg.MaxPort},
		auth:      auth.New(cfg.Secret),
		registry:  registry.New(func(wire.UUID) { counters.PendingExpired.Add(1) }),
		counters:  counters,
	}
}

// ListenAndServe binds the control port and serves connections until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return tunerr.New(tunerr.IO, "listen on %s: %v", addr, err)
	}
	log.Println("server: listening for control connections on", addr)
	return s.serveListener(ctx, ln)
}

// serveListener runs the accept loop against an already-bound listener
// until ctx is canceled, closing it and the registry on the way out.
func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.registry.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Println("server: accept:", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// handleConn runs Authenticator then dispatches on the first post-auth
// frame, as spec §4.7 describes the listener/acceptor fabric.
func (s *Server) handleConn(conn net.Conn) {
	codec := wire.NewCodec(conn)

	if err := s.auth.ServerHandshake(codec); err != nil {
		s.counters.AuthFailures.Add(1)
		log.Println("server: handshake failed from", conn.RemoteAddr(), ":", err)
		conn.Close()
		return
	}

	msg, err := codec.Recv(initialFrameTimeout)
	if err != nil {
		codec.SendError("expected Hello or Accept")
		conn.Close()
		return
	}

	switch msg.Type {
	case wire.TypeHello:
		s.runSession(codec, msg.Port)
	case wire.TypeAccept:
		s.handleAccept(codec, msg.UUID)
	default:
		codec.SendError("unexpected message")
		conn.Close()
	}
}

// handleAccept implements the registry claim path (spec §4.7): take the
// parked public socket out and run the proxy shuttle between it and the
// data connection that just claimed it.
func (s *Server) handleAccept(codec *wire.Codec, id wire.UUID) {
	public := s.registry.Take(id)
	if public == nil {
		codec.SendError("missing connection")
		codec.Conn().Close()
		return
	}
	s.counters.PendingClaimed.Add(1)

	data := codec.Conn()
	if buffered := codec.Buffered(); len(buffered) > 0 {
		if _, err := public.Write(buffered); err != nil {
			log.Println("server: writing buffered bytes to public side:", err)
			public.Close()
			data.Close()
			return
		}
	}
	n := proxy.ShuttleLogged(public, data, "data:"+wire.Canonical(id))
	s.counters.BytesProxied.Add(n)
}
