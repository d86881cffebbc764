// Package registry implements the server-side pending-connection registry
// (spec §4.4): a mapping from UUID to an accepted public socket, bounded by
// a 10-second TTL, with exactly-once take-out semantics. A Registry is not
// partitioned by session: the server keeps one Registry shared by every
// session, and Take returns any entry whose UUID matches, whichever session
// deposited it.
//
// The design is a single owner goroutine driven by a command channel
// (deposit/take/expire), the shape the spec's design notes (§9) prefer over
// a mutex-guarded map, and the pattern the teacher already uses for its
// connection scavenger in client/main.go: a channel feeding one goroutine
// that owns a slice of timed state and reacts to a ticker. Here the sweep is
// replaced by a per-entry timer since each pending connection has its own
// independent 10s deadline rather than a shared session-wide one.
package registry

import (
	"net"
	"time"

	"github.com/xtaci/tunl/internal/wire"
)

// TTL is how long a deposited connection remains claimable before it is
// dropped and its socket closed (spec §4.4). A var, not a const, so tests
// can shorten it instead of sleeping ten real seconds.
var TTL = 10 * time.Second

type entry struct {
	conn  net.Conn
	timer *time.Timer
}

type takeRequest struct {
	id   wire.UUID
	resp chan net.Conn
}

// Registry owns one pending-connection map, shared by every session that
// deposits into it. All state is
// confined to the run goroutine; Deposit/Take/Close only ever touch
// channels, so the registry is safe for concurrent use without a mutex.
type Registry struct {
	deposit  chan depositRequest
	take     chan takeRequest
	expired  chan wire.UUID
	closeCh  chan struct{}
	done     chan struct{}
	onExpire func(wire.UUID)
}

type depositRequest struct {
	id   wire.UUID
	conn net.Conn
}

// New starts the owner goroutine and returns a Registry handle. onExpire, if
// non-nil, is called from the owner goroutine whenever an entry's TTL fires
// before it was claimed; it must not block or call back into the Registry.
func New(onExpire func(wire.UUID)) *Registry {
	r := &Registry{
		deposit:  make(chan depositRequest),
		take:     make(chan takeRequest),
		expired:  make(chan wire.UUID),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
		onExpire: onExpire,
	}
	go r.run()
	return r
}

// Deposit inserts conn under id with a fresh TTL. The caller must not reuse
// id for a later Deposit on the same Registry (spec invariant: UUID
// uniqueness is assumed from the RNG).
func (r *Registry) Deposit(id wire.UUID, conn net.Conn) {
	select {
	case r.deposit <- depositRequest{id: id, conn: conn}:
	case <-r.done:
	}
}

// Take removes and returns the connection deposited under id, or nil if no
// such entry exists (never deposited, already taken, or already expired).
// Exactly one caller ever observes a non-nil result for a given id.
func (r *Registry) Take(id wire.UUID) net.Conn {
	resp := make(chan net.Conn, 1)
	select {
	case r.take <- takeRequest{id: id, resp: resp}:
	case <-r.done:
		return nil
	}
	select {
	case conn := <-resp:
		return conn
	case <-r.done:
		return nil
	}
}

// Close tears the registry down: every still-pending socket is closed and
// no further Deposit/Take will do anything.
func (r *Registry) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.closeCh)
	<-r.done
}

func (r *Registry) run() {
	entries := make(map[wire.UUID]*entry)
	defer func() {
		for id, e := range entries {
			e.timer.Stop()
			e.conn.Close()
			delete(entries, id)
		}
		close(r.done)
	}()

	for {
		select {
		case req := <-r.deposit:
			id := req.id
			e := &entry{conn: req.conn}
			e.timer = time.AfterFunc(TTL, func() {
				select {
				case r.expired <- id:
				case <-r.closeCh:
				}
			})
			entries[id] = e

		case req := <-r.take:
			e, ok := entries[req.id]
			if !ok {
				req.resp <- nil
				continue
			}
			delete(entries, req.id)
			e.timer.Stop()
			req.resp <- e.conn

		case id := <-r.expired:
			e, ok := entries[id]
			if !ok {
				// already taken; the timer lost the race, no-op.
				continue
			}
			delete(entries, id)
			e.conn.Close()
			if r.onExpire != nil {
				r.onExpire(id)
			}

		case <-r.closeCh:
			return
		}
	}
}
