package registry

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/tunl/internal/wire"
)

func fakeConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestDepositThenTake(t *testing.T) {
	r := New(nil)
	defer r.Close()

	id := wire.NewUUID()
	a, _ := fakeConnPair(t)
	r.Deposit(id, a)

	got := r.Take(id)
	if got != a {
		t.Fatalf("Take returned %v, want the deposited conn", got)
	}
}

func TestTakeIsExactlyOnce(t *testing.T) {
	r := New(nil)
	defer r.Close()

	id := wire.NewUUID()
	a, _ := fakeConnPair(t)
	r.Deposit(id, a)

	first := r.Take(id)
	second := r.Take(id)
	if first != a {
		t.Fatalf("first Take = %v, want conn", first)
	}
	if second != nil {
		t.Fatalf("second Take = %v, want nil", second)
	}
}

func TestTakeMissingReturnsNil(t *testing.T) {
	r := New(nil)
	defer r.Close()

	if got := r.Take(wire.NewUUID()); got != nil {
		t.Fatalf("Take on unknown id = %v, want nil", got)
	}
}

func TestExpiryDropsAndClosesSocket(t *testing.T) {
	origTTL := TTL
	TTL = 5 * time.Millisecond
	defer func() { TTL = origTTL }()

	r := New(nil)
	defer r.Close()

	id := wire.NewUUID()
	a, b := fakeConnPair(t)
	r.Deposit(id, a)

	// wait past the (shortened) TTL
	time.Sleep(50 * time.Millisecond)

	if got := r.Take(id); got != nil {
		t.Fatalf("Take after expiry = %v, want nil", got)
	}

	// a's peer should observe the socket is gone
	b.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := b.Read(buf); err == nil {
		t.Fatalf("expected read error after expiry closed the deposited conn")
	}
}

func TestExpiryInvokesCallback(t *testing.T) {
	origTTL := TTL
	TTL = 5 * time.Millisecond
	defer func() { TTL = origTTL }()

	notified := make(chan wire.UUID, 1)
	r := New(func(id wire.UUID) { notified <- id })
	defer r.Close()

	id := wire.NewUUID()
	a, _ := fakeConnPair(t)
	r.Deposit(id, a)

	select {
	case got := <-notified:
		if got != id {
			t.Fatalf("onExpire called with %v, want %v", got, id)
		}
	case <-time.After(time.Second):
		t.Fatal("onExpire was not called after TTL")
	}
}

func TestCloseDropsAllPending(t *testing.T) {
	r := New(nil)
	id := wire.NewUUID()
	a, b := fakeConnPair(t)
	r.Deposit(id, a)

	r.Close()

	b.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := b.Read(buf); err == nil {
		t.Fatalf("expected read error after registry Close")
	}
}
