package auth

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/tunl/internal/tunerr"
	"github.com/xtaci/tunl/internal/wire"
)

func pipeCodecs(t *testing.T) (*wire.Codec, *wire.Codec) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return wire.NewCodec(a), wire.NewCodec(b)
}

func TestHandshakeSuccess(t *testing.T) {
	serverSide, clientSide := pipeCodecs(t)
	srv := New("correct-horse")
	cli := New("correct-horse")

	errc := make(chan error, 1)
	go func() { errc <- srv.ServerHandshake(serverSide) }()

	unconsumed, err := cli.ClientHandshake(clientSide)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if unconsumed != nil {
		t.Fatalf("expected no unconsumed message, got %+v", unconsumed)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestHandshakeWrongSecretNeverAuthenticates(t *testing.T) {
	serverSide, clientSide := pipeCodecs(t)
	srv := New("correct-horse")
	cli := New("wrong-secret")

	errc := make(chan error, 1)
	go func() { errc <- srv.ServerHandshake(serverSide) }()

	_, cerr := cli.ClientHandshake(clientSide)
	if cerr != nil {
		t.Fatalf("client-side handshake should succeed in sending its (wrong) tag: %v", cerr)
	}

	// net.Pipe is synchronous: the server's Error frame must be read before
	// ServerHandshake can return.
	go func() { _, _ = clientSide.Recv(HandshakeTimeout) }()

	serr := <-errc
	if serr == nil {
		t.Fatal("expected server handshake to reject the wrong secret")
	}
	if kind, ok := tunerr.Of(serr); !ok || kind != tunerr.KindAuth {
		t.Fatalf("got kind %v, ok=%v, err=%v", kind, ok, serr)
	}
}

func TestHandshakeNoSecretIsNoop(t *testing.T) {
	serverSide, clientSide := pipeCodecs(t)
	srv := New("")

	errc := make(chan error, 1)
	go func() { errc <- srv.ServerHandshake(serverSide) }()
	if err := <-errc; err != nil {
		t.Fatalf("server handshake with no secret: %v", err)
	}
	clientSide.Close()
}

func TestClientRejectsChallengeWithoutSecret(t *testing.T) {
	serverSide, clientSide := pipeCodecs(t)
	cli := New("")

	go func() {
		_ = serverSide.Send(wire.ChallengeMsg(wire.NewUUID()))
	}()

	_, err := cli.ClientHandshake(clientSide)
	if err == nil {
		t.Fatal("expected AuthError")
	}
	if kind, ok := tunerr.Of(err); !ok || kind != tunerr.KindAuth {
		t.Fatalf("got kind %v, ok=%v", kind, ok)
	}
}

func TestClientBuffersNonChallengeFirstMessage(t *testing.T) {
	serverSide, clientSide := pipeCodecs(t)
	cli := New("secret")

	go func() {
		_ = serverSide.Send(wire.Hello(5000))
	}()

	unconsumed, err := cli.ClientHandshake(clientSide)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unconsumed == nil || unconsumed.Type != wire.TypeHello || unconsumed.Port != 5000 {
		t.Fatalf("expected buffered Hello(5000), got %+v", unconsumed)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	_, clientSide := pipeCodecs(t)
	cli := New("secret")

	done := make(chan error, 1)
	go func() {
		_, err := cli.ClientHandshake(clientSide)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(HandshakeTimeout + 2*time.Second):
		t.Fatal("handshake did not time out in time")
	}
}
