package wire

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/xtaci/tunl/internal/tunerr"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestCodecSendRecvRoundTrip(t *testing.T) {
	a, b := pipeConns(t)
	ca := NewCodec(a)
	cb := NewCodec(b)

	id := NewUUID()
	done := make(chan error, 1)
	go func() { done <- ca.Send(ConnectionMsg(id)) }()

	got, err := cb.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Type != TypeConnection || got.UUID != id {
		t.Fatalf("got %+v", got)
	}
}

func TestCodecRecvTimeout(t *testing.T) {
	_, b := pipeConns(t)
	cb := NewCodec(b)

	_, err := cb.Recv(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind, ok := tunerr.Of(err); !ok || kind != tunerr.KindTimeout {
		t.Fatalf("got kind %v, ok=%v, err=%v", kind, ok, err)
	}
}

func TestCodecRecvOversizeFrame(t *testing.T) {
	a, b := pipeConns(t)
	cb := NewCodec(b)

	big := strings.Repeat("x", MaxMessageSize*2)
	go func() {
		a.Write([]byte(`{"type":"Error","text":"` + big + `"}` + "\n"))
	}()

	_, err := cb.Recv(time.Second)
	if err == nil {
		t.Fatal("expected protocol error for oversize frame")
	}
	if kind, ok := tunerr.Of(err); !ok || kind != tunerr.KindProtocol {
		t.Fatalf("got kind %v, ok=%v, err=%v", kind, ok, err)
	}
}

func TestCodecRecvUnknownType(t *testing.T) {
	a, b := pipeConns(t)
	cb := NewCodec(b)

	go func() { a.Write([]byte(`{"type":"Bogus"}` + "\n")) }()

	_, err := cb.Recv(time.Second)
	if err == nil {
		t.Fatal("expected protocol error for unknown type")
	}
	if kind, ok := tunerr.Of(err); !ok || kind != tunerr.KindProtocol {
		t.Fatalf("got kind %v, ok=%v, err=%v", kind, ok, err)
	}
}

func TestCodecBufferedPreservesTrailingBytes(t *testing.T) {
	a, b := pipeConns(t)
	cb := NewCodec(b)

	payload := []byte("ping")
	msgDone := make(chan struct{})
	go func() {
		a.Write([]byte(`{"type":"Heartbeat"}` + "\n"))
		a.Write(payload)
		close(msgDone)
	}()

	if _, err := cb.Recv(time.Second); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	buf := cb.Buffered()
	// net.Pipe is unbuffered/synchronous: the writer's second Write blocks
	// until it is read, so the bufio.Reader may or may not have pulled the
	// trailing bytes in; read the rest straight off the conn and make sure
	// nothing was dropped or duplicated either way.
	rest := make([]byte, len(payload)-len(buf))
	if len(rest) > 0 {
		if _, err := cb.Conn().Read(rest); err != nil {
			t.Fatalf("read rest: %v", err)
		}
	}
	<-msgDone
	got := append(buf, rest...)
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}
