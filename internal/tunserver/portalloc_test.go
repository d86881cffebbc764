package tunserver

import "testing"

func TestAllocatePortAnyFreeInRange(t *testing.T) {
	ln, port, err := allocatePort(0, PortRange{Min: 1024, Max: 65535})
	if err != nil {
		t.Fatalf("allocate any free port: %v", err)
	}
	defer ln.Close()
	if port < 1024 {
		t.Fatalf("got port %d, want >= 1024", port)
	}
}

func TestAllocatePortExplicitOutOfRange(t *testing.T) {
	_, _, err := allocatePort(80, PortRange{Min: 1024, Max: 65535})
	if err == nil {
		t.Fatal("expected PortNotAvailable for out-of-range explicit port")
	}
}

func TestAllocatePortExplicitConflict(t *testing.T) {
	ln, port, err := allocatePort(0, PortRange{Min: 1024, Max: 65535})
	if err != nil {
		t.Fatalf("allocate first listener: %v", err)
	}
	defer ln.Close()

	_, _, err = allocatePort(port, PortRange{Min: 1024, Max: 65535})
	if err == nil {
		t.Fatal("expected PortNotAvailable for already-bound explicit port")
	}
}

func TestPortRangeContains(t *testing.T) {
	r := PortRange{Min: 1024, Max: 2048}
	if !r.Contains(1024) || !r.Contains(2048) {
		t.Fatal("range should be inclusive at both ends")
	}
	if r.Contains(1023) || r.Contains(2049) {
		t.Fatal("range should reject values outside [Min, Max]")
	}
}
