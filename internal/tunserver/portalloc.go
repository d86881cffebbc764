package tunserver

import (
	"fmt"
	"net"

	"github.com/xtaci/tunl/internal/tunerr"
)

// maxBindRetries bounds how many times the allocator retries an OS-assigned
// "any free port" bind that lands outside the configured range (spec §4.5
// port allocation policy).
const maxBindRetries = 3

// PortRange bounds the ports a session is allowed to request or be assigned
// (spec §4.5, defaults 1024-65535 per §6).
type PortRange struct {
	Min, Max uint16
}

// Contains reports whether p falls within [Min, Max] inclusive.
func (r PortRange) Contains(p uint16) bool {
	return p >= r.Min && p <= r.Max
}

// allocatePort binds a public listener for the requested port and range.
// requested == 0 means "any free port in the range": the allocator binds
// ":0", inspects the OS-assigned port, and retries up to maxBindRetries
// times if it falls outside the range. An explicit nonzero port is bound
// directly, after the same range check, and fails with PortNotAvailable if
// out of range or already in use.
func allocatePort(requested uint16, r PortRange) (net.Listener, uint16, error) {
	if requested != 0 {
		if !r.Contains(requested) {
			return nil, 0, tunerr.New(tunerr.PortUnavailable, "port %d outside allowed range %d-%d", requested, r.Min, r.Max)
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", requested))
		if err != nil {
			return nil, 0, tunerr.New(tunerr.PortUnavailable, "port %d already in use", requested)
		}
		return ln, requested, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxBindRetries; attempt++ {
		ln, err := net.Listen("tcp", "0.0.0.0:0")
		if err != nil {
			return nil, 0, tunerr.New(tunerr.PortUnavailable, "bind any free port: %v", err)
		}
		got := uint16(ln.Addr().(*net.TCPAddr).Port)
		if r.Contains(got) {
			return ln, got, nil
		}
		ln.Close()
		lastErr = tunerr.New(tunerr.PortUnavailable, "OS assigned port %d outside allowed range %d-%d", got, r.Min, r.Max)
	}
	return nil, 0, lastErr
}
