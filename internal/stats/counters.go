// Package stats provides the periodic CSV counter dump the teacher always
// carries (std/snmp.go: a ticker that appends one row of cumulative
// counters to a log file on a fixed interval). The counters themselves are
// specific to this project's domain rather than kcp-go's SNMP transport
// counters, since the KCP transport itself is out of scope here (see
// DESIGN.md).
package stats

import "sync/atomic"

// Counters holds the cumulative, atomically updated operational counters
// this project tracks. All fields are exported so Header/ToSlice can stay
// purely mechanical, mirroring kcp.Snmp's own shape.
type Counters struct {
	SessionsOpened   atomic.Int64
	SessionsClosed   atomic.Int64
	PendingDeposited atomic.Int64
	PendingClaimed   atomic.Int64
	PendingExpired   atomic.Int64
	AuthFailures     atomic.Int64
	BytesProxied     atomic.Int64
}

// Default is the process-wide counter set, shared package-wide the same way
// kcp.DefaultSnmp is. Only the server wiring updates it; the client does not
// touch these counters.
var Default = &Counters{}

// Header names ToSlice's columns, in order.
func (c *Counters) Header() []string {
	return []string{
		"SessionsOpened", "SessionsClosed",
		"PendingDeposited", "PendingClaimed", "PendingExpired",
		"AuthFailures", "BytesProxied",
	}
}

// ToSlice renders the current counter values as strings, matching Header's
// order, for a single CSV row.
func (c *Counters) ToSlice() []string {
	return int64SliceToStrings(
		c.SessionsOpened.Load(), c.SessionsClosed.Load(),
		c.PendingDeposited.Load(), c.PendingClaimed.Load(), c.PendingExpired.Load(),
		c.AuthFailures.Load(), c.BytesProxied.Load(),
	)
}
