// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of the proxy.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for the proxy.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	minersActive   atomic.Int64
	minersTotal    atomic.Int64
	minersRejected atomic.Int64
	bytesIn        atomic.Int64
	bytesOut       atomic.Int64
	sharesAccepted atomic.Int64
	sharesRejected atomic.Int64
	acceptPauses   atomic.Int64
	errorsTotal    atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Miner metrics ────────────────────────────────────────────────────

// MinerConnected increments both the active and total counters.
func (c *Collector) MinerConnected() {
	if c == nil {
		return
	}
	c.minersActive.Add(1)
	c.minersTotal.Add(1)
}

// MinerDisconnected decrements the active miner counter.
func (c *Collector) MinerDisconnected() {
	if c == nil {
		return
	}
	c.minersActive.Add(-1)
}

// MinerRejected counts a connection refused before a session was built
// (connection limit, setup failure).
func (c *Collector) MinerRejected() {
	if c == nil {
		return
	}
	c.minersRejected.Add(1)
}

// ActiveMiners returns the current number of open sessions.
func (c *Collector) ActiveMiners() int64 {
	if c == nil {
		return 0
	}
	return c.minersActive.Load()
}

// TotalMiners returns the lifetime session count.
func (c *Collector) TotalMiners() int64 {
	if c == nil {
		return 0
	}
	return c.minersTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from miners.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes queued to miners.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Share metrics ────────────────────────────────────────────────────

// ShareAccepted records a share acknowledged with a success reply.
func (c *Collector) ShareAccepted() {
	if c == nil {
		return
	}
	c.sharesAccepted.Add(1)
}

// ShareRejected records a share answered with an error reply.
func (c *Collector) ShareRejected() {
	if c == nil {
		return
	}
	c.sharesRejected.Add(1)
}

// AcceptedShares returns the accepted share count.
func (c *Collector) AcceptedShares() int64 {
	if c == nil {
		return 0
	}
	return c.sharesAccepted.Load()
}

// RejectedShares returns the rejected share count.
func (c *Collector) RejectedShares() int64 {
	if c == nil {
		return 0
	}
	return c.sharesRejected.Load()
}

// ── Listener metrics ─────────────────────────────────────────────────

// AcceptPaused records the accept circuit opening.
func (c *Collector) AcceptPaused() {
	if c == nil {
		return
	}
	c.acceptPauses.Add(1)
}

// AcceptPauses returns how many times accepting was paused.
func (c *Collector) AcceptPauses() int64 {
	if c == nil {
		return 0
	}
	return c.acceptPauses.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	MinersActive     int64  `json:"miners_active"`
	MinersTotal      int64  `json:"miners_total"`
	MinersRejected   int64  `json:"miners_rejected"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	SharesAccepted   int64  `json:"shares_accepted"`
	SharesRejected   int64  `json:"shares_rejected"`
	AcceptPauses     int64  `json:"accept_pauses"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		MinersActive:   c.minersActive.Load(),
		MinersTotal:    c.minersTotal.Load(),
		MinersRejected: c.minersRejected.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		SharesAccepted: c.sharesAccepted.Load(),
		SharesRejected: c.sharesRejected.Load(),
		AcceptPauses:   c.acceptPauses.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
