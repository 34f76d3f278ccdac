// Package core defines the fundamental interfaces and types for stampede.
package core

import (
	"context"
	"math/rand"
	"time"
)

// StatusTransportError is the status code recorded when no HTTP response
// was received (timeout, refused connection, reset).
const StatusTransportError = 0

// CheckResult is the outcome of one named check on a response.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Sample is the single measurement produced by one VU iteration.
type Sample struct {
	VU         int
	Iteration  int
	Timestamp  time.Time
	Scenario   string
	Method     string
	URL        string
	StatusCode int
	// Latency runs from the start of pool acquisition to the end of the
	// body read, so client-side queueing shows up here.
	Latency   time.Duration
	PoolWait  time.Duration
	Checks    []CheckResult
	RequestOK bool // response received with an expected status
	Success   bool // RequestOK and every check passed
	Aborted   bool // cut short by the hard deadline
	Error     string
	BytesSent int64
	BytesRecv int64
}

// ServiceTime is the network portion of the latency.
func (s Sample) ServiceTime() time.Duration {
	if s.Latency < s.PoolWait {
		return 0
	}
	return s.Latency - s.PoolWait
}

// VU is the per-virtual-user state handed to a Workflow on every iteration.
// It is owned by a single goroutine.
type VU struct {
	ID        int
	Iteration int
	Rand      *rand.Rand
}

// NewVU creates a VU whose random stream is derived from seed and id, so
// two VUs never share (or correlate) a random source.
func NewVU(id int, seed int64) *VU {
	return &VU{
		ID:   id,
		Rand: rand.New(rand.NewSource(seed + int64(id)*7919)),
	}
}

// Workflow performs one iteration for a VU.
// Returned errors are fatal to the run; request-level failures must be
// recorded as samples instead.
type Workflow interface {
	Run(ctx context.Context, vu *VU, rep Reporter) error
}

// Reporter receives samples from VUs. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Record(Sample)
}
