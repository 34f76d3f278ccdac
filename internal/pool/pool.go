// Package pool bounds the number of concurrent HTTP clients (and therefore
// connections) shared by all VUs.
package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrExhausted is returned when no handle became free within the acquire
// timeout.
var ErrExhausted = errors.New("client pool exhausted")

// Handle is one pooled client. A handle is owned by exactly one VU between
// Acquire and Release.
type Handle struct {
	Client *http.Client
	id     int
	broken bool
}

// ID identifies the pool slot the handle occupies.
func (h *Handle) ID() int { return h.id }

// MarkBroken asks the pool to close and replace the handle on release.
func (h *Handle) MarkBroken() { h.broken = true }

// Factory creates the client for a pool slot.
type Factory func() *http.Client

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Size         int
	Idle         int
	Waits        int64
	Timeouts     int64
	Replacements int64
}

// Pool is a fixed-size set of handles handed out through a buffered channel.
type Pool struct {
	idle           chan *Handle
	size           int
	factory        Factory
	acquireTimeout time.Duration

	waits        atomic.Int64
	timeouts     atomic.Int64
	replacements atomic.Int64
}

// New creates a pool of size handles. A zero acquireTimeout waits until
// the context is done.
func New(size int, factory Factory, acquireTimeout time.Duration) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if factory == nil {
		factory = func() *http.Client { return NewClient(ClientOptions{}) }
	}

	p := &Pool{
		idle:           make(chan *Handle, size),
		size:           size,
		factory:        factory,
		acquireTimeout: acquireTimeout,
	}
	for i := 0; i < size; i++ {
		p.idle <- &Handle{Client: factory(), id: i}
	}
	return p, nil
}

// Acquire blocks until a handle is free, the acquire timeout elapses
// (ErrExhausted) or ctx is done (ctx.Err()).
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	p.waits.Add(1)
	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case h := <-p.idle:
		return h, nil
	case <-timeout:
		p.timeouts.Add(1)
		return nil, fmt.Errorf("%w: no client free after %v", ErrExhausted, p.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns h to the pool. Broken handles are replaced with a fresh
// client from the factory. Releasing nil is a no-op.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if h.broken {
		h.Client.CloseIdleConnections()
		h = &Handle{Client: p.factory(), id: h.id}
		p.replacements.Add(1)
	}
	p.idle <- h
}

// Size returns the number of handles the pool owns.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Stats() Stats {
	return Stats{
		Size:         p.size,
		Idle:         len(p.idle),
		Waits:        p.waits.Load(),
		Timeouts:     p.timeouts.Load(),
		Replacements: p.replacements.Load(),
	}
}

// Close closes idle connections of every handle currently in the pool.
func (p *Pool) Close() {
	for {
		select {
		case h := <-p.idle:
			h.Client.CloseIdleConnections()
		default:
			return
		}
	}
}

// ClientOptions configures clients built by NewClient.
type ClientOptions struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// NewClient returns a client whose transport keeps at most one connection,
// so the pool size is also the connection bound.
func NewClient(opts ClientOptions) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
