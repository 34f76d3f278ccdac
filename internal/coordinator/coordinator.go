// Package coordinator manages the VU lifecycle: ramping the VU count to the
// stage profile, draining stopped VUs and aborting in-flight work.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"stampede/internal/config"
	"stampede/internal/core"
	"stampede/internal/logging"
	"stampede/internal/ramp"
)

const (
	// stageTickInterval is how often we check for stage transitions
	// and adjust VU counts during profile execution.
	stageTickInterval = 100 * time.Millisecond
)

// Options configures how VUs iterate.
type Options struct {
	Runner    core.RunnerConfig
	ThinkTime config.ThinkTime
	// Seed derives every VU's random stream. Zero picks a time-based seed.
	Seed     int64
	StartVUs int
	Clock    core.Clock
	Log      *logrus.Entry
}

type vuHandle struct {
	id   int
	stop chan struct{}
}

// Coordinator owns every VU goroutine of a run.
//
// A VU is live until it is signalled to stop, then draining until its
// current iteration returns. Stopping never interrupts a request; only
// Abort does.
type Coordinator struct {
	nextID   atomic.Int64
	wg       sync.WaitGroup
	reporter core.Reporter
	opts     Options

	live     atomic.Int32
	draining atomic.Int32
	retired  atomic.Int32
	peak     atomic.Int32

	vus    []vuHandle
	stopMu sync.Mutex

	abortCtx context.Context
	abort    context.CancelFunc

	errMu  sync.Mutex
	err    error
	failed chan struct{}
}

func NewCoordinator(reporter core.Reporter, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	abortCtx, abort := context.WithCancel(context.Background())
	return &Coordinator{
		reporter: reporter,
		opts:     opts,
		abortCtx: abortCtx,
		abort:    abort,
		failed:   make(chan struct{}),
	}
}

// Spawn starts count VUs that iterate until stopped, aborted, out of
// iterations or failed.
func (c *Coordinator) Spawn(count int, workflow core.Workflow) {
	for i := 0; i < count; i++ {
		c.spawn(workflow)
	}
}

func (c *Coordinator) spawn(workflow core.Workflow) {
	h := vuHandle{id: int(c.nextID.Add(1)), stop: make(chan struct{})}

	c.stopMu.Lock()
	c.vus = append(c.vus, h)
	c.live.Add(1)
	c.updatePeak()
	c.stopMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.exit(h)
		defer c.recoverPanic(h.id)

		vu := core.NewVU(h.id, c.opts.Seed)
		runner := core.NewRunner(workflow, c.reporter, vu, c.opts.Runner)
		for {
			select {
			case <-h.stop:
				return
			case <-c.abortCtx.Done():
				return
			default:
			}

			if err := runner.RunIteration(c.abortCtx); err != nil {
				if errors.Is(err, core.ErrMaxIterationsReached) {
					c.retired.Add(1)
					return
				}
				c.fail(err)
				return
			}
			if !c.think(vu, h.stop) {
				return
			}
		}
	}()
}

// exit moves a finished VU out of the live or draining count.
func (c *Coordinator) exit(h vuHandle) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	select {
	case <-h.stop:
		c.draining.Add(-1)
		return
	default:
	}
	c.live.Add(-1)
	for i, v := range c.vus {
		if v.id == h.id {
			c.vus = append(c.vus[:i], c.vus[i+1:]...)
			break
		}
	}
}

// think sleeps the VU's think time. It returns false if the VU was told to
// stop meanwhile.
func (c *Coordinator) think(vu *core.VU, stop <-chan struct{}) bool {
	d := thinkDuration(c.opts.ThinkTime, vu)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-c.abortCtx.Done():
		return false
	}
}

func thinkDuration(tt config.ThinkTime, vu *core.VU) time.Duration {
	if tt.Max <= tt.Min {
		return tt.Min
	}
	return tt.Min + time.Duration(vu.Rand.Int63n(int64(tt.Max-tt.Min)+1))
}

// recoverPanic turns a panicking VU into a failed sample.
func (c *Coordinator) recoverPanic(vuID int) {
	if r := recover(); r != nil {
		c.reporter.Record(core.Sample{
			VU:        vuID,
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("panic: %v", r),
		})
	}
}

func (c *Coordinator) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.failed)
}

// Err returns the first fatal VU error.
func (c *Coordinator) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Failed is closed when a VU hits a fatal error.
func (c *Coordinator) Failed() <-chan struct{} {
	return c.failed
}

func (c *Coordinator) updatePeak() {
	active := c.live.Load() + c.draining.Load()
	for {
		old := c.peak.Load()
		if active <= old || c.peak.CompareAndSwap(old, active) {
			return
		}
	}
}

// stopVUs signals the n oldest live VUs to finish their iteration and exit.
func (c *Coordinator) stopVUs(n int) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if n > len(c.vus) {
		n = len(c.vus)
	}
	for i := 0; i < n; i++ {
		close(c.vus[i].stop)
	}
	c.vus = c.vus[n:]
	c.live.Add(int32(-n))
	c.draining.Add(int32(n))
}

// StopAll signals every live VU to stop after its current iteration.
func (c *Coordinator) StopAll() {
	c.stopVUs(int(c.live.Load()))
}

// Abort cancels in-flight iterations. Samples cut short are marked aborted.
func (c *Coordinator) Abort() {
	c.abort()
}

func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// WaitTimeout waits for all VUs to exit and reports whether they did
// within d.
func (c *Coordinator) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// LiveVUs counts VUs that have not been signalled to stop.
func (c *Coordinator) LiveVUs() int {
	return int(c.live.Load())
}

// ActiveVUs counts live and draining VUs.
func (c *Coordinator) ActiveVUs() int {
	return int(c.live.Load() + c.draining.Load())
}

// Peak is the highest ActiveVUs ever observed.
func (c *Coordinator) Peak() int {
	return int(c.peak.Load())
}

// RunProfile drives the VU count along stages until the profile completes,
// ctx is done or a VU fails. Live VUs are signalled to stop on return but
// not waited for; callers drain with WaitTimeout and Abort.
func (c *Coordinator) RunProfile(ctx context.Context, stages []config.Stage, workflow core.Workflow, limiter *ramp.RateLimiter) {
	sm := ramp.NewStageManagerWithClock(stages, c.opts.StartVUs, c.opts.Clock)
	log := c.opts.Log

	log.WithFields(logrus.Fields{
		"stages":   len(stages),
		"duration": sm.TotalDuration().String(),
		"max_vus":  sm.MaxTarget(),
	}).Info("starting load profile")

	currentStage := -1
	ticker := time.NewTicker(stageTickInterval)
	defer ticker.Stop()

	tick := func() bool {
		if sm.IsComplete() {
			return false
		}
		if idx := sm.CurrentStageIndex(); idx != currentStage {
			currentStage = idx
			if stage := sm.CurrentStage(); stage != nil {
				log.WithFields(logrus.Fields{
					"stage":    idx,
					"name":     stage.Name,
					"duration": stage.Duration.String(),
					"target":   stage.Target,
					"rps":      stage.RPS,
				}).Info("stage started")
			}
		}

		target := sm.TargetVUs()
		live := c.LiveVUs()
		budget := target - int(c.retired.Load())
		if live < budget {
			c.Spawn(budget-live, workflow)
		} else if live > target {
			c.stopVUs(live - target)
		}
		if limiter != nil {
			limiter.SetRate(sm.CurrentRPS())
		}
		return true
	}

	if !tick() {
		c.StopAll()
		return
	}
	for {
		select {
		case <-ctx.Done():
			c.StopAll()
			return
		case <-c.failed:
			c.StopAll()
			return
		case <-ticker.C:
			if !tick() {
				c.StopAll()
				return
			}
		}
	}
}
