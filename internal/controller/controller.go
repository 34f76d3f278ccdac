// Package controller runs one load test from setup to verdict.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stampede/internal/config"
	"stampede/internal/coordinator"
	"stampede/internal/core"
	httpexec "stampede/internal/http"
	"stampede/internal/logging"
	"stampede/internal/metrics"
	"stampede/internal/pool"
	"stampede/internal/ramp"
	"stampede/internal/report"
	"stampede/internal/scenario"
	"stampede/internal/threshold"
)

var (
	// ErrSetupFailed wraps any error from the setup hook.
	ErrSetupFailed = errors.New("setup failed")
	// ErrAlreadyRun is returned when Run is called twice.
	ErrAlreadyRun = errors.New("controller already ran")
)

// Options customises a Controller. Everything is optional.
type Options struct {
	// Registry overrides the scenarios built from the config.
	Registry *scenario.Registry
	Hooks    Hooks
	Log      *logrus.Entry
	// Verbose logs every request and response at debug level.
	Verbose bool
	Clock   core.Clock
	// ClientFactory overrides how pooled HTTP clients are built.
	ClientFactory pool.Factory
}

// Report is the outcome of a run.
type Report struct {
	RunID              string
	Name               string
	State              State
	Started            time.Time
	Finished           time.Time
	PeakVUs            int
	AbortedByThreshold bool
	Snapshot           *metrics.Snapshot
	Verdict            *threshold.Verdict
}

// Summary converts r for rendering and storage.
func (r *Report) Summary() *report.Summary {
	return &report.Summary{
		Name:               r.Name,
		RunID:              r.RunID,
		State:              r.State.String(),
		Started:            r.Started,
		Finished:           r.Finished,
		PeakVUs:            r.PeakVUs,
		AbortedByThreshold: r.AbortedByThreshold,
		Snapshot:           r.Snapshot,
		Verdict:            r.Verdict,
	}
}

// Controller owns the aggregator, pool and coordinator of one run.
type Controller struct {
	cfg   *config.Config
	runID string
	log   *logrus.Entry
	clock core.Clock
	hooks Hooks

	agg      *metrics.Aggregator
	registry *scenario.Registry
	pool     *pool.Pool
	limiter  *ramp.RateLimiter
	coord    *coordinator.Coordinator
	exec     *httpexec.Executor

	mu    sync.Mutex
	state State
	ran   atomic.Bool

	abortedByThreshold atomic.Bool
}

// New wires a controller for cfg. cfg.BaseURL must already be resolved.
func New(cfg *config.Config, opts Options) (*Controller, error) {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = scenario.FromConfig(cfg); err != nil {
			return nil, err
		}
	}

	runID := uuid.NewString()
	log := opts.Log.WithField("run_id", runID)

	factory := opts.ClientFactory
	if factory == nil {
		clientOpts := pool.ClientOptions{
			Timeout:            cfg.Execution.Timeout,
			InsecureSkipVerify: cfg.Execution.InsecureSkipVerify,
		}
		factory = func() *http.Client { return pool.NewClient(clientOpts) }
	}
	p, err := pool.New(cfg.PoolSize(), factory, cfg.Execution.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	agg := metrics.NewAggregatorWithClock(opts.Clock)
	limiter := ramp.NewRateLimiter(0)

	var debug *httpexec.DebugLogger
	if opts.Verbose {
		debug = httpexec.NewDebugLogger(log)
	}
	exec := &httpexec.Executor{
		Registry:    registry,
		Pool:        p,
		RateLimiter: limiter,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Execution.Timeout,
		Debug:       debug,
		Log:         log,
		LogEvery:    *cfg.Execution.LogEvery,
	}

	coord := coordinator.NewCoordinator(agg, coordinator.Options{
		Runner: core.RunnerConfig{
			MaxIterations: cfg.Execution.MaxIterations,
			WarmupIters:   cfg.Execution.WarmupIterations,
		},
		ThinkTime: cfg.Execution.ThinkTime,
		Seed:      cfg.Execution.Seed,
		StartVUs:  cfg.Execution.StartVUs,
		Clock:     opts.Clock,
		Log:       log,
	})

	hooks := opts.Hooks
	if hooks.Setup == nil && !cfg.Setup.Disabled {
		hooks.Setup = Probe(cfg.BaseURL, cfg.Setup, cfg.Execution.InsecureSkipVerify, log)
	}
	if hooks.Teardown == nil {
		hooks.Teardown = logTeardown(log)
	}

	return &Controller{
		cfg:      cfg,
		runID:    runID,
		log:      log,
		clock:    opts.Clock,
		hooks:    hooks,
		agg:      agg,
		registry: registry,
		pool:     p,
		limiter:  limiter,
		coord:    coord,
		exec:     exec,
		state:    StateSetup,
	}, nil
}

// RunID identifies this run in logs, reports and history.
func (c *Controller) RunID() string { return c.runID }

// Aggregator exposes live metrics for progress output and exporters.
func (c *Controller) Aggregator() *metrics.Aggregator { return c.agg }

// ActiveVUs counts live and draining VUs.
func (c *Controller) ActiveVUs() int { return c.coord.ActiveVUs() }

// PoolStats reports client pool usage.
func (c *Controller) PoolStats() pool.Stats { return c.pool.Stats() }

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Info("state changed")
	return nil
}

// Run executes the whole lifecycle. The returned report is never nil when
// Run got past argument checks; err is non-nil when the run Failed.
// Cancelling ctx ends ramping early and still produces a verdict.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	defer c.pool.Close()

	rep := &Report{RunID: c.runID, Name: c.cfg.Name, Started: c.clock.Now()}

	if err := c.declare(); err != nil {
		return c.fail(rep, err)
	}

	var data SetupData
	if c.hooks.Setup != nil {
		var err error
		if data, err = c.hooks.Setup(ctx); err != nil {
			c.log.WithError(err).Error("setup failed")
			return c.fail(rep, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		}
	}

	if err := c.transition(StateRamping); err != nil {
		return c.fail(rep, err)
	}
	c.agg.Start()
	rampErr := c.ramp(ctx)

	if err := c.transition(StateDraining); err != nil {
		return c.fail(rep, err)
	}
	c.drain()

	if err := errors.Join(rampErr, c.coord.Err()); err != nil {
		c.log.WithError(err).Error("run failed")
		return c.fail(rep, err)
	}

	if err := c.hooks.Teardown(context.WithoutCancel(ctx), data); err != nil {
		c.log.WithError(err).Warn("teardown failed")
	}

	snap := c.agg.Snapshot()
	verdict, err := threshold.Evaluate(c.cfg.Thresholds, snap)
	if err != nil {
		return c.fail(rep, err)
	}
	if err := c.transition(StateCompleted); err != nil {
		return c.fail(rep, err)
	}

	rep.State = StateCompleted
	rep.Snapshot = snap
	rep.Verdict = verdict
	c.finish(rep)
	c.log.WithFields(logrus.Fields{
		"iterations": c.agg.Count(metrics.Iterations),
		"passed":     verdict.Passed,
	}).Info("run completed")
	return rep, nil
}

// declare registers scenario and check sub-metrics, then checks that every
// threshold references a known metric with a supported field.
func (c *Controller) declare() error {
	var errs []error
	for _, name := range c.registry.Names() {
		errs = append(errs, c.agg.DeclareScenario(name))
		c.log.WithFields(logrus.Fields{
			"scenario": name,
			"share":    fmt.Sprintf("%.1f%%", c.registry.Probability(name)*100),
		}).Debug("scenario registered")
	}
	c.log.WithField("scenarios", c.registry.Len()).Info("scenarios loaded")
	for _, name := range c.registry.CheckNames() {
		errs = append(errs, c.agg.DeclareCheck(name))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := threshold.Validate(c.cfg.Thresholds, c.agg.Kinds()); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return nil
}

// ramp drives the stage profile and, when abortOnFail thresholds exist,
// evaluates them every checkpoint interval.
func (c *Controller) ramp(ctx context.Context) error {
	rampCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(rampCtx)
	rampDone := make(chan struct{})
	g.Go(func() error {
		defer close(rampDone)
		c.coord.RunProfile(gctx, c.cfg.Stages, c.exec, c.limiter)
		return nil
	})

	if interval := c.cfg.Execution.CheckpointInterval; interval > 0 && c.cfg.Thresholds.HasAbortOnFail() {
		g.Go(func() error {
			return c.checkpoints(gctx, rampDone, interval, cancel)
		})
	}
	return g.Wait()
}

func (c *Controller) checkpoints(ctx context.Context, done <-chan struct{}, interval time.Duration, abort context.CancelFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
		}

		verdict, err := threshold.Checkpoint(c.cfg.Thresholds, c.agg.Snapshot(), c.agg.Duration())
		if err != nil {
			return err
		}
		if !verdict.Passed {
			for _, v := range verdict.Violations() {
				c.log.WithFields(logrus.Fields{
					"threshold": v.Name,
					"observed":  v.Observed,
				}).Warn("threshold crossed, aborting run")
			}
			c.abortedByThreshold.Store(true)
			abort()
			return nil
		}
	}
}

// drain stops every VU, waits up to gracefulStop for current iterations,
// then aborts whatever is still in flight.
func (c *Controller) drain() {
	c.coord.StopAll()
	grace := c.cfg.Execution.GracefulStop
	if !c.coord.WaitTimeout(grace) {
		c.log.WithFields(logrus.Fields{
			"graceful_stop": grace.String(),
			"active_vus":    c.coord.ActiveVUs(),
		}).Warn("graceful stop expired, aborting in-flight requests")
		c.coord.Abort()
		c.coord.Wait()
	}
	c.coord.Abort()
	c.agg.Close()
}

func (c *Controller) fail(rep *Report, err error) (*Report, error) {
	if terr := c.transition(StateFailed); terr != nil {
		c.log.WithError(terr).Error("cannot mark run failed")
	}
	c.agg.Close()
	rep.State = StateFailed
	rep.Snapshot = c.agg.Snapshot()
	c.finish(rep)
	return rep, err
}

func (c *Controller) finish(rep *Report) {
	rep.Finished = c.clock.Now()
	rep.PeakVUs = c.coord.Peak()
	rep.AbortedByThreshold = c.abortedByThreshold.Load()
}
