// Package http runs scenario iterations over pooled HTTP clients.
package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stampede/internal/core"
	"stampede/internal/pool"
	"stampede/internal/ramp"
	"stampede/internal/scenario"
)

// Executor performs one iteration per Run call: pace, select, build,
// acquire, request, check, record. It implements core.Workflow.
type Executor struct {
	Registry    *scenario.Registry
	Pool        *pool.Pool
	RateLimiter *ramp.RateLimiter
	BaseURL     string
	Timeout     time.Duration
	Debug       *DebugLogger
	Log         *logrus.Entry
	// LogEvery logs a progress line on every Nth iteration of each VU.
	// Zero disables it.
	LogEvery int
}

// Run executes one iteration. Only pool.ErrExhausted and scenario build
// failures are returned; request-level failures become samples. When ctx
// is cancelled mid-request the sample is marked Aborted.
func (e *Executor) Run(ctx context.Context, vu *core.VU, rep core.Reporter) error {
	if e.RateLimiter != nil {
		if err := e.RateLimiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	def := e.Registry.Select(vu.Rand)
	req, err := def.Build(scenario.BuildContext{VU: vu, BaseURL: e.BaseURL})
	if err != nil {
		return fmt.Errorf("vu %d: %w", vu.ID, err)
	}

	sample := core.Sample{
		VU:        vu.ID,
		Iteration: vu.Iteration,
		Timestamp: time.Now(),
		Scenario:  def.Name,
		Method:    req.Method,
		URL:       req.URL,
	}

	start := time.Now()
	h, err := e.Pool.Acquire(ctx)
	if err != nil {
		// No request went out, so the sample stays out of the http_* series.
		sample.Method = ""
		sample.Latency = time.Since(start)
		sample.PoolWait = sample.Latency
		sample.Error = err.Error()
		sample.Checks = failAll(def.Checks)
		if ctx.Err() != nil {
			sample.Aborted = true
			rep.Record(sample)
			return nil
		}
		rep.Record(sample)
		if errors.Is(err, pool.ErrExhausted) {
			return fmt.Errorf("vu %d: %w", vu.ID, err)
		}
		return nil
	}
	defer e.Pool.Release(h)
	sample.PoolWait = time.Since(start)
	e.Debug.LogAcquire(vu.ID, def.Name, h.ID(), sample.PoolWait)

	reqCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	ex, err := do(reqCtx, h.Client, req, e.Debug, vu.ID, def.Name)
	sample.Latency = time.Since(start)
	sample.BytesSent = ex.bytesSent
	sample.BytesRecv = ex.bytesRecv

	if err != nil {
		sample.StatusCode = core.StatusTransportError
		sample.Error = err.Error()
		sample.Checks = failAll(def.Checks)
		sample.Aborted = ctx.Err() != nil
		h.MarkBroken()
	} else {
		sample.StatusCode = ex.resp.StatusCode
		sample.RequestOK = def.StatusExpected(ex.resp.StatusCode)
		if !sample.RequestOK {
			sample.Error = fmt.Sprintf("unexpected status %d", ex.resp.StatusCode)
		}
		sample.Checks = runChecks(def.Checks, ex.resp)
		sample.Success = sample.RequestOK && allPassed(sample.Checks)
	}

	rep.Record(sample)
	e.logProgress(sample)
	return nil
}

func (e *Executor) logProgress(s core.Sample) {
	if e.Log == nil || e.LogEvery <= 0 || s.Iteration%e.LogEvery != 0 {
		return
	}
	e.Log.WithFields(logrus.Fields{
		"vu":        s.VU,
		"iteration": s.Iteration,
		"scenario":  s.Scenario,
		"status":    s.StatusCode,
	}).Info("iteration")
}

func runChecks(checks []scenario.Check, resp *scenario.Response) []core.CheckResult {
	if len(checks) == 0 {
		return nil
	}
	results := make([]core.CheckResult, len(checks))
	for i, c := range checks {
		results[i] = core.CheckResult{Name: c.Name, Passed: c.Predicate(resp)}
	}
	return results
}

// failAll marks every check failed when there is no response to inspect.
func failAll(checks []scenario.Check) []core.CheckResult {
	if len(checks) == 0 {
		return nil
	}
	results := make([]core.CheckResult, len(checks))
	for i, c := range checks {
		results[i] = core.CheckResult{Name: c.Name}
	}
	return results
}

func allPassed(results []core.CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
