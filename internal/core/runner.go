package core

import (
	"context"
	"errors"
)

// ErrMaxIterationsReached indicates the runner hit its iteration limit.
var ErrMaxIterationsReached = errors.New("max iterations reached")

// NullReporter discards all samples (used during warmup).
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Record(Sample) {}

// RunnerConfig controls execution behavior.
type RunnerConfig struct {
	MaxIterations int // 0 = unlimited
	WarmupIters   int // iterations before metrics count (per-VU)
}

// Runner controls iteration-level workflow execution.
// A Runner is NOT safe for concurrent use; each VU goroutine must have its own Runner.
type Runner struct {
	workflow Workflow
	reporter Reporter
	vu       *VU
	config   RunnerConfig
}

// NewRunner creates a Runner for a single VU.
func NewRunner(workflow Workflow, reporter Reporter, vu *VU, config RunnerConfig) *Runner {
	return &Runner{
		workflow: workflow,
		reporter: reporter,
		vu:       vu,
		config:   config,
	}
}

// RunIteration executes one complete workflow iteration.
// Returns nil on success, ErrMaxIterationsReached when limit hit, or workflow error.
func (r *Runner) RunIteration(ctx context.Context) error {
	if r.config.MaxIterations > 0 && r.vu.Iteration >= r.config.MaxIterations {
		return ErrMaxIterationsReached
	}

	rep := r.reporter
	if r.IsWarmup() {
		rep = NullReporter
	}

	err := r.workflow.Run(ctx, r.vu, rep)
	r.vu.Iteration++
	return err
}

// Iteration returns the number of completed iterations.
func (r *Runner) Iteration() int {
	return r.vu.Iteration
}

// IsWarmup returns true if still in warmup phase.
func (r *Runner) IsWarmup() bool {
	return r.vu.Iteration < r.config.WarmupIters
}

// VU returns the runner's virtual user.
func (r *Runner) VU() *VU {
	return r.vu
}
