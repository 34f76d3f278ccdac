// Package ramp turns a stage profile into VU targets and request pacing.
package ramp

import (
	"time"

	"stampede/internal/config"
	"stampede/internal/core"
)

// StageManager maps elapsed run time onto the stage profile.
type StageManager struct {
	stages    []config.Stage
	startVUs  int
	total     time.Duration
	startTime time.Time
	clock     core.Clock
}

// NewStageManagerWithClock creates a StageManager that reads time from clock.
func NewStageManagerWithClock(stages []config.Stage, startVUs int, clock core.Clock) *StageManager {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return &StageManager{
		stages:    stages,
		startVUs:  startVUs,
		total:     total,
		startTime: clock.Now(),
		clock:     clock,
	}
}

func (sm *StageManager) Elapsed() time.Duration {
	return sm.clock.Since(sm.startTime)
}

// TotalDuration is the sum of all stage durations.
func (sm *StageManager) TotalDuration() time.Duration {
	return sm.total
}

// CurrentStageIndex returns len(stages) once the profile is complete.
// Zero-duration stages are never current; they only move the baseline.
func (sm *StageManager) CurrentStageIndex() int {
	return sm.stageIndexAt(sm.Elapsed())
}

func (sm *StageManager) stageIndexAt(elapsed time.Duration) int {
	var cumulative time.Duration
	for i, s := range sm.stages {
		cumulative += s.Duration
		if elapsed < cumulative {
			return i
		}
	}
	return len(sm.stages)
}

func (sm *StageManager) CurrentStage() *config.Stage {
	idx := sm.CurrentStageIndex()
	if idx >= len(sm.stages) {
		return nil
	}
	return &sm.stages[idx]
}

func (sm *StageManager) IsComplete() bool {
	return sm.Elapsed() >= sm.total
}

// TargetVUs returns the VU target at the current elapsed time.
func (sm *StageManager) TargetVUs() int {
	return sm.TargetAt(sm.Elapsed())
}

// TargetAt interpolates linearly between the previous stage's target and
// the current one. It returns 0 once the profile is complete.
func (sm *StageManager) TargetAt(elapsed time.Duration) int {
	if elapsed >= sm.total {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	from := sm.startVUs
	var stageStart time.Duration
	for _, s := range sm.stages {
		if s.Duration == 0 {
			from = s.Target
			continue
		}
		if elapsed < stageStart+s.Duration {
			progress := float64(elapsed-stageStart) / float64(s.Duration)
			delta := float64(s.Target - from)
			return from + int(delta*progress)
		}
		stageStart += s.Duration
		from = s.Target
	}
	return 0
}

// MaxTarget returns the highest target the profile can produce.
func (sm *StageManager) MaxTarget() int {
	peak := sm.startVUs
	for _, s := range sm.stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

// CurrentRPS returns the request rate cap of the active stage, 0 for none.
func (sm *StageManager) CurrentRPS() int {
	stage := sm.CurrentStage()
	if stage == nil {
		return 0
	}
	return stage.RPS
}
