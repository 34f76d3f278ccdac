package ramp

import (
	"testing"
	"time"

	"stampede/internal/config"
	"stampede/internal/core"
)

func votingStages() []config.Stage {
	return []config.Stage{
		{Duration: 2 * time.Minute, Target: 20},
		{Duration: 5 * time.Minute, Target: 50},
		{Duration: 2 * time.Minute, Target: 100},
		{Duration: 10 * time.Minute, Target: 100},
		{Duration: 3 * time.Minute, Target: 50},
		{Duration: 2 * time.Minute, Target: 0},
	}
}

func TestStageManager_LinearRamp(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	sm := NewStageManagerWithClock(votingStages(), 0, clock)

	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{time.Minute, 10},
		{2 * time.Minute, 20},
		{4*time.Minute + 30*time.Second, 35},
		{7 * time.Minute, 50},
		{8 * time.Minute, 75},
		{12 * time.Minute, 100},
		{19*time.Minute + 90*time.Second, 75},
		{23 * time.Minute, 25},
		{24 * time.Minute, 0},
	}

	for _, tt := range tests {
		clock.Set(time.Unix(0, 0).Add(tt.at))
		if got := sm.TargetVUs(); got != tt.want {
			t.Errorf("at %v: expected %d VUs, got %d", tt.at, tt.want, got)
		}
	}
}

func TestStageManager_StartVUs(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	sm := NewStageManagerWithClock([]config.Stage{{Duration: 10 * time.Second, Target: 0}}, 10, clock)

	if sm.TargetVUs() != 10 {
		t.Errorf("expected ramp to start at 10, got %d", sm.TargetVUs())
	}
	clock.Advance(5 * time.Second)
	if sm.TargetVUs() != 5 {
		t.Errorf("expected 5 at midpoint, got %d", sm.TargetVUs())
	}
}

func TestStageManager_ZeroDurationJump(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	stages := []config.Stage{
		{Name: "jump", Duration: 0, Target: 10},
		{Name: "constant", Duration: 30 * time.Second, Target: 10},
	}
	sm := NewStageManagerWithClock(stages, 0, clock)

	if sm.TargetVUs() != 10 {
		t.Errorf("expected jump to 10 VUs, got %d", sm.TargetVUs())
	}
	if stage := sm.CurrentStage(); stage == nil || stage.Name != "constant" {
		t.Errorf("expected current stage 'constant', got %v", stage)
	}
	clock.Advance(30 * time.Second)
	if !sm.IsComplete() {
		t.Error("expected profile to be complete")
	}
}

func TestStageManager_AllZeroDuration(t *testing.T) {
	sm := NewStageManagerWithClock([]config.Stage{{Target: 5}}, 0, core.NewFakeClock(time.Unix(0, 0)))
	if !sm.IsComplete() {
		t.Error("expected zero-length profile to be complete immediately")
	}
	if sm.TargetVUs() != 0 {
		t.Errorf("expected 0 VUs, got %d", sm.TargetVUs())
	}
}

func TestStageManager_NeverExceedsMaxTarget(t *testing.T) {
	sm := NewStageManagerWithClock(votingStages(), 0, core.NewFakeClock(time.Unix(0, 0)))
	peak := sm.MaxTarget()
	if peak != 100 {
		t.Fatalf("expected max target 100, got %d", peak)
	}

	for at := time.Duration(0); at <= sm.TotalDuration(); at += 250 * time.Millisecond {
		if got := sm.TargetAt(at); got < 0 || got > peak {
			t.Fatalf("at %v: target %d outside [0, %d]", at, got, peak)
		}
	}
}

func TestStageManager_CurrentStageIndex(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	stages := []config.Stage{
		{Name: "first", Duration: 50 * time.Millisecond, Target: 5},
		{Name: "second", Duration: 50 * time.Millisecond, Target: 10},
	}
	sm := NewStageManagerWithClock(stages, 0, clock)

	if sm.CurrentStageIndex() != 0 {
		t.Errorf("expected stage index 0, got %d", sm.CurrentStageIndex())
	}
	clock.Advance(60 * time.Millisecond)
	if sm.CurrentStageIndex() != 1 {
		t.Errorf("expected stage index 1, got %d", sm.CurrentStageIndex())
	}
	clock.Advance(60 * time.Millisecond)
	if sm.CurrentStageIndex() != 2 {
		t.Errorf("expected stage index 2 (complete), got %d", sm.CurrentStageIndex())
	}
	if sm.CurrentStage() != nil {
		t.Error("expected no current stage after completion")
	}
}

func TestStageManager_RPS(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	stages := []config.Stage{
		{Duration: time.Second, Target: 5, RPS: 100},
		{Duration: time.Second, Target: 5},
	}
	sm := NewStageManagerWithClock(stages, 0, clock)

	if sm.CurrentRPS() != 100 {
		t.Errorf("expected RPS 100, got %d", sm.CurrentRPS())
	}
	clock.Advance(time.Second)
	if sm.CurrentRPS() != 0 {
		t.Errorf("expected no RPS cap in second stage, got %d", sm.CurrentRPS())
	}
}
