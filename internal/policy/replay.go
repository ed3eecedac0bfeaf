package policy

import (
	"fmt"
	"time"

	"beaconrig/domain/rig"
	"beaconrig/internal"
)

// Schedule is the transmission plan a controller produces for a trace
type Schedule struct {
	GridMS         int          `json:"grid_ms"`
	IntervalByStep []int        `json:"interval_by_step"`
	TxSteps        []int        `json:"tx_steps"`
	Transitions    []Transition `json:"transitions"`
}

// IntervalAt returns the interval in force at step, 0 when out of range
func (s Schedule) IntervalAt(step int) int {
	if step < 0 || step >= len(s.IntervalByStep) {
		return 0
	}
	return s.IntervalByStep[step]
}

// Replay runs the frozen controller over a recorded trace. Sample i is
// processed at i·grid; a transmission is due at step 0 and then every
// current interval, with the signal tick handled before the deadline of the
// same instant.
func Replay(cfg Config, samples []rig.SignalSample, gridMS int) (Schedule, error) {
	if gridMS <= 0 {
		return Schedule{}, fmt.Errorf("replay grid must be positive, got %d", gridMS)
	}
	cfg.GridMS = gridMS
	ctrl, err := NewController(cfg, internal.DefaultLogger.WithComponent("Replay"))
	if err != nil {
		return Schedule{}, err
	}

	sched := Schedule{GridMS: gridMS, IntervalByStep: make([]int, len(samples))}
	grid := time.Duration(gridMS) * time.Millisecond
	var next time.Duration
	for i, sample := range samples {
		now := time.Duration(i) * grid
		d := ctrl.Step(sample, now)
		sched.IntervalByStep[i] = d.IntervalMS
		if now >= next {
			sched.TxSteps = append(sched.TxSteps, i)
			next += time.Duration(d.IntervalMS) * time.Millisecond
		}
	}
	sched.Transitions = ctrl.Transitions()
	return sched, nil
}
