package device

import (
	"context"
	"fmt"
	"time"

	"beaconrig/domain/rig"
	"beaconrig/internal/policy"
	"beaconrig/internal/preamble"
)

// SignalSource yields the smoothed sample for a grid step; ok is false when
// the source is silent
type SignalSource interface {
	Sample(step int) (sample rig.SignalSample, ok bool)
}

// TraceSource replays a recorded trace; steps past the end are silent
type TraceSource struct {
	Samples []rig.SignalSample
}

func (s TraceSource) Sample(step int) (rig.SignalSample, bool) {
	if step < 0 || step >= len(s.Samples) {
		return rig.SignalSample{}, false
	}
	return s.Samples[step], true
}

// RunnerConfig describes one trial on the device
type RunnerConfig struct {
	Mode            rig.Mode
	GridMS          int
	Duration        time.Duration
	FixedIntervalMS int
	Preamble        rig.PreambleMode
	Widths          preamble.Widths
	Record          preamble.Record
}

// RunResult is what the device did during one trial
type RunResult struct {
	Origin        time.Duration           `json:"origin"`
	Transmissions []rig.TransmissionEvent `json:"transmissions"`
	Transitions   []policy.Transition     `json:"transitions"`
	Ticks         int                     `json:"ticks"`
}

// Runner is the deadline-driven event loop of the controller node. Signal
// ticks and transmission deadlines are merged in time order; a signal tick is
// handled before a deadline at the same instant.
type Runner struct {
	dc   *Context
	cfg  RunnerConfig
	ctrl *policy.Controller
}

// NewRunner validates the trial setup. ctrl is required for adaptive modes
// and ignored for fixed ones.
func NewRunner(dc *Context, cfg RunnerConfig, ctrl *policy.Controller) (*Runner, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	if cfg.GridMS <= 0 || cfg.Duration <= 0 {
		return nil, fmt.Errorf("grid and duration must be positive")
	}
	if cfg.Mode.Adaptive() && ctrl == nil {
		return nil, fmt.Errorf("mode %s needs a controller", cfg.Mode)
	}
	if cfg.Mode == rig.ModeFixed && cfg.FixedIntervalMS <= 0 {
		return nil, fmt.Errorf("fixed mode needs an interval")
	}
	if cfg.Widths == (preamble.Widths{}) {
		cfg.Widths = preamble.DefaultWidths()
	}
	return &Runner{dc: dc, cfg: cfg, ctrl: ctrl}, nil
}

// Run executes one trial: preamble, steady state until Duration, boundary fall
func (r *Runner) Run(ctx context.Context, src SignalSource) (*RunResult, error) {
	lg := r.dc.Logger.WithComponent("Runner")
	emitter, err := NewEmitter(r.dc, r.cfg.Preamble, r.cfg.Widths)
	if err != nil {
		return nil, err
	}
	sched, err := NewScheduler(r.dc, emitter, r.cfg.Mode, r.cfg.GridMS)
	if err != nil {
		return nil, err
	}
	if err := emitter.BeginTrial(ctx, r.cfg.Record); err != nil {
		return nil, err
	}
	origin := r.dc.Clock.Now()
	grid := time.Duration(r.cfg.GridMS) * time.Millisecond

	var gridNext time.Duration
	label := ""
	for {
		t := gridNext
		if sched.Next() < t {
			t = sched.Next()
		}
		if t >= r.cfg.Duration {
			break
		}
		if err := r.dc.Clock.SleepUntil(ctx, origin+t); err != nil {
			return nil, err
		}
		if gridNext == t {
			step := int(t / grid)
			sample, ok := src.Sample(step)
			if ok {
				if sample.Label != "" {
					label = sample.Label
				}
				if r.ctrl != nil {
					r.ctrl.Step(sample, t)
				}
			} else if r.ctrl != nil {
				r.ctrl.Silence(t)
			}
			gridNext += grid
		}
		if sched.Due(t) {
			if _, err := sched.Fire(ctx, origin, label, r.interval()); err != nil {
				return nil, err
			}
		}
	}
	if err := r.dc.Clock.SleepUntil(ctx, origin+r.cfg.Duration); err != nil {
		return nil, err
	}
	if err := emitter.EndTrial(); err != nil {
		return nil, err
	}

	res := &RunResult{Origin: origin, Transmissions: sched.Events(), Ticks: emitter.Ticks()}
	if r.ctrl != nil {
		res.Transitions = r.ctrl.Transitions()
	}
	lg.Info("trial done: %d transmissions, %d transitions", len(res.Transmissions), len(res.Transitions))
	return res, nil
}

func (r *Runner) interval() int {
	if r.ctrl == nil {
		return r.cfg.FixedIntervalMS
	}
	return r.ctrl.IntervalMS()
}
