package device

import (
	"context"
	"fmt"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal/preamble"
)

type emitterState int

const (
	emitterIdle emitterState = iota
	emitterPreamble
	emitterOpen
)

// Emitter drives the boundary and pulse lines
type Emitter struct {
	dc     *Context
	mode   rig.PreambleMode
	widths preamble.Widths
	state  emitterState
	ticks  int
}

// NewEmitter creates an emitter for the given preamble encoding
func NewEmitter(dc *Context, mode rig.PreambleMode, w preamble.Widths) (*Emitter, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if mode != rig.PreambleCount && mode != rig.PreambleStructured {
		return nil, fmt.Errorf("unknown preamble mode %q", mode)
	}
	return &Emitter{dc: dc, mode: mode, widths: w}, nil
}

// BeginTrial sends the preamble and then raises the boundary line. Tick
// counting is only possible after this returns.
func (e *Emitter) BeginTrial(ctx context.Context, rec preamble.Record) error {
	if e.state != emitterIdle {
		return fmt.Errorf("trial already started")
	}
	plan, err := preamble.Plan(e.mode, rec, e.widths)
	if err != nil {
		return err
	}
	e.state = emitterPreamble
	for _, width := range plan {
		if err := e.pulse(ctx, width); err != nil {
			e.state = emitterIdle
			return err
		}
	}
	e.dc.Boundary.Set(true)
	e.state = emitterOpen
	e.ticks = 0
	e.dc.Logger.Info("trial open: cond=%d repeat=%d preamble=%s (%d pulses)", rec.ConditionID, rec.Repeat, e.mode, len(plan))
	return nil
}

// Tick marks one transmission for the power logger
func (e *Emitter) Tick(ctx context.Context) error {
	if e.state != emitterOpen {
		return core.ErrPreambleIncomplete
	}
	if err := e.pulse(ctx, e.widths.Narrow); err != nil {
		return err
	}
	e.ticks++
	return nil
}

// EndTrial lowers the boundary line
func (e *Emitter) EndTrial() error {
	if e.state != emitterOpen {
		return core.ErrTrialNotOpen
	}
	e.dc.Boundary.Set(false)
	e.state = emitterIdle
	e.dc.Logger.Info("trial closed after %d ticks", e.ticks)
	return nil
}

// Ticks returns the pulses emitted in the current or last trial
func (e *Emitter) Ticks() int { return e.ticks }

// Open reports whether the boundary is raised
func (e *Emitter) Open() bool { return e.state == emitterOpen }

func (e *Emitter) pulse(ctx context.Context, width time.Duration) error {
	clock := e.dc.Clock
	e.dc.Pulse.Set(true)
	if err := clock.SleepUntil(ctx, clock.Now()+width); err != nil {
		e.dc.Pulse.Set(false)
		return err
	}
	e.dc.Pulse.Set(false)
	if e.state == emitterPreamble {
		return clock.SleepUntil(ctx, clock.Now()+e.widths.Gap)
	}
	return nil
}
