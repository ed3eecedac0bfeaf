package device

import (
	"context"
	"fmt"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// Scheduler keeps the transmission deadline. The next deadline is always the
// previous one plus the interval in force when it fired.
type Scheduler struct {
	dc      *Context
	emitter *Emitter
	mode    rig.Mode
	gridMS  int
	next    time.Duration
	lastIdx int
	events  []rig.TransmissionEvent
}

// NewScheduler creates a scheduler whose first deadline is trial time zero
func NewScheduler(dc *Context, emitter *Emitter, mode rig.Mode, gridMS int) (*Scheduler, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	if gridMS <= 0 {
		return nil, fmt.Errorf("grid must be positive, got %d", gridMS)
	}
	return &Scheduler{dc: dc, emitter: emitter, mode: mode, gridMS: gridMS, lastIdx: -1}, nil
}

// Next returns the pending deadline in trial time
func (s *Scheduler) Next() time.Duration { return s.next }

// Due reports whether the deadline has been reached at trial time t
func (s *Scheduler) Due(t time.Duration) bool { return t >= s.next }

// Fire transmits for the pending deadline. origin converts trial time to
// clock time for the radio timestamp.
func (s *Scheduler) Fire(ctx context.Context, origin time.Duration, label string, intervalMS int) (rig.TransmissionEvent, error) {
	if intervalMS <= 0 {
		return rig.TransmissionEvent{}, fmt.Errorf("interval must be positive, got %d", intervalMS)
	}
	deadline := s.next
	step := int(deadline / (time.Duration(s.gridMS) * time.Millisecond))
	if step <= s.lastIdx {
		return rig.TransmissionEvent{}, fmt.Errorf("step index %d not after %d", step, s.lastIdx)
	}
	tag := rig.EncodeTag(step, s.mode, label, intervalMS)
	now := s.dc.Clock.Now()
	if err := s.dc.Radio.Advertise(tag, now); err != nil {
		s.dc.Logger.Warn("advertise %s failed: %v", tag, err)
	}
	if err := s.emitter.Tick(ctx); err != nil {
		return rig.TransmissionEvent{}, err
	}
	ev := rig.TransmissionEvent{
		StepIdx:    step,
		IntervalMS: intervalMS,
		Tag:        tag,
		At:         core.MillisFromDuration(now - origin),
	}
	s.events = append(s.events, ev)
	s.lastIdx = step
	s.next = deadline + time.Duration(intervalMS)*time.Millisecond
	return ev, nil
}

// Events returns the transmissions so far
func (s *Scheduler) Events() []rig.TransmissionEvent { return s.events }
