package device

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/policy"
	"beaconrig/internal/preamble"
)

type edge struct {
	line LineID
	high bool
	at   time.Duration
}

type rig3 struct {
	clock    *SimClock
	dc       *Context
	edges    []edge
	payloads []string
}

func newRig(t *testing.T) *rig3 {
	t.Helper()
	r := &rig3{clock: NewSimClock(5 * time.Second)}
	sink := EdgeFunc(func(line LineID, high bool, at time.Duration) {
		r.edges = append(r.edges, edge{line, high, at})
	})
	r.dc = &Context{
		Clock:    r.clock,
		Boundary: NewWireLine(LineBoundary, r.clock, sink),
		Pulse:    NewWireLine(LinePulse, r.clock, sink),
		Radio: RadioFunc(func(payload string, at time.Duration) error {
			r.payloads = append(r.payloads, payload)
			return nil
		}),
		Logger: internal.NewLoggerTo(&bytes.Buffer{}, internal.LogLevelDebug),
	}
	return r
}

// decode replays the recorded edges the way a listening node would
func (r *rig3) decode(w preamble.Widths) (preamble.Result, int) {
	dec := preamble.NewDecoder(w, 0)
	var rise time.Duration
	open := false
	ticks := 0
	var res preamble.Result
	for _, e := range r.edges {
		switch {
		case e.line == LineBoundary && e.high:
			res, open = dec.Finish(), true
		case e.line == LineBoundary && !e.high:
			open = false
		case e.line == LinePulse && e.high:
			rise = e.at
		case e.line == LinePulse && !e.high:
			if open {
				ticks++
			} else {
				dec.Pulse(e.at - rise)
			}
		}
	}
	return res, ticks
}

func TestTickBeforePreambleIsRefused(t *testing.T) {
	r := newRig(t)
	em, err := NewEmitter(r.dc, rig.PreambleStructured, preamble.DefaultWidths())
	require.NoError(t, err)

	assert.ErrorIs(t, em.Tick(context.Background()), core.ErrPreambleIncomplete)
	assert.ErrorIs(t, em.EndTrial(), core.ErrTrialNotOpen)
	assert.Empty(t, r.edges, "refused tick must not touch the lines")

	require.NoError(t, em.BeginTrial(context.Background(), preamble.Record{ConditionID: 2, Repeat: 1}))
	require.NoError(t, em.Tick(context.Background()))
	require.NoError(t, em.EndTrial())
	assert.ErrorIs(t, em.Tick(context.Background()), core.ErrPreambleIncomplete)

	res, ticks := r.decode(preamble.DefaultWidths())
	assert.Equal(t, rig.PreambleOK, res.Status)
	assert.Equal(t, 2, res.ConditionID)
	assert.Equal(t, 1, res.Repeat)
	assert.Equal(t, 1, ticks)
}

func TestFixedRunIsDriftFreeUnderSuspension(t *testing.T) {
	r := newRig(t)
	rng := rand.New(rand.NewSource(7))
	r.clock.Oversleep = func() time.Duration {
		if !r.dc.Boundary.High() {
			return 0
		}
		return time.Duration(rng.Intn(7000)) * time.Microsecond
	}
	runner, err := NewRunner(r.dc, RunnerConfig{
		Mode:            rig.ModeFixed,
		GridMS:          100,
		Duration:        60 * time.Second,
		FixedIntervalMS: 100,
		Preamble:        rig.PreambleStructured,
		Record:          preamble.Record{ConditionID: 1},
	}, nil)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), TraceSource{})
	require.NoError(t, err)
	require.Len(t, res.Transmissions, 600)
	for k, tx := range res.Transmissions {
		assert.Equal(t, k, tx.StepIdx)
		lag := float64(tx.At) - float64(k*100)
		assert.GreaterOrEqual(t, lag, 0.0)
		assert.Less(t, lag, 10.0, "deadline %d drifted by %.3f ms", k, lag)
	}
	assert.Equal(t, 600, res.Ticks)

	decoded, ticks := r.decode(preamble.DefaultWidths())
	assert.Equal(t, 1, decoded.ConditionID)
	assert.Equal(t, 600, ticks)
	assert.Equal(t, "0_F-100", r.payloads[0])
}

func TestAdaptiveRunMatchesReplay(t *testing.T) {
	samples := make([]rig.SignalSample, 600)
	for i := range samples {
		u := 0.05
		if (i/120)%2 == 1 {
			u = 0.6
		}
		samples[i] = rig.SignalSample{StepIdx: i, UEMA: u, CCSEMA: 0.05, Label: "4-01"}
	}
	cfg := policy.DefaultConfig()
	cfg.MinStay = time.Second

	r := newRig(t)
	ctrl, err := policy.NewController(cfg, r.dc.Logger)
	require.NoError(t, err)
	runner, err := NewRunner(r.dc, RunnerConfig{
		Mode:     rig.ModePolicy,
		GridMS:   100,
		Duration: 60 * time.Second,
		Preamble: rig.PreambleCount,
		Record:   preamble.Record{ConditionID: 3},
	}, ctrl)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), TraceSource{Samples: samples})
	require.NoError(t, err)

	sched, err := policy.Replay(cfg, samples, 100)
	require.NoError(t, err)
	steps := make([]int, len(res.Transmissions))
	for i, tx := range res.Transmissions {
		steps[i] = tx.StepIdx
		tag, err := rig.ParseTag(tx.Tag)
		require.NoError(t, err)
		assert.Equal(t, tx.StepIdx, tag.StepIdx)
		assert.Equal(t, sched.IntervalAt(tx.StepIdx), tag.IntervalMS)
	}
	assert.Equal(t, sched.TxSteps, steps)
	assert.Equal(t, len(sched.Transitions), len(res.Transitions))

	decoded, ticks := r.decode(preamble.DefaultWidths())
	assert.Equal(t, rig.PreambleCount, decoded.Mode)
	assert.Equal(t, 3, decoded.ConditionID)
	assert.Equal(t, len(res.Transmissions), ticks)
}

func TestRunHonoursCancellation(t *testing.T) {
	r := newRig(t)
	runner, err := NewRunner(r.dc, RunnerConfig{
		Mode: rig.ModeFixed, GridMS: 100, Duration: time.Minute, FixedIntervalMS: 500,
		Preamble: rig.PreambleStructured, Record: preamble.Record{ConditionID: 1},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.Run(ctx, TraceSource{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.dc.Boundary.High())
}

func TestContextValidation(t *testing.T) {
	var nilCtx *Context
	assert.Error(t, nilCtx.Validate())
	r := newRig(t)
	r.dc.Radio = nil
	assert.Error(t, r.dc.Validate())

	r = newRig(t)
	_, err := NewRunner(r.dc, RunnerConfig{Mode: rig.ModePolicy, GridMS: 100, Duration: time.Second}, nil)
	assert.Error(t, err)
}

func TestSimClockNeverGoesBack(t *testing.T) {
	c := NewSimClock(time.Second)
	require.NoError(t, c.SleepUntil(context.Background(), 500*time.Millisecond))
	assert.Equal(t, time.Second, c.Now())
	c.Advance(time.Millisecond)
	assert.Equal(t, 1001*time.Millisecond, c.Now())
}

func TestSimClockReportsForwardJumps(t *testing.T) {
	c := NewSimClock(0)
	var jumps [][2]time.Duration
	c.OnAdvance = func(from, to time.Duration) { jumps = append(jumps, [2]time.Duration{from, to}) }

	require.NoError(t, c.SleepUntil(context.Background(), 100*time.Millisecond))
	require.NoError(t, c.SleepUntil(context.Background(), 50*time.Millisecond))
	c.Advance(time.Millisecond)

	assert.Equal(t, [][2]time.Duration{
		{0, 100 * time.Millisecond},
		{100 * time.Millisecond, 101 * time.Millisecond},
	}, jumps)
}
