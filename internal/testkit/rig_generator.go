package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"beaconrig/adapters/logs"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/device"
	"beaconrig/internal/policy"
	"beaconrig/internal/powerlog"
	"beaconrig/internal/preamble"
	"beaconrig/internal/receiver"
)

// LinkConfig models the radio path between transmitter and receiver
type LinkConfig struct {
	LossProb float64 `json:"loss_prob"`
	DupProb  float64 `json:"dup_prob"`
	// LatencyMS is the constant delay from transmit to receiver timestamp
	LatencyMS float64 `json:"latency_ms"`
	JitterMS  float64 `json:"jitter_ms"`
	RSSIMean  int     `json:"rssi_mean"`
}

// RigSimConfig configures the synthetic rig
type RigSimConfig struct {
	GridMS      int              `json:"grid_ms"`
	Duration    time.Duration    `json:"duration"`
	Preamble    rig.PreambleMode `json:"preamble"`
	Volts       float64          `json:"volts"`
	IdleMA      float64          `json:"idle_ma"`
	TxMA        float64          `json:"tx_ma"`
	SampleEvery time.Duration    `json:"sample_every"`
	Link        LinkConfig       `json:"link"`
	Firmware    string           `json:"firmware"`
	Seed        int64            `json:"seed"`
}

// DefaultRigSimConfig returns a clean 60 s trial setup
func DefaultRigSimConfig() RigSimConfig {
	return RigSimConfig{
		GridMS:      100,
		Duration:    60 * time.Second,
		Preamble:    rig.PreambleStructured,
		Volts:       3.3,
		IdleMA:      0.5,
		TxMA:        8,
		SampleEvery: 10 * time.Millisecond,
		Link:        LinkConfig{RSSIMean: -62},
		Firmware:    "sim-1",
		Seed:        42,
	}
}

// TrialPlan is one trial to run on the rig
type TrialPlan struct {
	Condition rig.Condition
	Repeat    int
	// Policy is required for adaptive conditions
	Policy  *policy.Config
	Samples []rig.SignalSample
	// CorruptPreamble drops one preamble pulse on the power logger's input
	CorruptPreamble bool
	// CutPower loses the power logger footer
	CutPower bool
}

// RigSimulator drives a controller node, a power logger and a receiver over
// one simulated clock. Nodes only see line edges and radio payloads.
type RigSimulator struct {
	cfg    RigSimConfig
	conds  *rig.ConditionSet
	rng    *rand.Rand
	logger *internal.Logger

	clock  *device.SimClock
	dc     *device.Context
	rx     *receiver.Node
	pw     *powerlog.Node
	filter *edgeFilter

	nextSample  time.Duration
	txSinceLast int
	results     []*device.RunResult
}

// NewRigSimulator wires the three nodes. Nil stores keep logs in memory only.
func NewRigSimulator(cfg RigSimConfig, conds *rig.ConditionSet, rxStore receiver.Store, pwStore powerlog.Store, lg *internal.Logger) (*RigSimulator, error) {
	if cfg.GridMS <= 0 || cfg.Duration <= 0 || cfg.SampleEvery <= 0 {
		return nil, fmt.Errorf("grid, duration and sample period must be positive")
	}
	if conds == nil || conds.Len() == 0 {
		return nil, fmt.Errorf("simulator needs at least one condition")
	}
	if lg == nil {
		lg = internal.DefaultLogger
	}
	s := &RigSimulator{
		cfg:    cfg,
		conds:  conds,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: lg.WithComponent("RigSim"),
		clock:  device.NewSimClock(time.Second),
	}
	s.rx = receiver.NewNode(receiver.Config{
		Firmware:          cfg.Firmware,
		ScanDuty:          100,
		DuplicatesAllowed: true,
		Foreground:        true,
		Conditions:        conds,
	}, rxStore, lg)
	s.pw = powerlog.NewNode(powerlog.Config{Conditions: conds, PlannedDuration: cfg.Duration}, pwStore, lg)
	s.filter = &edgeFilter{next: s.pw}

	s.dc = &device.Context{
		Clock:    s.clock,
		Boundary: device.NewWireLine(device.LineBoundary, s.clock, s.filter, s.rx),
		Pulse:    device.NewWireLine(device.LinePulse, s.clock, s.filter, s.rx),
		Radio:    device.RadioFunc(s.advertise),
		Logger:   lg,
	}
	s.clock.OnAdvance = s.meter
	return s, nil
}

// advertise delivers one payload to the receiver through the lossy link
func (s *RigSimulator) advertise(payload string, at time.Duration) error {
	s.txSinceLast++
	link := s.cfg.Link
	if s.rng.Float64() < link.LossProb {
		return nil
	}
	copies := 1
	if s.rng.Float64() < link.DupProb {
		copies++
	}
	for i := 0; i < copies; i++ {
		delay := link.LatencyMS + math.Abs(s.rng.NormFloat64())*link.JitterMS
		rssi := link.RSSIMean + s.rng.Intn(7) - 3
		s.rx.OnAdvert(payload, &rssi, "sim-tx", at+msDuration(delay))
	}
	return nil
}

// meter feeds the power logger at a fixed sampling period
func (s *RigSimulator) meter(from, to time.Duration) {
	if s.nextSample <= from {
		s.nextSample = from + s.cfg.SampleEvery
	}
	for ; s.nextSample <= to; s.nextSample += s.cfg.SampleEvery {
		ma := s.cfg.IdleMA + s.cfg.TxMA*float64(s.txSinceLast) + s.rng.NormFloat64()*0.01
		s.txSinceLast = 0
		s.pw.Sample(s.nextSample, s.cfg.Volts, ma)
	}
}

// RunTrial runs one trial and returns what the controller node did
func (s *RigSimulator) RunTrial(ctx context.Context, plan TrialPlan) (*device.RunResult, error) {
	cond := plan.Condition
	var ctrl *policy.Controller
	if cond.Mode.Adaptive() {
		if plan.Policy == nil {
			return nil, fmt.Errorf("condition %s is adaptive but has no policy", cond.Name)
		}
		pc := *plan.Policy
		pc.Mode = cond.Mode
		pc.GridMS = s.cfg.GridMS
		if allowed := cond.AllowedIntervals(); len(allowed) > 0 {
			pc.Allowed = allowed
		}
		var err error
		if ctrl, err = policy.NewController(pc, s.logger); err != nil {
			return nil, err
		}
	}

	runner, err := device.NewRunner(s.dc, device.RunnerConfig{
		Mode:            cond.Mode,
		GridMS:          s.cfg.GridMS,
		Duration:        s.cfg.Duration,
		FixedIntervalMS: cond.IntervalMS,
		Preamble:        s.cfg.Preamble,
		Record:          preamble.Record{ConditionID: uint8(cond.ID), Repeat: uint8(plan.Repeat)},
	}, ctrl)
	if err != nil {
		return nil, err
	}

	s.filter.dropPulses = 0
	if plan.CorruptPreamble {
		s.filter.dropPulses = 1
	}
	s.filter.dropFall = plan.CutPower

	res, err := runner.Run(ctx, device.TraceSource{Samples: plan.Samples})
	if err != nil {
		return nil, err
	}
	if plan.CutPower {
		s.pw.Abort()
	}
	s.nameLogs()

	// idle gap between trials
	s.clock.Advance(time.Second)
	s.results = append(s.results, res)
	s.logger.Info("trial %s r%d: %d transmissions", cond.Name, plan.Repeat, len(res.Transmissions))
	return res, nil
}

// Run executes plans in order
func (s *RigSimulator) Run(ctx context.Context, plans []TrialPlan) error {
	for _, p := range plans {
		if _, err := s.RunTrial(ctx, p); err != nil {
			return fmt.Errorf("trial %s r%d: %w", p.Condition.Name, p.Repeat, err)
		}
	}
	return nil
}

// nameLogs gives in-memory trials the file names a DirStore would use
func (s *RigSimulator) nameLogs() {
	if trials := s.rx.Trials(); len(trials) > 0 {
		t := trials[len(trials)-1]
		if t.Source == "" {
			t.Source = fmt.Sprintf("rx_trial_%03d.csv", len(trials))
		}
	}
	if recs := s.pw.Trials(); len(recs) > 0 {
		r := recs[len(recs)-1]
		if r.Source == "" {
			name := r.Header.Condition
			if name == "" {
				name = "unknown"
			}
			r.Source = fmt.Sprintf("trial_%03d_c%d_%s.csv", len(recs), r.Header.ConditionID, strings.ReplaceAll(name, " ", "_"))
		}
	}
}

// Results returns the controller-side record of every trial
func (s *RigSimulator) Results() []*device.RunResult { return s.results }

// Inputs returns the logs as the reconstruction engine consumes them
func (s *RigSimulator) Inputs() *logs.Inputs {
	return &logs.Inputs{
		Receiver: s.rx.Trials(),
		Power:    s.pw.Trials(),
	}
}

// edgeFilter sits in front of the power logger to inject wiring faults
type edgeFilter struct {
	next       device.EdgeSink
	dropPulses int
	dropFall   bool
	open       bool
}

func (f *edgeFilter) OnEdge(line device.LineID, high bool, at time.Duration) {
	switch line {
	case device.LineBoundary:
		if !high && f.dropFall {
			f.open = false
			return
		}
		f.open = high
	case device.LinePulse:
		if !f.open && f.dropPulses > 0 {
			if !high {
				f.dropPulses--
			}
			return
		}
	}
	f.next.OnEdge(line, high, at)
}

// SquareTrace alternates between a quiet and a busy signal level every
// period steps. Labels carry the truth class as their trailing segment.
func SquareTrace(steps, period int, quiet, busy float64) []rig.SignalSample {
	out := make([]rig.SignalSample, steps)
	for i := range out {
		u, label := quiet, "ctx-0"
		if period > 0 && (i/period)%2 == 1 {
			u, label = busy, "ctx-1"
		}
		out[i] = rig.SignalSample{StepIdx: i, URaw: u, CCSRaw: u / 2, UEMA: u, CCSEMA: u / 2, Label: label}
	}
	return out
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
