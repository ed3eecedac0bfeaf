package powerlog

import (
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/device"
	"beaconrig/internal/preamble"
)

// Store opens one log per trial
type Store interface {
	Begin(hdr rig.PowerHeader) (TrialWriter, error)
}

// TrialWriter receives one trial as it happens. A trial that is never
// closed has no footer.
type TrialWriter interface {
	Row(s rig.PowerSample) error
	Close(sum rig.PowerSummary, diag rig.PowerDiag) error
	Abort() error
}

// Config describes the logger's fixed knowledge of the run
type Config struct {
	Widths     preamble.Widths
	Conditions *rig.ConditionSet
	// PlannedDuration is written to the header
	PlannedDuration time.Duration
}

// Node is the power logger. It integrates power and counts ticks from line
// edges only; it never sees controller state.
type Node struct {
	cfg    Config
	store  Store
	logger *internal.Logger

	decoder   *preamble.Decoder
	pulseRise time.Duration
	pulseHigh bool

	open      bool
	start     time.Duration
	lastAt    time.Duration
	hdr       rig.PowerHeader
	out       TrialWriter
	ticks     int
	energyMJ  float64
	sumV      float64
	sumI      float64
	sumP      float64
	samples   int
	completed []*rig.PowerTrialRecord
	current   *rig.PowerTrialRecord
}

// NewNode creates a power logger writing trials to store
func NewNode(cfg Config, store Store, lg *internal.Logger) *Node {
	if cfg.Widths == (preamble.Widths{}) {
		cfg.Widths = preamble.DefaultWidths()
	}
	maxID := 0
	if cfg.Conditions != nil {
		for _, c := range cfg.Conditions.All() {
			if c.ID > maxID {
				maxID = c.ID
			}
		}
	}
	return &Node{
		cfg:     cfg,
		store:   store,
		logger:  lg.WithComponent("PowerLogger"),
		decoder: preamble.NewDecoder(cfg.Widths, maxID),
	}
}

// OnEdge consumes a boundary or pulse edge stamped with the logger's clock
func (n *Node) OnEdge(line device.LineID, high bool, at time.Duration) {
	switch line {
	case device.LineBoundary:
		if high && !n.open {
			n.openTrial(at)
		} else if !high && n.open {
			n.closeTrial(at)
		}
	case device.LinePulse:
		if high {
			n.pulseRise, n.pulseHigh = at, true
			return
		}
		if !n.pulseHigh {
			return
		}
		n.pulseHigh = false
		width := at - n.pulseRise
		if n.open {
			if n.cfg.Widths.Classify(width) != preamble.ClassNarrow {
				n.logger.Warn("wide pulse (%v) counted as tick", width)
			}
			n.ticks++
			return
		}
		n.decoder.Pulse(width)
	}
}

// Sample integrates one voltage/current reading. Readings outside a trial are
// discarded.
func (n *Node) Sample(at time.Duration, volts, milliamps float64) {
	if !n.open || at < n.lastAt {
		return
	}
	p := volts * milliamps
	// backward rectangle: this reading's power over the elapsed interval
	n.energyMJ += p * (at - n.lastAt).Seconds()
	n.lastAt = at
	n.sumV += volts
	n.sumI += milliamps
	n.sumP += p
	n.samples++

	row := rig.PowerSample{
		MS:        core.MillisFromDuration(at - n.start),
		Volts:     volts,
		MilliAmps: milliamps,
		TickCount: n.ticks,
	}
	n.current.Samples = append(n.current.Samples, row)
	if n.out != nil {
		if err := n.out.Row(row); err != nil {
			n.logger.Error("write row: %v", err)
		}
	}
}

// Abort drops the open trial without a footer, as a power loss would
func (n *Node) Abort() {
	if !n.open {
		return
	}
	if n.out != nil {
		if err := n.out.Abort(); err != nil {
			n.logger.Error("abort trial: %v", err)
		}
	}
	n.logger.Warn("trial cond=%d aborted without footer", n.hdr.ConditionID)
	n.completed = append(n.completed, n.current)
	n.reset()
}

// Trials returns every trial the node has finished or aborted
func (n *Node) Trials() []*rig.PowerTrialRecord { return n.completed }

// Open reports whether a trial is in progress
func (n *Node) Open() bool { return n.open }

func (n *Node) openTrial(at time.Duration) {
	res := n.decoder.Finish()
	n.decoder.Reset()
	hdr := rig.PowerHeader{
		ConditionID:       res.ConditionID,
		Preamble:          res.Mode,
		PreambleStatus:    res.Status,
		Repeat:            res.Repeat,
		PlannedDurationMS: core.MillisFromDuration(n.cfg.PlannedDuration),
	}
	if res.Err != nil {
		n.logger.Warn("preamble %s: %v", res.Status, res.Err)
		hdr.ConditionID = 0
	} else if n.cfg.Conditions != nil {
		if c, ok := n.cfg.Conditions.ByID(res.ConditionID); ok {
			hdr.Condition = c.Name
			hdr.NominalIntervalMS = c.IntervalMS
		}
	}

	n.open = true
	n.start, n.lastAt = at, at
	n.hdr = hdr
	n.ticks = 0
	n.energyMJ, n.sumV, n.sumI, n.sumP, n.samples = 0, 0, 0, 0, 0
	n.current = &rig.PowerTrialRecord{Header: hdr, HasHeader: true}

	if n.store != nil {
		out, err := n.store.Begin(hdr)
		if err != nil {
			n.logger.Error("open trial log: %v", err)
		}
		n.out = out
	}
	n.logger.Info("trial open: cond=%d (%s) preamble=%s/%s", hdr.ConditionID, hdr.Condition, hdr.Preamble, hdr.PreambleStatus)
}

func (n *Node) closeTrial(at time.Duration) {
	dur := at - n.start
	sum := Summarize(core.MillisFromDuration(dur), n.ticks, n.energyMJ)
	diag := rig.PowerDiag{Samples: n.samples}
	if n.samples > 0 {
		k := float64(n.samples)
		diag.MeanV, diag.MeanI, diag.MeanPmW = n.sumV/k, n.sumI/k, n.sumP/k
	}
	n.current.Summary = &sum
	n.current.Diag = &diag
	if n.out != nil {
		if err := n.out.Close(sum, diag); err != nil {
			n.logger.Error("close trial log: %v", err)
		}
	}
	n.logger.Info("trial closed: %v, %d ticks, %.3f mJ", dur, n.ticks, n.energyMJ)
	n.completed = append(n.completed, n.current)
	n.reset()
}

func (n *Node) reset() {
	n.open = false
	n.out = nil
	n.current = nil
}

// Summarize derives the footer values. Energy per transmission is undefined
// (nil) when no tick was counted.
func Summarize(duration core.Millis, ticks int, energyMJ float64) rig.PowerSummary {
	sum := rig.PowerSummary{MsTotal: duration, AdvCount: ticks, ETotalMJ: energyMJ}
	if s := duration.Seconds(); s > 0 {
		sum.AvgPowerMW = energyMJ / s
	}
	if ticks > 0 {
		v := energyMJ * 1000 / float64(ticks)
		sum.EPerAdvUJ = &v
	}
	return sum
}
