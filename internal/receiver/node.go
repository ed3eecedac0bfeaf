package receiver

import (
	"fmt"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/device"
	"beaconrig/internal/preamble"
)

// Store persists a finished receiver trial
type Store interface {
	Save(trial *rig.ReceiverTrial) error
}

// Config is the receiver's static description, written to each log header
type Config struct {
	Firmware          string
	ScanDuty          float64
	DuplicatesAllowed bool
	Foreground        bool
	Widths            preamble.Widths
	Conditions        *rig.ConditionSet
}

// Node logs every advertisement it hears during a trial. It does not filter
// or deduplicate.
type Node struct {
	cfg    Config
	store  Store
	logger *internal.Logger

	decoder   *preamble.Decoder
	pulseRise time.Duration
	pulseHigh bool

	open    bool
	start   time.Duration
	seq     int
	current *rig.ReceiverTrial
	trials  []*rig.ReceiverTrial
	dropped int
}

// NewNode creates a receiver node
func NewNode(cfg Config, store Store, lg *internal.Logger) *Node {
	if cfg.Widths == (preamble.Widths{}) {
		cfg.Widths = preamble.DefaultWidths()
	}
	return &Node{cfg: cfg, store: store, logger: lg.WithComponent("Receiver"), decoder: preamble.NewDecoder(cfg.Widths, 0)}
}

// OnEdge follows the boundary line and decodes the preamble for the header
func (n *Node) OnEdge(line device.LineID, high bool, at time.Duration) {
	switch line {
	case device.LineBoundary:
		if high && !n.open {
			n.openTrial(at)
		} else if !high && n.open {
			n.closeTrial(at)
		}
	case device.LinePulse:
		if n.open {
			return
		}
		if high {
			n.pulseRise, n.pulseHigh = at, true
		} else if n.pulseHigh {
			n.pulseHigh = false
			n.decoder.Pulse(at - n.pulseRise)
		}
	}
}

// OnAdvert logs one received advertisement at local time at
func (n *Node) OnAdvert(payload string, rssi *int, peer string, at time.Duration) {
	if !n.open {
		n.dropped++
		return
	}
	ev := rig.ReceptionEvent{
		RelativeMS: core.MillisFromDuration(at - n.start),
		Event:      "adv",
		RSSI:       rssi,
		Sequence:   n.seq,
		PeerID:     peer,
		RawTag:     payload,
	}
	if tag, err := rig.ParseTag(payload); err == nil {
		ev.Tag = &tag
		ev.Label = tag.Label
	}
	n.seq++
	n.current.Events = append(n.current.Events, ev)
}

// Trials returns finished trials
func (n *Node) Trials() []*rig.ReceiverTrial { return n.trials }

// Dropped counts advertisements heard outside a trial
func (n *Node) Dropped() int { return n.dropped }

func (n *Node) openTrial(at time.Duration) {
	res := n.decoder.Finish()
	n.decoder.Reset()
	hdr := rig.ReceiverHeader{
		Firmware:          n.cfg.Firmware,
		ScanDuty:          n.cfg.ScanDuty,
		DuplicatesAllowed: n.cfg.DuplicatesAllowed,
		Foreground:        n.cfg.Foreground,
		Repeat:            res.Repeat,
	}
	switch {
	case res.Err != nil:
		n.logger.Warn("preamble %s, condition label unknown: %v", res.Status, res.Err)
	case n.cfg.Conditions != nil:
		if c, ok := n.cfg.Conditions.ByID(res.ConditionID); ok {
			hdr.ConditionLabel = c.Name
		} else {
			hdr.ConditionLabel = fmt.Sprintf("cond%d", res.ConditionID)
		}
	default:
		hdr.ConditionLabel = fmt.Sprintf("cond%d", res.ConditionID)
	}
	n.open, n.start, n.seq = true, at, 0
	n.current = &rig.ReceiverTrial{Header: hdr}
}

func (n *Node) closeTrial(at time.Duration) {
	n.current.Header.TrialDurationMS = core.MillisFromDuration(at - n.start)
	if n.store != nil {
		if err := n.store.Save(n.current); err != nil {
			n.logger.Error("save receiver trial: %v", err)
		}
	}
	n.logger.Info("trial %s closed: %d receptions", n.current.Header.ConditionLabel, len(n.current.Events))
	n.trials = append(n.trials, n.current)
	n.open, n.current = false, nil
}
