package policy

import (
	"fmt"
	"math"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
)

// Reason explains a controller decision
type Reason string

const (
	ReasonRaise     Reason = "raise"
	ReasonLower     Reason = "lower"
	ReasonHoldDwell Reason = "hold_dwell"
	ReasonHoldRate  Reason = "hold_rate"
	ReasonHoldNaN   Reason = "hold_nan"
	ReasonFallback  Reason = "fallback"
	ReasonRecovered Reason = "recovered"
	ReasonSteady    Reason = "steady"
)

// Decision is the outcome of one grid tick
type Decision struct {
	Tier       Tier   `json:"tier"`
	IntervalMS int    `json:"interval_ms"`
	Changed    bool   `json:"changed"`
	Reason     Reason `json:"reason"`
	// Err wraps core.ErrSignalSourceTimeout when the fallback interval is entered
	Err error `json:"-"`
}

// Transition records an accepted tier or interval change
type Transition struct {
	At     time.Duration `json:"at"`
	From   Tier          `json:"from"`
	To     Tier          `json:"to"`
	FromMS int           `json:"from_ms"`
	ToMS   int           `json:"to_ms"`
	Reason Reason        `json:"reason"`
	// Forced marks interval-only changes into and out of the fallback
	// interval; tier changes are never forced
	Forced bool `json:"forced"`
}

// State is a snapshot of the controller
type State struct {
	Tier           Tier          `json:"tier"`
	IntervalMS     int           `json:"interval_ms"`
	EnteredAt      time.Duration `json:"entered_at"`
	LastSwitch     time.Duration `json:"last_switch"`
	Switched       bool          `json:"switched"`
	FallbackActive bool          `json:"fallback_active"`
	LastSignalAt   time.Duration `json:"last_signal_at"`
}

// TimeInState returns how long the current tier has been held at now
func (s State) TimeInState(now time.Duration) time.Duration { return now - s.EnteredAt }

// Controller is the hysteresis state machine. It is not safe for concurrent
// use; each device owns one.
type Controller struct {
	cfg         Config
	logger      *internal.Logger
	state       State
	history     []time.Duration // switch times inside the rate window
	transitions []Transition
}

// NewController validates cfg and starts in the configured initial tier at t=0
func NewController(cfg Config, lg *internal.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{cfg: cfg, logger: lg.WithComponent("Policy")}
	c.state = State{Tier: cfg.Initial, IntervalMS: c.tierInterval(cfg.Initial)}
	return c, nil
}

// Config returns the controller configuration
func (c *Controller) Config() Config { return c.cfg }

// State returns a snapshot of the current state
func (c *Controller) State() State { return c.state }

// Transitions returns every accepted change so far
func (c *Controller) Transitions() []Transition {
	return append([]Transition(nil), c.transitions...)
}

// IntervalMS returns the interval currently in force
func (c *Controller) IntervalMS() int { return c.state.IntervalMS }

func (c *Controller) tierInterval(t Tier) int {
	return Project(c.cfg.TierIntervalsMS[t], c.cfg.Allowed)
}

// Step consumes one smoothed sample at time now
func (c *Controller) Step(sample rig.SignalSample, now time.Duration) Decision {
	if sample.Missing() {
		// NaN holds the tier but does not count as a live signal.
		if d, fired := c.checkTimeout(now); fired {
			return d
		}
		return c.hold(ReasonHoldNaN)
	}
	c.state.LastSignalAt = now

	restored := false
	if c.state.FallbackActive {
		restored = c.leaveFallback(now)
	}
	d := c.decide(sample, now)
	if restored && !d.Changed {
		d.Changed, d.Reason = true, ReasonRecovered
	}
	return d
}

// decide applies the threshold rules under the dwell and rate gates
func (c *Controller) decide(sample rig.SignalSample, now time.Duration) Decision {
	u, ccs := sample.UEMA, sample.CCSEMA
	if !c.cfg.usesCCS() {
		ccs = math.Inf(-1)
	}
	target := c.target(c.state.Tier, u, ccs)
	if target == c.state.Tier {
		return c.hold(ReasonSteady)
	}
	downward := c.state.Tier.MoreUrgent(target)
	if downward && c.cfg.dwellEnabled() && c.state.Switched && c.state.TimeInState(now) < c.cfg.MinStay {
		return c.hold(ReasonHoldDwell)
	}
	if c.rateExceeded(now) {
		c.logger.Debug("rate limit holds %s at %v (%d switches in window)", c.state.Tier, now, len(c.history))
		return c.hold(ReasonHoldRate)
	}
	reason := ReasonRaise
	if downward {
		reason = ReasonLower
	}
	return c.apply(target, now, reason)
}

// leaveFallback restores the current tier's interval. The tier itself is
// left to the gated rules. Reports whether the interval changed.
func (c *Controller) leaveFallback(now time.Duration) bool {
	c.state.FallbackActive = false
	from, to := c.state.IntervalMS, c.tierInterval(c.state.Tier)
	c.logger.Info("signal source recovered at %v, resuming %s at %d ms", now, c.state.Tier, to)
	if from == to {
		return false
	}
	c.state.IntervalMS = to
	c.record(Transition{At: now, From: c.state.Tier, To: c.state.Tier, FromMS: from, ToMS: to, Reason: ReasonRecovered, Forced: true})
	return true
}

// Silence advances time without a sample. After SignalTimeout without a valid
// sample the controller switches to the fallback interval.
func (c *Controller) Silence(now time.Duration) Decision {
	if d, fired := c.checkTimeout(now); fired {
		return d
	}
	return c.hold(ReasonSteady)
}

func (c *Controller) checkTimeout(now time.Duration) (Decision, bool) {
	if c.cfg.SignalTimeout <= 0 || c.state.FallbackActive {
		return Decision{}, false
	}
	if now-c.state.LastSignalAt < c.cfg.SignalTimeout {
		return Decision{}, false
	}
	c.state.FallbackActive = true
	fallback := Project(c.cfg.FallbackIntervalMS, c.cfg.Allowed)
	err := fmt.Errorf("%w: silent for %v (timeout %v)", core.ErrSignalSourceTimeout, now-c.state.LastSignalAt, c.cfg.SignalTimeout)
	c.logger.Warn("%v, switching to fallback interval %d ms", err, fallback)

	from := c.state.IntervalMS
	c.state.IntervalMS = fallback
	changed := from != fallback
	if changed {
		c.record(Transition{At: now, From: c.state.Tier, To: c.state.Tier, FromMS: from, ToMS: fallback, Reason: ReasonFallback, Forced: true})
	}
	return Decision{Tier: c.state.Tier, IntervalMS: fallback, Changed: changed, Reason: ReasonFallback, Err: err}, true
}

// target derives the tier the thresholds ask for from cur
func (c *Controller) target(cur Tier, u, ccs float64) Tier {
	cfg := c.cfg
	h := cfg.Hysteresis
	if u >= cfg.UHigh || ccs >= cfg.CHigh {
		return TierHigh
	}
	belowMid := u < cfg.UMid-h && ccs < cfg.CMid-h
	switch cur {
	case TierQuiet:
		if u >= cfg.UMid || ccs >= cfg.CMid {
			return TierMid
		}
		return TierQuiet
	case TierMid:
		if belowMid {
			return TierQuiet
		}
		return TierMid
	default:
		if belowMid {
			return TierQuiet
		}
		if u < cfg.UHigh-h && ccs < cfg.CHigh-h {
			return TierMid
		}
		return TierHigh
	}
}

func (c *Controller) rateExceeded(now time.Duration) bool {
	if c.cfg.MaxRate <= 0 || !c.cfg.dwellEnabled() {
		return false
	}
	c.pruneHistory(now)
	return len(c.history) >= c.cfg.MaxRate
}

func (c *Controller) pruneHistory(now time.Duration) {
	keep := c.history[:0]
	for _, at := range c.history {
		if now-at < c.cfg.RateWindow {
			keep = append(keep, at)
		}
	}
	c.history = keep
}

func (c *Controller) hold(reason Reason) Decision {
	return Decision{Tier: c.state.Tier, IntervalMS: c.state.IntervalMS, Reason: reason}
}

func (c *Controller) apply(to Tier, now time.Duration, reason Reason) Decision {
	from, fromMS := c.state.Tier, c.state.IntervalMS
	toMS := c.tierInterval(to)
	if from == to && fromMS == toMS {
		return Decision{Tier: to, IntervalMS: toMS, Reason: reason}
	}
	if from != to {
		c.state.Tier = to
		c.state.EnteredAt = now
		c.state.LastSwitch = now
		c.state.Switched = true
		c.history = append(c.history, now)
	}
	c.state.IntervalMS = toMS
	c.record(Transition{At: now, From: from, To: to, FromMS: fromMS, ToMS: toMS, Reason: reason})
	c.logger.Debug("%s -> %s (%d -> %d ms) at %v: %s", from, to, fromMS, toMS, now, reason)
	return Decision{Tier: to, IntervalMS: toMS, Changed: true, Reason: reason}
}

func (c *Controller) record(t Transition) {
	c.transitions = append(c.transitions, t)
}
