package policy

import (
	"fmt"
	"time"

	"beaconrig/domain/rig"
	"beaconrig/internal/errors"
)

// Config holds the frozen controller parameters for one condition
type Config struct {
	UMid       float64 `json:"u_mid"`
	UHigh      float64 `json:"u_high"`
	CMid       float64 `json:"c_mid"`
	CHigh      float64 `json:"c_high"`
	Hysteresis float64 `json:"hysteresis"`

	// MinStay is the dwell required before a less urgent tier is accepted
	MinStay time.Duration `json:"min_stay"`
	// MaxRate switches are allowed per RateWindow; 0 disables the limit
	MaxRate    int           `json:"max_rate"`
	RateWindow time.Duration `json:"rate_window"`

	// SignalTimeout of silence switches to FallbackIntervalMS; 0 disables it
	SignalTimeout      time.Duration `json:"signal_timeout"`
	FallbackIntervalMS int           `json:"fallback_interval_ms"`

	// TierIntervalsMS holds the HIGH, MID and QUIET intervals before projection
	TierIntervalsMS [3]int `json:"tier_intervals_ms"`
	Allowed         []int  `json:"allowed"`
	Initial         Tier   `json:"initial"`

	GridMS int      `json:"grid_ms"`
	Mode   rig.Mode `json:"mode"`
	Alpha  float64  `json:"alpha"`
}

// DefaultConfig returns the thresholds used on the rig
func DefaultConfig() Config {
	return Config{
		UMid:               0.15,
		UHigh:              0.30,
		CMid:               0.20,
		CHigh:              0.35,
		Hysteresis:         0.05,
		MinStay:            2 * time.Second,
		MaxRate:            6,
		RateWindow:         60 * time.Second,
		SignalTimeout:      3 * time.Second,
		FallbackIntervalMS: 100,
		TierIntervalsMS:    [3]int{100, 500, 2000},
		Allowed:            []int{100, 500, 2000},
		Initial:            TierMid,
		GridMS:             100,
		Mode:               rig.ModePolicy,
		Alpha:              0.3,
	}
}

// Validate rejects threshold and tier combinations the controller cannot run
func (c Config) Validate() error {
	if !(c.UMid < c.UHigh) {
		return errors.ConfigInvalid(fmt.Sprintf("u_mid (%v) must be below u_high (%v)", c.UMid, c.UHigh))
	}
	if !(c.CMid < c.CHigh) {
		return errors.ConfigInvalid(fmt.Sprintf("c_mid (%v) must be below c_high (%v)", c.CMid, c.CHigh))
	}
	if c.Hysteresis < 0 {
		return errors.ConfigInvalid("hysteresis cannot be negative")
	}
	if c.MinStay < 0 {
		return errors.ConfigInvalid("min_stay cannot be negative")
	}
	if c.MaxRate < 0 {
		return errors.ConfigInvalid("max_rate cannot be negative")
	}
	if c.MaxRate > 0 && c.RateWindow <= 0 {
		return errors.ConfigInvalid("rate_window must be positive when max_rate is set")
	}
	if len(c.Allowed) == 0 {
		return errors.ConfigInvalid("allowed tier set cannot be empty")
	}
	for _, a := range c.Allowed {
		if a <= 0 {
			return errors.ConfigInvalid(fmt.Sprintf("allowed interval %d must be positive", a))
		}
		if c.GridMS > 0 && a%c.GridMS != 0 {
			return errors.ConfigInvalid(fmt.Sprintf("allowed interval %d is not a multiple of the %d ms grid", a, c.GridMS))
		}
	}
	for i, t := range c.TierIntervalsMS {
		if t <= 0 {
			return errors.ConfigInvalid(fmt.Sprintf("tier %s interval must be positive", Tier(i)))
		}
	}
	if c.FallbackIntervalMS <= 0 {
		return errors.ConfigInvalid("fallback_interval must be positive")
	}
	if !c.Initial.Valid() {
		return errors.ConfigInvalid(fmt.Sprintf("invalid initial tier %d", c.Initial))
	}
	if c.Mode != 0 && !c.Mode.Adaptive() {
		return errors.ConfigInvalid(fmt.Sprintf("mode %s is not adaptive", c.Mode))
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return errors.ConfigInvalid("alpha must be in [0,1]")
	}
	return nil
}

// dwellEnabled is false for the dwell ablation
func (c Config) dwellEnabled() bool { return c.Mode != rig.ModeAblation }

// usesCCS is false for the uncertainty-only ablation
func (c Config) usesCCS() bool { return c.Mode != rig.ModeUncertaintyOnly }
