package policy

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/errors"
)

func sample(step int, u, c float64) rig.SignalSample {
	return rig.SignalSample{StepIdx: step, URaw: u, CCSRaw: c, UEMA: u, CCSEMA: c}
}

func newTestController(t *testing.T, mutate func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewController(cfg, internal.NewLoggerTo(&bytes.Buffer{}, internal.LogLevelDebug))
	require.NoError(t, err)
	return ctrl
}

func at(step int) time.Duration { return time.Duration(step) * 100 * time.Millisecond }

func TestConstantSubThresholdInputNeverSwitches(t *testing.T) {
	for _, initial := range []Tier{TierHigh, TierMid, TierQuiet} {
		t.Run(initial.String(), func(t *testing.T) {
			ctrl := newTestController(t, func(c *Config) { c.Initial = initial })
			// Between mid-h and mid for both signals: no rule fires from MID
			u, ccs := 0.12, 0.17
			if initial == TierHigh {
				u, ccs = 0.27, 0.32 // between high-h and high
			}
			if initial == TierQuiet {
				u, ccs = 0.05, 0.05
			}
			for i := 0; i < 3000; i++ {
				d := ctrl.Step(sample(i, u, ccs), at(i))
				require.False(t, d.Changed, "step %d", i)
			}
			assert.Empty(t, ctrl.Transitions())
			assert.Equal(t, initial, ctrl.State().Tier)
		})
	}
}

func TestSpikeThenDropDoesNotChatter(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.Initial = TierQuiet })
	cfg := ctrl.Config()

	d := ctrl.Step(sample(0, cfg.UHigh+0.1, 0), at(0))
	require.True(t, d.Changed)
	assert.Equal(t, TierHigh, d.Tier)
	assert.Equal(t, 100, d.IntervalMS)

	low := cfg.UMid - cfg.Hysteresis - 0.01
	stayTicks := int(cfg.MinStay / (100 * time.Millisecond))
	for i := 1; i < stayTicks; i++ {
		d = ctrl.Step(sample(i, low, 0), at(i))
		assert.Equal(t, ReasonHoldDwell, d.Reason)
	}
	assert.Len(t, ctrl.Transitions(), 1)

	d = ctrl.Step(sample(stayTicks, low, 0), at(stayTicks))
	assert.True(t, d.Changed)
	assert.Equal(t, TierQuiet, d.Tier)
	assert.Equal(t, ReasonLower, d.Reason)
}

func TestTiesGoToMoreUrgentTier(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.Initial = TierQuiet })
	cfg := ctrl.Config()

	d := ctrl.Step(sample(0, cfg.UMid, 0), at(0))
	assert.Equal(t, TierMid, d.Tier)

	d = ctrl.Step(sample(1, 0, cfg.CHigh), at(1))
	assert.Equal(t, TierHigh, d.Tier)
	assert.Equal(t, ReasonRaise, d.Reason)
}

func TestHighStepsDownThroughMid(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.Initial = TierHigh; c.MinStay = 0 })
	cfg := ctrl.Config()

	d := ctrl.Step(sample(0, cfg.UHigh-cfg.Hysteresis-0.01, cfg.CMid), at(0))
	assert.Equal(t, TierMid, d.Tier)

	d = ctrl.Step(sample(1, 0, 0), at(1))
	assert.Equal(t, TierQuiet, d.Tier)
	assert.Equal(t, 2000, d.IntervalMS)
}

func TestNaNHoldsTier(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.SignalTimeout = 0 })
	before := ctrl.State()
	for i := 0; i < 100; i++ {
		d := ctrl.Step(sample(i, math.NaN(), 0.9), at(i))
		assert.Equal(t, ReasonHoldNaN, d.Reason)
		assert.False(t, d.Changed)
	}
	assert.Equal(t, before.Tier, ctrl.State().Tier)
}

func TestSilenceSwitchesToFallbackAndRecovers(t *testing.T) {
	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.Initial = TierQuiet
	cfg.SignalTimeout = time.Second
	cfg.FallbackIntervalMS = 300 // projects to 100
	ctrl, err := NewController(cfg, internal.NewLoggerTo(&logs, internal.LogLevelInfo))
	require.NoError(t, err)

	ctrl.Step(sample(0, 0, 0), at(0))
	for i := 1; i < 10; i++ {
		d := ctrl.Silence(at(i))
		assert.Equal(t, ReasonSteady, d.Reason)
	}
	d := ctrl.Silence(at(10))
	assert.Equal(t, ReasonFallback, d.Reason)
	assert.True(t, d.Changed)
	assert.Equal(t, 100, d.IntervalMS)
	assert.True(t, ctrl.State().FallbackActive)
	assert.Contains(t, logs.String(), "fallback interval 100 ms")

	// further silence keeps the fallback without new transitions
	d = ctrl.Silence(at(20))
	assert.False(t, d.Changed)

	d = ctrl.Step(sample(21, 0, 0), at(21))
	assert.Equal(t, ReasonRecovered, d.Reason)
	assert.Equal(t, 2000, d.IntervalMS)
	assert.False(t, ctrl.State().FallbackActive)

	trs := ctrl.Transitions()
	require.Len(t, trs, 2)
	assert.True(t, trs[0].Forced)
	assert.True(t, trs[1].Forced)
}

func TestUncertaintyOnlyIgnoresCCS(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.Mode = rig.ModeUncertaintyOnly; c.Initial = TierQuiet })
	d := ctrl.Step(sample(0, 0, 0.99), at(0))
	assert.False(t, d.Changed)
	assert.Equal(t, TierQuiet, d.Tier)

	full := newTestController(t, func(c *Config) { c.Initial = TierQuiet })
	d = full.Step(sample(0, 0, 0.99), at(0))
	assert.Equal(t, TierHigh, d.Tier)
}

func TestAblationDisablesDwell(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.Mode = rig.ModeAblation; c.Initial = TierQuiet })
	ctrl.Step(sample(0, 0.5, 0), at(0))
	d := ctrl.Step(sample(1, 0, 0), at(1))
	assert.Equal(t, TierQuiet, d.Tier)
	assert.Len(t, ctrl.Transitions(), 2)
}

// randomWalk feeds a noisy signal that crosses every threshold, with
// occasional NaN samples and silent stretches long enough to time out.
// It returns how many times the fallback was entered.
func randomWalk(ctrl *Controller, steps int, seed int64) int {
	rng := rand.New(rand.NewSource(seed))
	fallbacks := 0
	count := func(d Decision) {
		if d.Reason == ReasonFallback {
			fallbacks++
		}
	}
	for i := 0; i < steps; i++ {
		switch r := rng.Float64(); {
		case r < 0.02:
			count(ctrl.Step(sample(i, math.NaN(), 0), at(i)))
		case r < 0.03:
			gap := 1 + rng.Intn(8)
			for j := 0; j < gap && i < steps; j++ {
				count(ctrl.Silence(at(i)))
				i++
			}
			i--
		default:
			count(ctrl.Step(sample(i, rng.Float64()*0.5, rng.Float64()*0.5), at(i)))
		}
	}
	return fallbacks
}

func timeoutConfig(c *Config) {
	c.SignalTimeout = 300 * time.Millisecond
}

func TestDwellPropertyHoldsUnderRandomInput(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		ctrl := newTestController(t, func(c *Config) { timeoutConfig(c); c.MaxRate = 0 })
		fallbacks := randomWalk(ctrl, 5000, seed)
		trs := ctrl.Transitions()
		require.NotEmpty(t, trs)

		var entered time.Duration
		switched := false
		for _, tr := range trs {
			if tr.From == tr.To {
				continue
			}
			assert.False(t, tr.Forced, "tier change must not be forced")
			if tr.From.MoreUrgent(tr.To) && switched {
				assert.GreaterOrEqual(t, tr.At-entered, ctrl.Config().MinStay, "seed %d at %v", seed, tr.At)
			}
			entered, switched = tr.At, true
		}
		assert.Positive(t, fallbacks, "seed %d never timed out", seed)
	}
}

func TestRatePropertyHoldsUnderRandomInput(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		ctrl := newTestController(t, func(c *Config) {
			timeoutConfig(c)
			c.MinStay = 0
			c.MaxRate = 3
			c.RateWindow = 5 * time.Second
		})
		randomWalk(ctrl, 5000, seed)
		var switches []time.Duration
		for _, tr := range ctrl.Transitions() {
			if tr.From != tr.To {
				switches = append(switches, tr.At)
			}
		}
		for i := range switches {
			n := 0
			for j := i; j < len(switches) && switches[j]-switches[i] < 5*time.Second; j++ {
				n++
			}
			assert.LessOrEqual(t, n, 3, "seed %d window starting %v", seed, switches[i])
		}
	}
}

func TestRecoveryAfterTimeoutKeepsDwellAndRate(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) {
		c.Initial = TierQuiet
		c.SignalTimeout = 300 * time.Millisecond
		c.MinStay = 10 * time.Second
		c.MaxRate = 2
		c.RateWindow = 60 * time.Second
	})

	// high sample, three silent ticks, low sample, repeated
	step := 0
	for cycle := 0; cycle < 5; cycle++ {
		u := 0.9
		if cycle%2 == 1 {
			u = 0
		}
		ctrl.Step(sample(step, u, 0), at(step))
		step++
		for k := 0; k < 3; k++ {
			ctrl.Silence(at(step))
			step++
		}
	}

	var tierChanges []Transition
	for _, tr := range ctrl.Transitions() {
		if tr.From != tr.To {
			tierChanges = append(tierChanges, tr)
		}
	}
	require.Len(t, tierChanges, 1, "only the first raise is allowed inside min_stay")
	assert.Equal(t, TierHigh, tierChanges[0].To)
	assert.Equal(t, TierHigh, ctrl.State().Tier)
}

func TestFallbackDecisionCarriesTimeout(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) { c.SignalTimeout = 200 * time.Millisecond; c.Initial = TierQuiet })
	ctrl.Step(sample(0, 0, 0), at(0))
	ctrl.Silence(at(1))
	d := ctrl.Silence(at(2))
	require.Equal(t, ReasonFallback, d.Reason)
	assert.ErrorIs(t, d.Err, core.ErrSignalSourceTimeout)
	assert.Equal(t, errors.CodeSignalSourceTimeout, errors.GetCode(d.Err))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"u thresholds inverted", func(c *Config) { c.UMid = 0.5 }},
		{"c thresholds equal", func(c *Config) { c.CMid = c.CHigh }},
		{"negative hysteresis", func(c *Config) { c.Hysteresis = -0.1 }},
		{"empty allowed", func(c *Config) { c.Allowed = nil }},
		{"off grid tier", func(c *Config) { c.Allowed = []int{150} }},
		{"rate without window", func(c *Config) { c.RateWindow = 0 }},
		{"fixed mode", func(c *Config) { c.Mode = rig.ModeFixed }},
		{"no fallback", func(c *Config) { c.FallbackIntervalMS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewController(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestProjectNearestNeighbour(t *testing.T) {
	assert.Equal(t, 500, Project(2000, []int{100, 500}))
	assert.Equal(t, 100, Project(300, []int{500, 100}), "tie goes to shorter interval")
	assert.Equal(t, 100, Project(50, []int{100, 500}))
	assert.Equal(t, 700, Project(700, nil))
}

func TestProjectedTiersCollapse(t *testing.T) {
	ctrl := newTestController(t, func(c *Config) {
		c.Allowed = []int{100, 500}
		c.Initial = TierMid
		c.MinStay = 0
	})
	d := ctrl.Step(sample(0, 0, 0), at(0))
	assert.Equal(t, TierQuiet, d.Tier)
	assert.Equal(t, 500, d.IntervalMS, "QUIET clamps to 500 when 2000 is not allowed")
}
