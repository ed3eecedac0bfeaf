package config

import (
	"testing"
	"time"

	"beaconrig/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Rig.GridMS)
	assert.Equal(t, []float64{1, 2, 5}, cfg.Rig.TausS)
	assert.Equal(t, "median", cfg.Rig.AlignMethod)
	assert.Nil(t, cfg.Rig.BaselinePowerMW)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100, cfg.Policy.GridMS)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RIG_GRID_MS", "50")
	t.Setenv("RIG_TAUS_S", "0.5, 1")
	t.Setenv("RIG_ALIGN_METHOD", "least_squares")
	t.Setenv("RIG_BASELINE_POWER_MW", "1.5")
	t.Setenv("POLICY_MIN_STAY", "1500")
	t.Setenv("POLICY_RATE_WINDOW", "30s")
	t.Setenv("POLICY_U_HIGH", "0.4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Rig.GridMS)
	assert.Equal(t, []float64{0.5, 1}, cfg.Rig.TausS)
	require.NotNil(t, cfg.Rig.BaselinePowerMW)
	assert.InDelta(t, 1.5, *cfg.Rig.BaselinePowerMW, 1e-12)
	assert.Equal(t, 1500*time.Millisecond, cfg.Policy.MinStay)
	assert.Equal(t, 30*time.Second, cfg.Policy.RateWindow)
	assert.InDelta(t, 0.4, cfg.Policy.UHigh, 1e-12)

	d := cfg.ManifestDefaults()
	assert.Equal(t, 50, d.GridMS)
	assert.Equal(t, "least_squares", d.AlignMethod)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"align method":   {"RIG_ALIGN_METHOD": "mean"},
		"negative tau":   {"RIG_TAUS_S": "1,-2"},
		"bad baseline":   {"RIG_BASELINE_POWER_MW": "abc"},
		"grid mismatch":  {"RIG_GRID_MS": "30"},
		"inverted bands": {"POLICY_U_MID": "0.5", "POLICY_U_HIGH": "0.4"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestRequireDatabase(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireDatabase())
	cfg.Database.URL = "postgres://localhost/rig"
	assert.NoError(t, cfg.RequireDatabase())
}
