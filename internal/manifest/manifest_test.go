package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/rig"
	"beaconrig/internal/errors"
	"beaconrig/internal/policy"
)

func testDefaults() Defaults {
	return Defaults{
		GridMS:        100,
		MinDurationMS: 60000,
		TausS:         []float64{1, 2, 5},
		AlignMethod:   "median",
		OutlierMADK:   3,
		Policy:        policy.DefaultConfig(),
	}
}

const sample = `{
  "grid_ms": 100,
  "min_duration_ms": 120000,
  "taus_s": [1, 3],
  "baseline_power_mw": 1.5,
  "conditions": [
    {"id": 1, "name": "F100", "mode": "F", "interval_ms": 100},
    {"id": 2, "name": "F2000", "mode": "F", "interval_ms": 2000},
    {"id": 3, "name": "P4", "mode": "P", "context": "office", "actions": [100, 500, 2000],
     "policy": {"u_mid": 0.1, "min_stay_ms": 1500, "max_rate": 4, "initial": "QUIET", "tier_intervals_ms": [100, 500, 2000]}}
  ],
  "trials": [
    {"path": "power/trial_004_c3_P4.csv", "include": false, "reason": "cable unplugged"},
    {"path": "rx/rx_trial_007.csv", "condition": "F100", "repeat": 2}
  ]
}`

func TestParseReadsConditionsAndOverrides(t *testing.T) {
	m, err := Parse([]byte(sample), testDefaults())
	require.NoError(t, err)

	assert.Equal(t, 100, m.GridMS)
	assert.Equal(t, 120000.0, m.MinDurationMS)
	assert.Equal(t, []float64{1, 3}, m.TausS)
	assert.Equal(t, "median", m.AlignMethod)
	require.NotNil(t, m.BaselinePowerMW)
	assert.Equal(t, 1.5, *m.BaselinePowerMW)
	assert.Len(t, m.Conditions, 3)
	assert.Equal(t, 3, m.ConditionSet().Len())

	p4, ok := m.ConditionSet().ByName("P4")
	require.True(t, ok)
	assert.Equal(t, rig.ModePolicy, p4.Mode)
	assert.Equal(t, "office", p4.Context)

	cfg, ok := m.Policies["P4"]
	require.True(t, ok)
	assert.Equal(t, 0.1, cfg.UMid)
	assert.Equal(t, 1500*time.Millisecond, cfg.MinStay)
	assert.Equal(t, 4, cfg.MaxRate)
	assert.Equal(t, policy.TierQuiet, cfg.Initial)
	assert.Equal(t, []int{100, 500, 2000}, cfg.Allowed)
	assert.NotContains(t, m.Policies, "F100")

	o, ok := m.Override("/data/run1/power/trial_004_c3_P4.csv")
	require.True(t, ok)
	assert.False(t, o.Include)
	assert.Equal(t, "cable unplugged", o.Reason)

	o, ok = m.Override("rx/rx_trial_007.csv")
	require.True(t, ok)
	assert.True(t, o.Include)
	require.NotNil(t, o.Repeat)
	assert.Equal(t, 2, *o.Repeat)

	assert.Equal(t, []int{100, 500, 2000}, m.Intervals())
}

func TestParseAppliesDefaults(t *testing.T) {
	m, err := Parse([]byte(`{"conditions":[{"id":1,"name":"F500","mode":"F","interval_ms":500}]}`), testDefaults())
	require.NoError(t, err)
	assert.Equal(t, 100, m.GridMS)
	assert.Equal(t, 60000.0, m.MinDurationMS)
	assert.Equal(t, []float64{1, 2, 5}, m.TausS)
	assert.Nil(t, m.BaselinePowerMW)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"conditions": [`,
		"no conditions":  `{"grid_ms": 100}`,
		"bad mode":       `{"conditions":[{"id":1,"name":"X","mode":"Z"}]}`,
		"duplicate id":   `{"conditions":[{"id":1,"name":"A","mode":"F","interval_ms":100},{"id":1,"name":"B","mode":"F","interval_ms":100}]}`,
		"bad tau":        `{"taus_s":[0],"conditions":[{"id":1,"name":"A","mode":"F","interval_ms":100}]}`,
		"bad align":      `{"align_method":"kalman","conditions":[{"id":1,"name":"A","mode":"F","interval_ms":100}]}`,
		"bad thresholds": `{"conditions":[{"id":1,"name":"P","mode":"P","actions":[100],"policy":{"u_mid":0.5,"u_high":0.2}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body), testDefaults())
			require.Error(t, err)
			assert.True(t, errors.IsAppError(err))
		})
	}
}

func TestLoadResolvesRelativeTrialPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	m, err := Load(path, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "power", "trial_004_c3_P4.csv"), m.Overrides[0].Path)

	_, err = Load(filepath.Join(dir, "missing.json"), testDefaults())
	assert.Error(t, err)
}

const yamlSample = `grid_ms: 100
taus_s: [2]
conditions:
  - {id: 1, name: F500, mode: F, interval_ms: 500}
  - id: 2
    name: P3
    mode: P
    actions: [100, 500, 2000]
    policy:
      max_rate: 3
trials:
  - path: rx/rx_trial_002.csv
    include: false
    reason: receiver rebooted
`

func TestLoadAcceptsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlSample), 0o644))

	m, err := Load(path, testDefaults())
	require.NoError(t, err)
	require.Len(t, m.Conditions, 2)
	assert.Equal(t, 500, m.Conditions[0].IntervalMS)
	assert.Equal(t, []float64{2}, m.TausS)
	assert.Equal(t, 3, m.Policies["P3"].MaxRate)
	require.Len(t, m.Overrides, 1)
	assert.False(t, m.Overrides[0].Include)
	assert.Equal(t, filepath.Join(dir, "rx", "rx_trial_002.csv"), m.Overrides[0].Path)

	_, err = YAMLToJSON([]byte("conditions: [unclosed"))
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
