package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"beaconrig/domain/rig"
	"beaconrig/internal/errors"
	"beaconrig/internal/policy"
)

// TrialOverride is an operator decision about one log file
type TrialOverride struct {
	Path    string `json:"path"`
	Include bool   `json:"include"`
	Reason  string `json:"reason,omitempty"`
	// Condition and Repeat pin the cell when metadata is unreliable
	Condition string `json:"condition,omitempty"`
	Repeat    *int   `json:"repeat,omitempty"`
}

// Manifest is the condition/trial mapping of a run
type Manifest struct {
	GridMS          int                      `json:"grid_ms"`
	MinDurationMS   float64                  `json:"min_duration_ms"`
	TausS           []float64                `json:"taus_s"`
	AlignMethod     string                   `json:"align_method"`
	BaselinePowerMW *float64                 `json:"baseline_power_mw,omitempty"`
	OutlierMADK     float64                  `json:"outlier_mad_k"`
	Conditions      []rig.Condition          `json:"conditions"`
	Policies        map[string]policy.Config `json:"policies"`
	Overrides       []TrialOverride          `json:"trials"`

	set *rig.ConditionSet
}

// Defaults seed every field the manifest may leave out
type Defaults struct {
	GridMS          int
	MinDurationMS   float64
	TausS           []float64
	AlignMethod     string
	BaselinePowerMW *float64
	OutlierMADK     float64
	Policy          policy.Config
}

// Load reads and parses a manifest file; .yaml and .yml files are accepted
// alongside JSON
func Load(path string, d Defaults) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = YAMLToJSON(data); err != nil {
			return nil, err
		}
	}
	m, err := Parse(data, d)
	if err != nil {
		return nil, err
	}
	// trial paths are relative to the manifest
	base := filepath.Dir(path)
	for i, o := range m.Overrides {
		if o.Path != "" && !filepath.IsAbs(o.Path) {
			m.Overrides[i].Path = filepath.Join(base, o.Path)
		}
	}
	return m, nil
}

// YAMLToJSON converts a YAML manifest into the JSON form Parse reads
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "manifest is not valid YAML"))
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "manifest YAML has non-string keys"))
	}
	return out, nil
}

// Parse reads the manifest JSON
func Parse(data []byte, d Defaults) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidInput("manifest is not valid JSON")
	}
	root := gjson.ParseBytes(data)

	m := &Manifest{
		GridMS:          intOr(root.Get("grid_ms"), d.GridMS),
		MinDurationMS:   floatOr(root.Get("min_duration_ms"), d.MinDurationMS),
		AlignMethod:     stringOr(root.Get("align_method"), d.AlignMethod),
		OutlierMADK:     floatOr(root.Get("outlier_mad_k"), d.OutlierMADK),
		BaselinePowerMW: d.BaselinePowerMW,
		TausS:           d.TausS,
		Policies:        make(map[string]policy.Config),
	}
	if v := root.Get("baseline_power_mw"); v.Exists() {
		f := v.Float()
		m.BaselinePowerMW = &f
	}
	if taus := root.Get("taus_s"); taus.IsArray() {
		m.TausS = nil
		for _, t := range taus.Array() {
			m.TausS = append(m.TausS, t.Float())
		}
	}

	var parseErr error
	root.Get("conditions").ForEach(func(_, c gjson.Result) bool {
		cond, err := parseCondition(c)
		if err != nil {
			parseErr = err
			return false
		}
		m.Conditions = append(m.Conditions, cond)
		if cond.Mode.Adaptive() {
			cfg := parsePolicy(c.Get("policy"), d.Policy, cond, m.GridMS)
			m.Policies[cond.Name] = cfg
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	root.Get("trials").ForEach(func(_, t gjson.Result) bool {
		o := TrialOverride{
			Path:      t.Get("path").String(),
			Include:   boolOr(t.Get("include"), true),
			Reason:    t.Get("reason").String(),
			Condition: t.Get("condition").String(),
		}
		if r := t.Get("repeat"); r.Exists() {
			n := int(r.Int())
			o.Repeat = &n
		}
		m.Overrides = append(m.Overrides, o)
		return true
	})

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseCondition(c gjson.Result) (rig.Condition, error) {
	mode, err := rig.ParseMode(stringOr(c.Get("mode"), "F"))
	if err != nil {
		return rig.Condition{}, errors.InvalidInput(fmt.Sprintf("condition %s: %v", c.Get("name").String(), err))
	}
	cond := rig.Condition{
		ID:         int(c.Get("id").Int()),
		Name:       c.Get("name").String(),
		Mode:       mode,
		Context:    c.Get("context").String(),
		IntervalMS: int(c.Get("interval_ms").Int()),
	}
	for _, a := range c.Get("actions").Array() {
		cond.Actions = append(cond.Actions, int(a.Int()))
	}
	return cond, nil
}

func parsePolicy(p gjson.Result, base policy.Config, cond rig.Condition, gridMS int) policy.Config {
	cfg := base
	cfg.Mode = cond.Mode
	cfg.GridMS = gridMS
	if len(cond.Actions) > 0 {
		cfg.Allowed = append([]int(nil), cond.Actions...)
	}
	if !p.Exists() {
		return cfg
	}
	cfg.UMid = floatOr(p.Get("u_mid"), cfg.UMid)
	cfg.UHigh = floatOr(p.Get("u_high"), cfg.UHigh)
	cfg.CMid = floatOr(p.Get("c_mid"), cfg.CMid)
	cfg.CHigh = floatOr(p.Get("c_high"), cfg.CHigh)
	cfg.Hysteresis = floatOr(p.Get("hysteresis"), cfg.Hysteresis)
	cfg.MinStay = msOr(p.Get("min_stay_ms"), cfg.MinStay)
	cfg.MaxRate = intOr(p.Get("max_rate"), cfg.MaxRate)
	cfg.RateWindow = msOr(p.Get("rate_window_ms"), cfg.RateWindow)
	cfg.SignalTimeout = msOr(p.Get("signal_timeout_ms"), cfg.SignalTimeout)
	cfg.FallbackIntervalMS = intOr(p.Get("fallback_interval_ms"), cfg.FallbackIntervalMS)
	cfg.Alpha = floatOr(p.Get("alpha"), cfg.Alpha)
	if tiers := p.Get("tier_intervals_ms").Array(); len(tiers) == 3 {
		for i, t := range tiers {
			cfg.TierIntervalsMS[i] = int(t.Int())
		}
	}
	if t, ok := policy.ParseTier(p.Get("initial").String()); ok {
		cfg.Initial = t
	}
	return cfg
}

// Validate checks the manifest is self-consistent
func (m *Manifest) Validate() error {
	if m.GridMS <= 0 {
		return errors.ValidationError("grid_ms must be positive")
	}
	if m.MinDurationMS < 0 {
		return errors.ValidationError("min_duration_ms cannot be negative")
	}
	for _, t := range m.TausS {
		if t <= 0 {
			return errors.ValidationError(fmt.Sprintf("tau %v must be positive", t))
		}
	}
	switch m.AlignMethod {
	case "median", "least_squares":
	default:
		return errors.ValidationError(fmt.Sprintf("unknown align_method %q", m.AlignMethod))
	}
	if len(m.Conditions) == 0 {
		return errors.ValidationError("manifest declares no conditions")
	}
	set, err := rig.NewConditionSet(m.Conditions)
	if err != nil {
		return errors.Wrap(err, "invalid condition")
	}
	for name, cfg := range m.Policies {
		if err := cfg.Validate(); err != nil {
			return errors.Wrapf(err, "policy for %s", name)
		}
	}
	m.set = set
	return nil
}

// ConditionSet returns the validated conditions
func (m *Manifest) ConditionSet() *rig.ConditionSet { return m.set }

// Override returns the operator decision for a log path
func (m *Manifest) Override(path string) (TrialOverride, bool) {
	clean := filepath.Clean(path)
	for _, o := range m.Overrides {
		if filepath.Clean(o.Path) == clean || filepath.Base(o.Path) == filepath.Base(path) {
			return o, true
		}
	}
	return TrialOverride{}, false
}

// Intervals returns the union of all action sets, ascending
func (m *Manifest) Intervals() []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range m.Conditions {
		for _, a := range c.AllowedIntervals() {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	sort.Ints(out)
	return out
}

func intOr(v gjson.Result, d int) int {
	if !v.Exists() {
		return d
	}
	return int(v.Int())
}

func floatOr(v gjson.Result, d float64) float64 {
	if !v.Exists() {
		return d
	}
	return v.Float()
}

func stringOr(v gjson.Result, d string) string {
	if !v.Exists() || v.String() == "" {
		return d
	}
	return v.String()
}

func boolOr(v gjson.Result, d bool) bool {
	if !v.Exists() {
		return d
	}
	return v.Bool()
}

func msOr(v gjson.Result, d time.Duration) time.Duration {
	if !v.Exists() {
		return d
	}
	return time.Duration(v.Float() * float64(time.Millisecond))
}
