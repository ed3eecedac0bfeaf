package metrics

import (
	"beaconrig/domain/core"
)

// Undefined metric values are nil, never zero.

// TrialMetrics is the per-trial metric row
type TrialMetrics struct {
	TrialKey    core.TrialKey `json:"trial_key"`
	Condition   string        `json:"condition"`
	ConditionID int           `json:"condition_id"`
	Repeat      int           `json:"repeat"`
	PowerSource string        `json:"power_source,omitempty"`
	DurationMS  core.Millis   `json:"duration_ms"`

	Steps          int     `json:"steps"`
	ScheduledSteps int     `json:"scheduled_steps"`
	Receptions     int     `json:"receptions"`
	UniqueSteps    int     `json:"unique_steps"`
	TickCount      *int    `json:"tick_count"`
	OffsetMS       float64 `json:"offset_ms"`
	OffsetResidual float64 `json:"offset_residual_ms"`

	PDRRaw    *float64   `json:"pdr_raw"`
	PDRUnique *float64   `json:"pdr_unique"`
	Pout      []TauValue `json:"pout"`

	TLMean *float64 `json:"tl_mean_s"`
	TLP50  *float64 `json:"tl_p50_s"`
	TLP95  *float64 `json:"tl_p95_s"`
	TLMax  *float64 `json:"tl_max_s"`

	AvgPowerMW       *float64 `json:"avg_power_mw"`
	EnergyMJ         *float64 `json:"energy_mj"`
	EnergyPerTxUJ    *float64 `json:"energy_per_tx_uj"`
	DeltaEnergyPerTx *float64 `json:"delta_energy_per_tx_uj"`

	// Interval share of each action: time-weighted from receiver tags and
	// count-based from power logger tick clustering.
	ShareTime  map[int]*float64 `json:"share_time"`
	ShareCount map[int]*float64 `json:"share_count"`

	TransitionLatency *float64   `json:"transition_latency_s"`
	PoutTransition    []TauValue `json:"pout_transition"`
	RSSIMedian        *float64   `json:"rssi_median"`
	// ScheduleDivergence is replayed schedule length minus tick_count
	ScheduleDivergence *int `json:"schedule_divergence"`

	DenominatorMissing bool `json:"denominator_missing"`
}

// TauValue is a metric evaluated at one horizon tau (seconds)
type TauValue struct {
	TauS  float64  `json:"tau_s"`
	Value *float64 `json:"value"`
}

// At returns the value for tau, nil when absent
func At(vals []TauValue, tau float64) *float64 {
	for _, v := range vals {
		if v.TauS == tau {
			return v.Value
		}
	}
	return nil
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// MetricStat is one aggregated metric for a condition
type MetricStat struct {
	Mean *float64 `json:"mean"`
	Std  *float64 `json:"std"`
	// CI95 is the Student-t half-width; nil when n < 2
	CI95 *float64 `json:"ci95"`
	N    int      `json:"n"`
	// LowConfidence is set when fewer than two trials define the metric
	LowConfidence bool `json:"low_confidence"`
}

// ConditionSummary aggregates trials of one condition across repeats
type ConditionSummary struct {
	Condition     string                `json:"condition"`
	ConditionID   int                   `json:"condition_id"`
	Trials        int                   `json:"trials"`
	LowConfidence bool                  `json:"low_confidence"`
	Metrics       map[string]MetricStat `json:"metrics"`
	// PowerMixShare is the share of the fastest interval implied by mean
	// power against the two fastest fixed conditions; adaptive modes only
	PowerMixShare *float64 `json:"power_mix_share,omitempty"`
}

// Metric returns the named stat, zero value when absent
func (c ConditionSummary) Metric(name string) MetricStat {
	return c.Metrics[name]
}

// ExclusionKind names why a trial was dropped
type ExclusionKind string

const (
	ExclusionIncomplete   ExclusionKind = "IncompleteTrial"
	ExclusionAlignment    ExclusionKind = "AlignmentFailure"
	ExclusionPreamble     ExclusionKind = "PreambleCorruption"
	ExclusionManifest     ExclusionKind = "ManifestExcluded"
	ExclusionUnmatched    ExclusionKind = "Unmatched"
	ExclusionPowerOutlier ExclusionKind = "PowerOutlier"
	ExclusionInvalidLog   ExclusionKind = "InvalidLog"
)

// Exclusion is one entry of the exclusion manifest
type Exclusion struct {
	Source    string        `json:"source"`
	Node      core.NodeKind `json:"node"`
	Condition string        `json:"condition,omitempty"`
	Repeat    int           `json:"repeat,omitempty"`
	Kind      ExclusionKind `json:"kind"`
	Reason    string        `json:"reason"`
}

// Report is the full result of one reconstruction run
type Report struct {
	RunID      core.RunID         `json:"run_id"`
	Taus       []float64          `json:"taus"`
	Intervals  []int              `json:"intervals"`
	Trials     []TrialMetrics     `json:"trials"`
	Summaries  []ConditionSummary `json:"summaries"`
	Exclusions []Exclusion        `json:"exclusions"`
	Warnings   []string           `json:"warnings,omitempty"`
}
