package rig

import (
	"beaconrig/domain/core"
)

// PreambleMode selects how the condition id is signalled on the pulse line
type PreambleMode string

const (
	PreambleCount      PreambleMode = "count"
	PreambleStructured PreambleMode = "structured"
)

// PreambleStatus is the power logger's verdict on the decoded preamble
type PreambleStatus string

const (
	PreambleOK      PreambleStatus = "ok"
	PreambleCorrupt PreambleStatus = "corrupt"
	PreambleMissing PreambleStatus = "missing"
)

// PowerHeader is the metadata line of a power log
type PowerHeader struct {
	ConditionID       int            `json:"cond_id"`
	Condition         string         `json:"condition"`
	NominalIntervalMS int            `json:"nominal_interval_ms"`
	PlannedDurationMS core.Millis    `json:"planned_duration_ms"`
	Preamble          PreambleMode   `json:"preamble"`
	PreambleStatus    PreambleStatus `json:"preamble_status"`
	Repeat            int            `json:"repeat"`
}

// PowerSample is one voltage/current row; TickCount is cumulative
type PowerSample struct {
	MS        core.Millis `json:"ms"`
	Volts     float64     `json:"voltage_v"`
	MilliAmps float64     `json:"current_ma"`
	TickCount int         `json:"tick_count"`
}

// PowerMW returns the instantaneous power in milliwatts
func (s PowerSample) PowerMW() float64 { return s.Volts * s.MilliAmps }

// PowerSummary is the "# summary" footer
type PowerSummary struct {
	MsTotal    core.Millis `json:"ms_total"`
	AdvCount   int         `json:"adv_count"`
	ETotalMJ   float64     `json:"e_total_mj"`
	EPerAdvUJ  *float64    `json:"e_per_adv_uj"`
	AvgPowerMW float64     `json:"avg_power_mw"`
}

// PowerDiag is the "# diag" footer
type PowerDiag struct {
	Samples int     `json:"samples"`
	MeanV   float64 `json:"mean_v"`
	MeanI   float64 `json:"mean_i"`
	MeanPmW float64 `json:"mean_p_mw"`
}

// PowerTrialRecord is one power logger trial
type PowerTrialRecord struct {
	Source      string        `json:"source"`
	Header      PowerHeader   `json:"header"`
	HasHeader   bool          `json:"has_header"`
	Samples     []PowerSample `json:"samples"`
	Summary     *PowerSummary `json:"summary,omitempty"`
	Diag        *PowerDiag    `json:"diag,omitempty"`
	SkippedRows int           `json:"skipped_rows"`
}

// Complete reports whether both closing footers are present
func (p *PowerTrialRecord) Complete() bool {
	return p.Summary != nil && p.Diag != nil
}

// TickCount returns the ground-truth transmission count, false when absent
func (p *PowerTrialRecord) TickCount() (int, bool) {
	if p.Summary != nil {
		return p.Summary.AdvCount, true
	}
	if n := len(p.Samples); n > 0 {
		return p.Samples[n-1].TickCount, true
	}
	return 0, false
}

// TickTimes returns the sample times at which the cumulative tick count
// increased, one entry per counted tick
func (p *PowerTrialRecord) TickTimes() []core.Millis {
	var out []core.Millis
	prev := 0
	for _, s := range p.Samples {
		for i := prev; i < s.TickCount; i++ {
			out = append(out, s.MS)
		}
		if s.TickCount > prev {
			prev = s.TickCount
		}
	}
	return out
}

// Duration returns the footer total, falling back to the last sample time
func (p *PowerTrialRecord) Duration() core.Millis {
	if p.Summary != nil {
		return p.Summary.MsTotal
	}
	if n := len(p.Samples); n > 0 {
		return p.Samples[n-1].MS
	}
	return 0
}
