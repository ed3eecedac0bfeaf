package rig

import (
	"math"

	"beaconrig/domain/core"
)

// SignalSample is one grid tick of the external (U, CCS) stream
type SignalSample struct {
	StepIdx int     `json:"step_idx"`
	URaw    float64 `json:"u_raw"`
	CCSRaw  float64 `json:"ccs_raw"`
	UEMA    float64 `json:"u_ema"`
	CCSEMA  float64 `json:"ccs_ema"`
	Label   string  `json:"label,omitempty"`
}

// Missing reports whether the smoothed inputs cannot drive the controller
func (s SignalSample) Missing() bool {
	return math.IsNaN(s.UEMA) || math.IsNaN(s.CCSEMA)
}

// Trace is a recorded signal stream on a fixed grid
type Trace struct {
	GridMS  int            `json:"grid_ms"`
	Samples []SignalSample `json:"samples"`
	// Smoothed is false when the trace carried only raw columns
	Smoothed bool `json:"smoothed"`
}

// Labels returns the per-step truth classes of the trace; steps without a
// numeric label get -1
func (t Trace) Labels() []int {
	out := make([]int, len(t.Samples))
	for i, s := range t.Samples {
		if c, ok := LabelClass(s.Label); ok {
			out[i] = c
		} else {
			out[i] = -1
		}
	}
	return out
}

// TransmissionEvent is created by the scheduler each time a deadline elapses
type TransmissionEvent struct {
	StepIdx    int         `json:"step_idx"`
	IntervalMS int         `json:"interval_ms"`
	Tag        string      `json:"tag"`
	At         core.Millis `json:"at_ms"`
}

// ReceptionEvent is one receiver log row. Duplicates are retained.
type ReceptionEvent struct {
	RelativeMS core.Millis `json:"relative_ms"`
	Event      string      `json:"event"`
	RSSI       *int        `json:"rssi,omitempty"`
	Sequence   int         `json:"seq"`
	Label      string      `json:"label,omitempty"`
	PeerID     string      `json:"addr"`
	RawTag     string      `json:"mfd"`
	// Tag is nil when RawTag did not parse
	Tag *Tag `json:"tag,omitempty"`
}

// ReceiverHeader is the comment block at the top of a receiver log
type ReceiverHeader struct {
	Firmware          string      `json:"firmware"`
	ScanDuty          float64     `json:"scan_duty"`
	DuplicatesAllowed bool        `json:"duplicates_allowed"`
	Foreground        bool        `json:"foreground"`
	ConditionLabel    string      `json:"condition_label"`
	Repeat            int         `json:"repeat"`
	TrialDurationMS   core.Millis `json:"trial_duration_ms"`
}

// ReceiverTrial is one parsed receiver log
type ReceiverTrial struct {
	Source      string           `json:"source"`
	Header      ReceiverHeader   `json:"header"`
	Events      []ReceptionEvent `json:"events"`
	SkippedRows int              `json:"skipped_rows"`
}

// Duration returns the header duration, or the last event time when absent
func (r *ReceiverTrial) Duration() core.Millis {
	if r.Header.TrialDurationMS > 0 {
		return r.Header.TrialDurationMS
	}
	var last core.Millis
	for _, e := range r.Events {
		if e.RelativeMS > last {
			last = e.RelativeMS
		}
	}
	return last
}

// DominantMode returns the most frequent tag mode among events
func (r *ReceiverTrial) DominantMode() (Mode, bool) {
	counts := make(map[Mode]int)
	var best Mode
	for _, e := range r.Events {
		if e.Tag == nil {
			continue
		}
		counts[e.Tag.Mode]++
		if counts[e.Tag.Mode] > counts[best] {
			best = e.Tag.Mode
		}
	}
	return best, counts[best] > 0
}
