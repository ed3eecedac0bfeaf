package reconstruct

import (
	"fmt"
	"math"
	"sort"

	"beaconrig/adapters/logs"
	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/errors"
	"beaconrig/internal/manifest"
)

// Trial is one matched condition × repeat cell
type Trial struct {
	Key       core.TrialKey
	Condition rig.Condition
	Repeat    int
	Receiver  *rig.ReceiverTrial
	// Power is nil when the power log is missing or excluded
	Power *rig.PowerTrialRecord
}

// TickCount returns the power logger's transmission count
func (t *Trial) TickCount() (int, bool) {
	if t.Power == nil {
		return 0, false
	}
	return t.Power.TickCount()
}

// Duration prefers the power logger total, then the receiver header
func (t *Trial) Duration() core.Millis {
	if t.Power != nil && t.Power.Complete() {
		return t.Power.Duration()
	}
	return t.Receiver.Duration()
}

// Overrides resolves operator decisions for a log path
type Overrides interface {
	Override(path string) (manifest.TrialOverride, bool)
}

// MatchConfig holds the exclusion thresholds
type MatchConfig struct {
	MinDurationMS float64
	// OutlierMADK flags power logs above median + k·MAD mean current; 0 disables
	OutlierMADK float64
}

// Matcher groups receiver and power logs into condition × repeat cells using
// embedded metadata rather than file order
type Matcher struct {
	conds     *rig.ConditionSet
	cfg       MatchConfig
	overrides Overrides
	logger    *internal.Logger
}

// NewMatcher creates a matcher; overrides may be nil
func NewMatcher(conds *rig.ConditionSet, cfg MatchConfig, overrides Overrides, lg *internal.Logger) *Matcher {
	return &Matcher{conds: conds, cfg: cfg, overrides: overrides, logger: lg.WithComponent("Matcher")}
}

type cell struct {
	cond   int
	repeat int
}

type placed[T any] struct {
	rec    T
	cond   rig.Condition
	repeat int
}

// Match returns the matched trials in condition declaration order and the
// exclusion entries for every log that could not be used
func (m *Matcher) Match(in *logs.Inputs) ([]*Trial, []metrics.Exclusion) {
	var excl []metrics.Exclusion
	for _, f := range in.Failures {
		excl = append(excl, metrics.Exclusion{
			Source: f.Path, Node: f.Node, Kind: metrics.ExclusionInvalidLog, Reason: f.Err.Error(),
		})
	}

	rx, rxExcl := m.placeReceivers(in.Receiver)
	excl = append(excl, rxExcl...)
	pw, pwExcl := m.placePower(in.Power)
	excl = append(excl, pwExcl...)

	outliers := m.powerOutliers(pw)

	rxByCell := make(map[cell]placed[*rig.ReceiverTrial])
	for _, r := range rx {
		rxByCell[cell{r.cond.ID, r.repeat}] = r
	}

	pwByCell := make(map[cell]placed[*rig.PowerTrialRecord])
	for _, p := range pw {
		c := cell{p.cond.ID, p.repeat}
		if outliers[p.rec.Source] {
			excl = append(excl, exclusion(p.rec.Source, core.NodePower, p.cond.Name, p.repeat,
				metrics.ExclusionPowerOutlier, "mean current above median + k·MAD for the condition"))
			if r, ok := rxByCell[c]; ok {
				excl = append(excl, exclusion(r.rec.Source, core.NodeReceiver, p.cond.Name, p.repeat,
					metrics.ExclusionPowerOutlier, "paired power log is an outlier"))
				delete(rxByCell, c)
			}
			continue
		}
		if _, ok := rxByCell[c]; !ok {
			excl = append(excl, exclusion(p.rec.Source, core.NodePower, p.cond.Name, p.repeat,
				metrics.ExclusionUnmatched, "no receiver log for this condition and repeat"))
			continue
		}
		pwByCell[c] = p
	}

	var trials []*Trial
	for _, r := range rx {
		c := cell{r.cond.ID, r.repeat}
		if _, ok := rxByCell[c]; !ok {
			continue
		}
		t := &Trial{
			Key:       core.NewTrialKey(core.NodeReceiver, fmt.Sprintf("%s-r%d", r.cond.Name, r.repeat)),
			Condition: r.cond,
			Repeat:    r.repeat,
			Receiver:  r.rec,
		}
		if p, ok := pwByCell[c]; ok {
			t.Power = p.rec
		} else {
			m.logger.Warn("%s repeat %d has no usable power log; tick count denominator missing", r.cond.Name, r.repeat)
		}
		trials = append(trials, t)
	}

	order := make(map[int]int)
	for i, c := range m.conds.All() {
		order[c.ID] = i
	}
	sort.SliceStable(trials, func(i, j int) bool {
		if trials[i].Condition.ID != trials[j].Condition.ID {
			return order[trials[i].Condition.ID] < order[trials[j].Condition.ID]
		}
		return trials[i].Repeat < trials[j].Repeat
	})
	m.logger.Info("matched %d trials, %d exclusions", len(trials), len(excl))
	return trials, excl
}

func underDuration(d, minMS float64) string {
	return errors.IncompleteTrial(fmt.Sprintf("duration %.0f ms below minimum %.0f ms", d, minMS)).Error()
}

func exclusion(source string, node core.NodeKind, cond string, repeat int, kind metrics.ExclusionKind, reason string) metrics.Exclusion {
	return metrics.Exclusion{Source: source, Node: node, Condition: cond, Repeat: repeat, Kind: kind, Reason: reason}
}

// override applies the manifest entry for a path; the bool is false when
// the log is excluded
func (m *Matcher) override(path string) (manifest.TrialOverride, bool) {
	if m.overrides == nil {
		return manifest.TrialOverride{Include: true}, true
	}
	o, ok := m.overrides.Override(path)
	if !ok {
		return manifest.TrialOverride{Include: true}, true
	}
	return o, o.Include
}

func (m *Matcher) placeReceivers(trials []*rig.ReceiverTrial) ([]placed[*rig.ReceiverTrial], []metrics.Exclusion) {
	var out []placed[*rig.ReceiverTrial]
	var excl []metrics.Exclusion
	taken := make(map[cell]bool)
	var pending []placed[*rig.ReceiverTrial]

	for _, r := range trials {
		o, include := m.override(r.Source)
		if !include {
			excl = append(excl, exclusion(r.Source, core.NodeReceiver, r.Header.ConditionLabel, r.Header.Repeat,
				metrics.ExclusionManifest, o.Reason))
			continue
		}
		name := r.Header.ConditionLabel
		if o.Condition != "" {
			name = o.Condition
		}
		cond, ok := m.conds.ByName(name)
		if !ok {
			cond, ok = m.inferReceiverCondition(r)
		}
		if !ok {
			excl = append(excl, exclusion(r.Source, core.NodeReceiver, name, r.Header.Repeat,
				metrics.ExclusionUnmatched, fmt.Sprintf("condition %q not declared and not inferable from tags", name)))
			continue
		}
		if d := float64(r.Duration()); d < m.cfg.MinDurationMS {
			excl = append(excl, exclusion(r.Source, core.NodeReceiver, cond.Name, r.Header.Repeat,
				metrics.ExclusionIncomplete, underDuration(d, m.cfg.MinDurationMS)))
			continue
		}
		repeat := r.Header.Repeat
		if o.Repeat != nil {
			repeat = *o.Repeat
		}
		p := placed[*rig.ReceiverTrial]{rec: r, cond: cond, repeat: repeat}
		if repeat <= 0 {
			pending = append(pending, p)
			continue
		}
		c := cell{cond.ID, repeat}
		if taken[c] {
			excl = append(excl, exclusion(r.Source, core.NodeReceiver, cond.Name, repeat,
				metrics.ExclusionUnmatched, "duplicate receiver log for this condition and repeat"))
			continue
		}
		taken[c] = true
		out = append(out, p)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].rec.Source < pending[j].rec.Source })
	out = append(out, assignOrdinals(pending, taken)...)
	return out, excl
}

// inferReceiverCondition picks the only declared condition consistent with
// the dominant tag mode and, for fixed conditions, the tag interval
func (m *Matcher) inferReceiverCondition(r *rig.ReceiverTrial) (rig.Condition, bool) {
	mode, ok := r.DominantMode()
	if !ok {
		return rig.Condition{}, false
	}
	intervals := make(map[int]int)
	for _, e := range r.Events {
		if e.Tag != nil {
			intervals[e.Tag.IntervalMS]++
		}
	}
	var match []rig.Condition
	for _, c := range m.conds.All() {
		if c.Mode != mode {
			continue
		}
		if c.Mode == rig.ModeFixed && intervals[c.IntervalMS] == 0 {
			continue
		}
		match = append(match, c)
	}
	if len(match) != 1 {
		return rig.Condition{}, false
	}
	return match[0], true
}

func (m *Matcher) placePower(records []*rig.PowerTrialRecord) ([]placed[*rig.PowerTrialRecord], []metrics.Exclusion) {
	var excl []metrics.Exclusion
	var good, corrupt []placed[*rig.PowerTrialRecord]

	for _, p := range records {
		o, include := m.override(p.Source)
		if !include {
			excl = append(excl, exclusion(p.Source, core.NodePower, p.Header.Condition, p.Header.Repeat,
				metrics.ExclusionManifest, o.Reason))
			continue
		}
		if !p.Complete() {
			excl = append(excl, exclusion(p.Source, core.NodePower, p.Header.Condition, p.Header.Repeat,
				metrics.ExclusionIncomplete, errors.IncompleteTrial("missing summary/diag footer").Error()))
			continue
		}
		if d := float64(p.Duration()); d < m.cfg.MinDurationMS {
			excl = append(excl, exclusion(p.Source, core.NodePower, p.Header.Condition, p.Header.Repeat,
				metrics.ExclusionIncomplete, underDuration(d, m.cfg.MinDurationMS)))
			continue
		}
		repeat := p.Header.Repeat
		if o.Repeat != nil {
			repeat = *o.Repeat
		}
		if o.Condition != "" {
			if c, ok := m.conds.ByName(o.Condition); ok {
				good = append(good, placed[*rig.PowerTrialRecord]{rec: p, cond: c, repeat: repeat})
				continue
			}
		}
		cond, ok := m.conds.ByID(p.Header.ConditionID)
		trusted := ok && p.Header.PreambleStatus != rig.PreambleCorrupt && p.Header.PreambleStatus != rig.PreambleMissing
		if trusted {
			good = append(good, placed[*rig.PowerTrialRecord]{rec: p, cond: cond, repeat: repeat})
			continue
		}
		corrupt = append(corrupt, placed[*rig.PowerTrialRecord]{rec: p, repeat: repeat})
	}

	for _, p := range corrupt {
		ticks, _ := p.rec.TickCount()
		cond, ok := nearestSignature(ticks, tickSignatures(good, m.conds, float64(p.rec.Duration())))
		if !ok {
			excl = append(excl, exclusion(p.rec.Source, core.NodePower, p.rec.Header.Condition, p.repeat,
				metrics.ExclusionPreamble, errors.PreambleCorruption(fmt.Sprintf("cond_id %d (%s) not recoverable from tick count %d",
					p.rec.Header.ConditionID, p.rec.Header.PreambleStatus, ticks)).Error()))
			continue
		}
		m.logger.Warn("%s: preamble %s, reassigned to %s by tick count %d", p.rec.Source, p.rec.Header.PreambleStatus, cond.Name, ticks)
		p.cond = cond
		p.repeat = 0
		good = append(good, p)
	}

	taken := make(map[cell]bool)
	var out, pending []placed[*rig.PowerTrialRecord]
	for _, p := range good {
		if p.repeat <= 0 {
			pending = append(pending, p)
			continue
		}
		c := cell{p.cond.ID, p.repeat}
		if taken[c] {
			excl = append(excl, exclusion(p.rec.Source, core.NodePower, p.cond.Name, p.repeat,
				metrics.ExclusionUnmatched, "duplicate power log for this condition and repeat"))
			continue
		}
		taken[c] = true
		out = append(out, p)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].rec.Source < pending[j].rec.Source })
	out = append(out, assignOrdinals(pending, taken)...)
	return out, excl
}

// assignOrdinals gives logs without a repeat index the lowest free repeat of
// their condition, in input order
func assignOrdinals[T any](pending []placed[T], taken map[cell]bool) []placed[T] {
	for i := range pending {
		r := 1
		for taken[cell{pending[i].cond.ID, r}] {
			r++
		}
		pending[i].repeat = r
		taken[cell{pending[i].cond.ID, r}] = true
	}
	return pending
}

type signature struct {
	cond  rig.Condition
	ticks float64
}

// tickSignatures returns the expected tick count of every condition: the
// median of its trusted logs, or duration/interval for fixed conditions
// without any
func tickSignatures(good []placed[*rig.PowerTrialRecord], conds *rig.ConditionSet, durationMS float64) []signature {
	byCond := make(map[int][]float64)
	for _, p := range good {
		if n, ok := p.rec.TickCount(); ok {
			byCond[p.cond.ID] = append(byCond[p.cond.ID], float64(n))
		}
	}
	var out []signature
	for _, c := range conds.All() {
		if med, ok := Median(byCond[c.ID]); ok {
			out = append(out, signature{cond: c, ticks: med})
			continue
		}
		if c.Mode == rig.ModeFixed && c.IntervalMS > 0 && durationMS > 0 {
			out = append(out, signature{cond: c, ticks: math.Ceil(durationMS / float64(c.IntervalMS))})
		}
	}
	return out
}

// nearestSignature returns the condition whose signature is closest to ticks.
// A tie, or a distance above a quarter of the signature, is rejected.
func nearestSignature(ticks int, sigs []signature) (rig.Condition, bool) {
	best, second := -1, math.Inf(1)
	bestDist := math.Inf(1)
	for i, s := range sigs {
		d := math.Abs(float64(ticks) - s.ticks)
		switch {
		case d < bestDist:
			second = bestDist
			best, bestDist = i, d
		case d < second:
			second = d
		}
	}
	if best < 0 || bestDist == second {
		return rig.Condition{}, false
	}
	if bestDist > 0.25*sigs[best].ticks {
		return rig.Condition{}, false
	}
	return sigs[best].cond, true
}

// powerOutliers flags, within each condition, logs whose mean current lies
// above median + k·MAD
func (m *Matcher) powerOutliers(pw []placed[*rig.PowerTrialRecord]) map[string]bool {
	out := make(map[string]bool)
	if m.cfg.OutlierMADK <= 0 {
		return out
	}
	byCond := make(map[int][]*rig.PowerTrialRecord)
	for _, p := range pw {
		byCond[p.cond.ID] = append(byCond[p.cond.ID], p.rec)
	}
	for _, recs := range byCond {
		vals := make([]float64, len(recs))
		for i, r := range recs {
			vals[i] = r.Diag.MeanI
		}
		for _, i := range MADOutliers(vals, m.cfg.OutlierMADK) {
			out[recs[i].Source] = true
		}
	}
	return out
}
