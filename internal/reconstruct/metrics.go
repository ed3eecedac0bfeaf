package reconstruct

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
	"beaconrig/internal/policy"
)

// MetricInputs is everything one trial's metrics depend on
type MetricInputs struct {
	Trial    *Trial
	Timeline *Timeline
	TausS    []float64
	// Intervals is the union action set used as share keys
	Intervals []int
	// Truth is the per-step truth class of the signal trace, nil when absent
	Truth []int
	// Replayed is the controller schedule for adaptive trials, nil otherwise
	Replayed        *policy.Schedule
	BaselinePowerMW *float64
}

// ComputeMetrics derives the per-trial metric row. Undefined values stay nil.
func ComputeMetrics(in MetricInputs) metrics.TrialMetrics {
	tr, tl := in.Trial, in.Timeline
	m := metrics.TrialMetrics{
		TrialKey:       tr.Key,
		Condition:      tr.Condition.Name,
		ConditionID:    tr.Condition.ID,
		Repeat:         tr.Repeat,
		DurationMS:     tl.DurationMS(),
		Steps:          len(tl.Steps),
		ScheduledSteps: tl.ScheduledCount(),
		Receptions:     len(tr.Receiver.Events),
		UniqueSteps:    len(tl.Unique),
		OffsetMS:       tl.Offset.MS,
		OffsetResidual: tl.Offset.Residual,
	}
	if tr.Power != nil {
		m.PowerSource = tr.Power.Source
	}

	ticks, hasTicks := tr.TickCount()
	if hasTicks {
		m.TickCount = metrics.Int(ticks)
	}
	m.PDRRaw, m.PDRUnique, m.DenominatorMissing = deliveryRatios(m.Receptions, m.UniqueSteps, ticks, hasTicks)

	m.Pout = make([]metrics.TauValue, 0, len(in.TausS))
	for _, tau := range in.TausS {
		m.Pout = append(m.Pout, metrics.TauValue{TauS: tau, Value: windowOutage(tl, tau)})
	}

	if g, ok := SummarizeGaps(receptionGaps(tl)); ok {
		m.TLMean = metrics.Float(g.Mean)
		m.TLP50 = metrics.Float(g.P50)
		m.TLP95 = metrics.Float(g.P95)
		m.TLMax = metrics.Float(g.Max)
	}

	energy(&m, tr, ticks, hasTicks, in.BaselinePowerMW)

	m.ShareTime = timeShare(tl, in.Intervals)
	m.ShareCount = countShare(tr.Power, in.Intervals)

	if in.Truth != nil {
		lat, pout := transitionLatency(in.Truth, tl, in.TausS)
		m.TransitionLatency = lat
		m.PoutTransition = pout
	}

	var rssi []float64
	for _, e := range tr.Receiver.Events {
		if e.RSSI != nil {
			rssi = append(rssi, float64(*e.RSSI))
		}
	}
	if med, ok := Median(rssi); ok {
		m.RSSIMedian = metrics.Float(med)
	}

	if in.Replayed != nil && hasTicks {
		planned := 0
		for _, s := range in.Replayed.TxSteps {
			if s < len(tl.Steps) {
				planned++
			}
		}
		m.ScheduleDivergence = metrics.Int(planned - ticks)
	}
	return m
}

// deliveryRatios divides by the power logger tick count. Without it both
// ratios are undefined; PDR_unique is clamped to [0,1].
func deliveryRatios(receptions, unique, ticks int, hasTicks bool) (raw, uniq *float64, missing bool) {
	if !hasTicks || ticks <= 0 {
		return nil, nil, true
	}
	r := float64(receptions) / float64(ticks)
	u := math.Min(math.Max(float64(unique)/float64(ticks), 0), 1)
	return metrics.Float(r), metrics.Float(u), false
}

// windowOutage tiles the trial into whole tau windows and returns the
// fraction with no unique reception. Duplicates do not cover a window.
// Nil when no whole window fits.
func windowOutage(tl *Timeline, tauS float64) *float64 {
	tauMS := tauS * 1000
	if tauMS <= 0 {
		return nil
	}
	windows := int(float64(tl.DurationMS()) / tauMS)
	if windows == 0 {
		return nil
	}
	hit := make([]bool, windows)
	for _, a := range tl.Unique {
		w := int(math.Floor(float64(a.AlignedMS) / tauMS))
		if w >= 0 && w < windows {
			hit[w] = true
		}
	}
	empty := 0
	for _, h := range hit {
		if !h {
			empty++
		}
	}
	return metrics.Float(float64(empty) / float64(windows))
}

// receptionGaps returns the gaps in seconds between consecutive unique
// receptions, ordered by arrival time
func receptionGaps(tl *Timeline) []float64 {
	if len(tl.Unique) < 2 {
		return nil
	}
	times := make([]float64, len(tl.Unique))
	for i, a := range tl.Unique {
		times[i] = float64(a.AlignedMS)
	}
	sort.Float64s(times)
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, (times[i]-times[i-1])/1000)
	}
	return gaps
}

func energy(m *metrics.TrialMetrics, tr *Trial, ticks int, hasTicks bool, baselineMW *float64) {
	p := tr.Power
	if p == nil || p.Summary == nil {
		return
	}
	m.AvgPowerMW = metrics.Float(p.Summary.AvgPowerMW)
	m.EnergyMJ = metrics.Float(p.Summary.ETotalMJ)
	if !hasTicks || ticks <= 0 {
		return
	}
	if p.Summary.EPerAdvUJ != nil {
		m.EnergyPerTxUJ = metrics.Float(*p.Summary.EPerAdvUJ)
	} else {
		m.EnergyPerTxUJ = metrics.Float(p.Summary.ETotalMJ * 1000 / float64(ticks))
	}
	if baselineMW != nil {
		idleMJ := *baselineMW * p.Summary.MsTotal.Seconds()
		m.DeltaEnergyPerTx = metrics.Float((p.Summary.ETotalMJ - idleMJ) * 1000 / float64(ticks))
	}
}

// timeShare weights each interval by the airtime its unique received steps
// cover: share_i = n_i·i / Σ n_j·j
func timeShare(tl *Timeline, intervals []int) map[int]*float64 {
	counts := make(map[int]int)
	for _, a := range tl.Unique {
		if iv := tl.Steps[a.Step].IntervalMS; iv > 0 {
			counts[iv]++
		}
	}
	denom := 0.0
	for iv, n := range counts {
		denom += float64(n * iv)
	}
	out := make(map[int]*float64, len(intervals))
	for _, iv := range intervals {
		if denom == 0 {
			out[iv] = nil
			continue
		}
		out[iv] = metrics.Float(float64(counts[iv]*iv) / denom)
	}
	return out
}

// countShare classifies each gap between logged ticks to the nearest allowed
// interval and returns the fraction of transmissions per interval
func countShare(p *rig.PowerTrialRecord, intervals []int) map[int]*float64 {
	out := make(map[int]*float64, len(intervals))
	var times []core.Millis
	if p != nil {
		times = p.TickTimes()
	}
	counts := make(map[int]int)
	total := 0
	for i := 1; i < len(times); i++ {
		gap := int(math.Round(float64(times[i] - times[i-1])))
		counts[policy.Project(gap, intervals)]++
		total++
	}
	for _, iv := range intervals {
		if total == 0 {
			out[iv] = nil
			continue
		}
		out[iv] = metrics.Float(float64(counts[iv]) / float64(total))
	}
	return out
}

// transitionLatency measures, for every truth label change, the time to the
// first reception carrying the new label. Pout per tau is the fraction of
// changes not delivered within tau.
func transitionLatency(truth []int, tl *Timeline, taus []float64) (*float64, []metrics.TauValue) {
	type change struct {
		at    float64
		label int
	}
	var changes []change
	limit := len(truth)
	if limit > len(tl.Steps) {
		limit = len(tl.Steps)
	}
	for i := 1; i < limit; i++ {
		if truth[i] != truth[i-1] && truth[i] >= 0 {
			changes = append(changes, change{at: float64(i * tl.GridMS), label: truth[i]})
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	byLabel := make(map[int][]float64)
	for _, a := range tl.Arrivals {
		if c, ok := rig.LabelClass(a.Label); ok {
			byLabel[c] = append(byLabel[c], float64(a.AlignedMS))
		}
	}

	lat := make([]float64, len(changes))
	var finite []float64
	for i, c := range changes {
		lat[i] = math.Inf(1)
		arr := byLabel[c.label]
		j := sort.SearchFloat64s(arr, c.at)
		if j < len(arr) {
			lat[i] = (arr[j] - c.at) / 1000
			finite = append(finite, lat[i])
		}
	}

	var mean *float64
	if len(finite) > 0 {
		mean = metrics.Float(stat.Mean(finite, nil))
	}
	pout := make([]metrics.TauValue, 0, len(taus))
	for _, tau := range taus {
		miss := 0
		for _, l := range lat {
			if l > tau {
				miss++
			}
		}
		pout = append(pout, metrics.TauValue{TauS: tau, Value: metrics.Float(float64(miss) / float64(len(lat)))})
	}
	return mean, pout
}
