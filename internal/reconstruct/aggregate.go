package reconstruct

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
)

// Metric column names shared by the aggregate and the report writers
const (
	MetricPDRUnique          = "pdr_unique"
	MetricPDRRaw             = "pdr_raw"
	MetricTLMean             = "tl_mean_s"
	MetricTLP50              = "tl_p50_s"
	MetricTLP95              = "tl_p95_s"
	MetricTLMax              = "tl_max_s"
	MetricAvgPower           = "avg_power_mw"
	MetricEnergy             = "energy_mj"
	MetricEnergyPerTx        = "energy_per_tx_uj"
	MetricDeltaEnergyPerTx   = "delta_energy_per_tx_uj"
	MetricTransitionLatency  = "transition_latency_s"
	MetricRSSIMedian         = "rssi_median"
	MetricScheduleDivergence = "schedule_divergence"
)

// PoutName is the column of Pout at tau seconds
func PoutName(tau float64) string { return "pout_" + formatTau(tau) + "s" }

// PoutTransitionName is the column of transition outage at tau seconds
func PoutTransitionName(tau float64) string { return "pout_transition_" + formatTau(tau) + "s" }

// ShareTimeName is the column of the time-based share of interval ms
func ShareTimeName(ms int) string { return fmt.Sprintf("share_time_%d", ms) }

// ShareCountName is the column of the count-based share of interval ms
func ShareCountName(ms int) string { return fmt.Sprintf("share_count_%d", ms) }

func formatTau(tau float64) string { return strconv.FormatFloat(tau, 'f', -1, 64) }

// MetricNames lists the aggregated metrics in report column order
func MetricNames(taus []float64, intervals []int) []string {
	names := []string{MetricPDRUnique, MetricPDRRaw}
	for _, tau := range taus {
		names = append(names, PoutName(tau))
	}
	names = append(names, MetricTLMean, MetricTLP50, MetricTLP95, MetricTLMax,
		MetricAvgPower, MetricEnergy, MetricEnergyPerTx, MetricDeltaEnergyPerTx)
	for _, iv := range intervals {
		names = append(names, ShareTimeName(iv))
	}
	for _, iv := range intervals {
		names = append(names, ShareCountName(iv))
	}
	names = append(names, MetricTransitionLatency)
	for _, tau := range taus {
		names = append(names, PoutTransitionName(tau))
	}
	return append(names, MetricRSSIMedian, MetricScheduleDivergence)
}

// MetricValues flattens a trial row into named values; undefined ones are nil
func MetricValues(m metrics.TrialMetrics, taus []float64, intervals []int) map[string]*float64 {
	v := map[string]*float64{
		MetricPDRUnique:         m.PDRUnique,
		MetricPDRRaw:            m.PDRRaw,
		MetricTLMean:            m.TLMean,
		MetricTLP50:             m.TLP50,
		MetricTLP95:             m.TLP95,
		MetricTLMax:             m.TLMax,
		MetricAvgPower:          m.AvgPowerMW,
		MetricEnergy:            m.EnergyMJ,
		MetricEnergyPerTx:       m.EnergyPerTxUJ,
		MetricDeltaEnergyPerTx:  m.DeltaEnergyPerTx,
		MetricTransitionLatency: m.TransitionLatency,
		MetricRSSIMedian:        m.RSSIMedian,
	}
	if m.ScheduleDivergence != nil {
		v[MetricScheduleDivergence] = metrics.Float(float64(*m.ScheduleDivergence))
	}
	for _, tau := range taus {
		v[PoutName(tau)] = metrics.At(m.Pout, tau)
		v[PoutTransitionName(tau)] = metrics.At(m.PoutTransition, tau)
	}
	for _, iv := range intervals {
		v[ShareTimeName(iv)] = m.ShareTime[iv]
		v[ShareCountName(iv)] = m.ShareCount[iv]
	}
	return v
}

// Aggregate summarizes trials per condition in declaration order. Cells with
// fewer than two trials are flagged low confidence, and so is every stat
// averaged over fewer than two defined values. Adaptive conditions also get
// the power-mix share of the fastest interval.
func Aggregate(trials []metrics.TrialMetrics, conds []rig.Condition, taus []float64, intervals []int) []metrics.ConditionSummary {
	byCond := make(map[string][]metrics.TrialMetrics)
	for _, t := range trials {
		byCond[t.Condition] = append(byCond[t.Condition], t)
	}
	names := MetricNames(taus, intervals)

	out := make([]metrics.ConditionSummary, 0, len(conds))
	for _, c := range conds {
		rows := byCond[c.Name]
		s := metrics.ConditionSummary{
			Condition:     c.Name,
			ConditionID:   c.ID,
			Trials:        len(rows),
			LowConfidence: len(rows) < 2,
			Metrics:       make(map[string]metrics.MetricStat, len(names)),
		}
		flat := make([]map[string]*float64, len(rows))
		for i, r := range rows {
			flat[i] = MetricValues(r, taus, intervals)
		}
		for _, name := range names {
			vals := make([]*float64, len(flat))
			for i, f := range flat {
				vals[i] = f[name]
			}
			s.Metrics[name] = Describe(vals)
		}
		out = append(out, s)
	}
	attachPowerMix(out, conds, intervals)
	return out
}

// PowerMixShare solves pDyn = s·pFast + (1−s)·pSlow for s, clamped to
// [0,1]. Nil when both references draw the same power.
func PowerMixShare(pDyn, pFast, pSlow float64) *float64 {
	denom := pFast - pSlow
	if denom == 0 {
		return nil
	}
	s := (pDyn - pSlow) / denom
	return metrics.Float(math.Max(0, math.Min(1, s)))
}

// attachPowerMix fills PowerMixShare for the adaptive conditions from the
// mean power of the fixed conditions at the two shortest intervals
func attachPowerMix(sums []metrics.ConditionSummary, conds []rig.Condition, intervals []int) {
	if len(intervals) < 2 {
		return
	}
	ivs := append([]int(nil), intervals...)
	sort.Ints(ivs)
	fast, slow := ivs[0], ivs[1]

	var pFast, pSlow *float64
	for i, c := range conds {
		if c.Mode != rig.ModeFixed {
			continue
		}
		mean := sums[i].Metric(MetricAvgPower).Mean
		switch {
		case c.IntervalMS == fast && pFast == nil:
			pFast = mean
		case c.IntervalMS == slow && pSlow == nil:
			pSlow = mean
		}
	}
	if pFast == nil || pSlow == nil {
		return
	}
	for i, c := range conds {
		if !c.Mode.Adaptive() {
			continue
		}
		if mean := sums[i].Metric(MetricAvgPower).Mean; mean != nil {
			sums[i].PowerMixShare = PowerMixShare(*mean, *pFast, *pSlow)
		}
	}
}
