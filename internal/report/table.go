package report

import (
	"math"
	"strconv"

	"beaconrig/domain/metrics"
	"beaconrig/internal/reconstruct"
)

// Table is a named header + rows grid shared by the CSV and XLSX writers
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// TrialTable renders one row per trial. Undefined values are empty cells.
func TrialTable(r *metrics.Report) Table {
	names := reconstruct.MetricNames(r.Taus, r.Intervals)
	t := Table{Name: "trials", Headers: append([]string{
		"trial_key", "condition", "condition_id", "repeat", "power_source", "duration_ms",
		"steps", "scheduled_steps", "receptions", "unique_steps", "tick_count",
		"offset_ms", "offset_residual_ms", "denominator_missing",
	}, names...)}
	for _, m := range r.Trials {
		row := []string{
			m.TrialKey.String(), m.Condition, strconv.Itoa(m.ConditionID), strconv.Itoa(m.Repeat),
			m.PowerSource, fToStr(float64(m.DurationMS), 0),
			strconv.Itoa(m.Steps), strconv.Itoa(m.ScheduledSteps), strconv.Itoa(m.Receptions),
			strconv.Itoa(m.UniqueSteps), intStr(m.TickCount),
			fToStr(m.OffsetMS, 3), fToStr(m.OffsetResidual, 3), strconv.FormatBool(m.DenominatorMissing),
		}
		vals := reconstruct.MetricValues(m, r.Taus, r.Intervals)
		for _, n := range names {
			row = append(row, ptrStr(vals[n], 6))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// SummaryTable renders one row per condition with mean, std, ci95, n and the
// low-confidence flag of every metric
func SummaryTable(r *metrics.Report) Table {
	names := reconstruct.MetricNames(r.Taus, r.Intervals)
	t := Table{Name: "summary", Headers: []string{"condition", "condition_id", "trials", "low_confidence", "power_mix_share"}}
	for _, n := range names {
		t.Headers = append(t.Headers, n+"_mean", n+"_std", n+"_ci95", n+"_n", n+"_low_confidence")
	}
	for _, s := range r.Summaries {
		row := []string{s.Condition, strconv.Itoa(s.ConditionID), strconv.Itoa(s.Trials), strconv.FormatBool(s.LowConfidence), ptrStr(s.PowerMixShare, 6)}
		for _, n := range names {
			st := s.Metric(n)
			row = append(row, ptrStr(st.Mean, 6), ptrStr(st.Std, 6), ptrStr(st.CI95, 6), strconv.Itoa(st.N), strconv.FormatBool(st.LowConfidence))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ExclusionTable lists excluded logs
func ExclusionTable(r *metrics.Report) Table {
	t := Table{Name: "exclusions", Headers: []string{"source", "node", "condition", "repeat", "kind", "reason"}}
	for _, e := range r.Exclusions {
		t.Rows = append(t.Rows, []string{e.Source, string(e.Node), e.Condition, strconv.Itoa(e.Repeat), string(e.Kind), e.Reason})
	}
	return t
}

func ptrStr(v *float64, decimals int) string {
	if v == nil || math.IsNaN(*v) {
		return ""
	}
	return fToStr(*v, decimals)
}

func intStr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func fToStr(x float64, decimals int) string {
	p := math.Pow10(decimals)
	x = math.Round(x*p) / p
	return strconv.FormatFloat(x, 'f', -1, 64)
}
