package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
	"beaconrig/domain/run"
	"beaconrig/internal/reconstruct"
)

func sampleReport() *metrics.Report {
	trial := metrics.TrialMetrics{
		TrialKey:    core.NewTrialKey(core.NodeReceiver, "F100-r1"),
		Condition:   "F100",
		ConditionID: 1,
		Repeat:      1,
		DurationMS:  60000,
		Steps:       600,
		TickCount:   metrics.Int(600),
		PDRUnique:   metrics.Float(0.95),
		PDRRaw:      metrics.Float(1.2),
		Pout:        []metrics.TauValue{{TauS: 1, Value: metrics.Float(0)}},
		TLMean:      metrics.Float(0.105),
		ShareTime:   map[int]*float64{100: metrics.Float(1)},
		ShareCount:  map[int]*float64{100: nil},
	}
	return &metrics.Report{
		RunID:     core.NewRunID(),
		Taus:      []float64{1},
		Intervals: []int{100},
		Trials:    []metrics.TrialMetrics{trial},
		Summaries: reconstruct.Aggregate([]metrics.TrialMetrics{trial},
			[]rig.Condition{{ID: 1, Name: "F100", Mode: rig.ModeFixed, IntervalMS: 100}}, []float64{1}, []int{100}),
		Exclusions: []metrics.Exclusion{{
			Source: "pw/trial_002_c1_F100.csv", Node: core.NodePower, Kind: metrics.ExclusionIncomplete, Reason: "missing footer | cable",
		}},
		Warnings: []string{"rx/rx_trial_003.csv: tick count denominator missing"},
	}
}

func TestTrialTableLeavesUndefinedCellsEmpty(t *testing.T) {
	tbl := TrialTable(sampleReport())
	require.Len(t, tbl.Rows, 1)
	col := func(name string) string {
		for i, h := range tbl.Headers {
			if h == name {
				return tbl.Rows[0][i]
			}
		}
		t.Fatalf("missing column %s", name)
		return ""
	}
	assert.Equal(t, "0.95", col(reconstruct.MetricPDRUnique))
	assert.Equal(t, "1.2", col(reconstruct.MetricPDRRaw))
	assert.Equal(t, "0", col(reconstruct.PoutName(1)))
	assert.Equal(t, "", col(reconstruct.MetricTLP95))
	assert.Equal(t, "", col(reconstruct.ShareCountName(100)))
	assert.Equal(t, "600", col("tick_count"))
}

func TestSummaryTableCarriesConfidenceAndPowerMix(t *testing.T) {
	r := sampleReport()
	r.Summaries[0].PowerMixShare = metrics.Float(0.25)
	tbl := SummaryTable(r)
	require.Len(t, tbl.Rows, 1)
	col := func(name string) string {
		for i, h := range tbl.Headers {
			if h == name {
				return tbl.Rows[0][i]
			}
		}
		t.Fatalf("missing column %s", name)
		return ""
	}
	assert.Equal(t, "true", col("low_confidence"))
	assert.Equal(t, "0.25", col("power_mix_share"))
	assert.Equal(t, "1", col(reconstruct.MetricPDRUnique+"_n"))
	assert.Equal(t, "true", col(reconstruct.MetricPDRUnique+"_low_confidence"))
}

func TestMarkdownAndHTML(t *testing.T) {
	r := sampleReport()
	md := string(Markdown(r))
	assert.Contains(t, md, "| F100 * | 1 |")
	assert.Contains(t, md, "Pout(1s)")
	assert.Contains(t, md, "missing footer \\| cable")
	assert.Contains(t, md, "## Warnings")

	html := string(HTML([]byte(md), "Run"))
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<title>Run</title>")
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	r := sampleReport()
	man := run.NewRunManifest(r.RunID, map[string]core.Hash{"rx/a.csv": core.NewHash([]byte("a"))}, map[string]interface{}{"grid_ms": 100}, "", "test")

	paths, err := WriteAll(dir, r, man)
	require.NoError(t, err)
	assert.Len(t, paths, 7)

	f, err := os.Open(filepath.Join(dir, TrialsCSV))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	data, err := os.ReadFile(filepath.Join(dir, ExclusionsJSON))
	require.NoError(t, err)
	var excl []metrics.Exclusion
	require.NoError(t, json.Unmarshal(data, &excl))
	require.Len(t, excl, 1)
	assert.Equal(t, metrics.ExclusionIncomplete, excl[0].Kind)

	data, err = os.ReadFile(filepath.Join(dir, RunManifest))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), r.RunID.String()))
}

func TestReadReport(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport()
	_, err := WriteAll(dir, r, nil)
	require.NoError(t, err)

	got, man, err := ReadReport(dir)
	require.NoError(t, err)
	assert.Nil(t, man)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Len(t, got.Trials, len(r.Trials))
	assert.Len(t, got.Exclusions, 1)

	_, _, err = ReadReport(t.TempDir())
	assert.Error(t, err)
}
