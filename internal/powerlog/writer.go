package powerlog

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"beaconrig/domain/rig"
)

// Column header of the sample rows
const Columns = "ms,voltage_v,current_ma,tick_count"

// WriteHeader writes the version line, metadata line and column header
func WriteHeader(w io.Writer, hdr rig.PowerHeader) error {
	_, err := fmt.Fprintf(w, "# power_log=v1\n# cond_id=%d,condition=%s,nominal_interval_ms=%d,planned_duration_ms=%s,preamble=%s,preamble_status=%s,repeat=%d\n%s\n",
		hdr.ConditionID, hdr.Condition, hdr.NominalIntervalMS, formatFloat(float64(hdr.PlannedDurationMS)),
		hdr.Preamble, hdr.PreambleStatus, hdr.Repeat, Columns)
	return err
}

// WriteRow writes one sample row
func WriteRow(w io.Writer, s rig.PowerSample) error {
	_, err := fmt.Fprintf(w, "%s,%s,%s,%d\n", formatFloat(float64(s.MS)), formatFloat(s.Volts), formatFloat(s.MilliAmps), s.TickCount)
	return err
}

// WriteFooter writes the summary and diagnostic footers
func WriteFooter(w io.Writer, sum rig.PowerSummary, diag rig.PowerDiag) error {
	perAdv := "NaN"
	if sum.EPerAdvUJ != nil {
		perAdv = formatFloat(*sum.EPerAdvUJ)
	}
	_, err := fmt.Fprintf(w, "# summary, ms_total=%s, adv_count=%d, E_total_mJ=%s, E_per_adv_uJ=%s, avg_power_mW=%s\n# diag, samples=%d, mean_v=%s, mean_i=%s, mean_p_mW=%s\n",
		formatFloat(float64(sum.MsTotal)), sum.AdvCount, formatFloat(sum.ETotalMJ), perAdv, formatFloat(sum.AvgPowerMW),
		diag.Samples, formatFloat(diag.MeanV), formatFloat(diag.MeanI), formatFloat(diag.MeanPmW))
	return err
}

// WriteRecord writes a whole record; footers only when present
func WriteRecord(w io.Writer, rec *rig.PowerTrialRecord) error {
	if err := WriteHeader(w, rec.Header); err != nil {
		return err
	}
	for _, s := range rec.Samples {
		if err := WriteRow(w, s); err != nil {
			return err
		}
	}
	if rec.Complete() {
		return WriteFooter(w, *rec.Summary, *rec.Diag)
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DirStore writes one file per trial: trial_<idx>_c<cond>_<condition>.csv
type DirStore struct {
	Dir  string
	next int
}

// NewDirStore creates the directory if needed
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{Dir: dir, next: 1}, nil
}

func (s *DirStore) Begin(hdr rig.PowerHeader) (TrialWriter, error) {
	name := hdr.Condition
	if name == "" {
		name = "unknown"
	}
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	path := filepath.Join(s.Dir, fmt.Sprintf("trial_%03d_c%d_%s.csv", s.next, hdr.ConditionID, name))
	s.next++
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	tw := &fileTrial{f: f, w: bufio.NewWriter(f)}
	if err := WriteHeader(tw.w, hdr); err != nil {
		f.Close()
		return nil, err
	}
	return tw, nil
}

type fileTrial struct {
	f *os.File
	w *bufio.Writer
}

func (t *fileTrial) Row(s rig.PowerSample) error { return WriteRow(t.w, s) }

func (t *fileTrial) Close(sum rig.PowerSummary, diag rig.PowerDiag) error {
	if err := WriteFooter(t.w, sum, diag); err != nil {
		t.f.Close()
		return err
	}
	return t.Abort()
}

func (t *fileTrial) Abort() error {
	if err := t.w.Flush(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}
