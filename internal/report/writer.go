package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"

	"beaconrig/domain/metrics"
	"beaconrig/domain/run"
	"beaconrig/internal/errors"
)

// Output file names inside a results directory
const (
	TrialsCSV      = "trials.csv"
	SummaryCSV     = "summary.csv"
	ExclusionsJSON = "exclusions.json"
	SummaryMD      = "summary.md"
	SummaryHTML    = "summary.html"
	RunManifest    = "run_manifest.json"
	ReportJSON     = "report.json"
)

// WriteCSV writes a table with encoding/csv
func WriteCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteJSON writes v indented
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteAll writes every text output of a run into dir and returns the paths
func WriteAll(dir string, r *metrics.Report, manifest *run.RunManifest) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create results dir %s", dir)
	}
	var written []string
	path := func(name string) string {
		p := filepath.Join(dir, name)
		written = append(written, p)
		return p
	}

	if err := WriteCSV(path(TrialsCSV), TrialTable(r)); err != nil {
		return nil, errors.Wrap(err, "write trials table")
	}
	if err := WriteCSV(path(SummaryCSV), SummaryTable(r)); err != nil {
		return nil, errors.Wrap(err, "write summary table")
	}
	excl := r.Exclusions
	if excl == nil {
		excl = []metrics.Exclusion{}
	}
	if err := WriteJSON(path(ExclusionsJSON), excl); err != nil {
		return nil, errors.Wrap(err, "write exclusions")
	}
	md := Markdown(r)
	if err := os.WriteFile(path(SummaryMD), md, 0o644); err != nil {
		return nil, errors.Wrap(err, "write markdown summary")
	}
	if err := os.WriteFile(path(SummaryHTML), HTML(md, "Run "+r.RunID.String()), 0o644); err != nil {
		return nil, errors.Wrap(err, "write html summary")
	}
	if err := WriteJSON(path(ReportJSON), r); err != nil {
		return nil, errors.Wrap(err, "write report")
	}
	if manifest != nil {
		if err := WriteJSON(path(RunManifest), manifest); err != nil {
			return nil, errors.Wrap(err, "write run manifest")
		}
	}
	return written, nil
}

// ReadReport loads report.json and, when present, run_manifest.json from a
// results directory
func ReadReport(dir string) (*metrics.Report, *run.RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportJSON))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", ReportJSON)
	}
	var r metrics.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, RunManifest))
	if os.IsNotExist(err) {
		return &r, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", RunManifest)
	}
	var m run.RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return &r, &m, nil
}
