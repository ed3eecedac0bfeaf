package logs

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// ReadTrace loads a signal trace from .csv or .xlsx (first sheet). Columns:
// step_idx,u_raw,ccs_raw[,u_ema,ccs_ema][,label].
func ReadTrace(path string, gridMS int) (*rig.Trace, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("trace file not found: %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err := readSheetRows(path)
		if err != nil {
			return nil, err
		}
		return traceFromRows(rows, gridMS, path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseTrace(f, gridMS, path)
	}
}

// ParseTrace reads a CSV trace
func ParseTrace(r io.Reader, gridMS int, source string) (*rig.Trace, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", source, err)
	}
	return traceFromRows(rows, gridMS, source)
}

func readSheetRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	return rows, nil
}

func traceFromRows(rows [][]string, gridMS int, source string) (*rig.Trace, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: trace %s is empty", core.ErrInvalidLogEntry, source)
	}
	cols := indexColumns(rows[0])
	for _, required := range []string{"u_raw", "ccs_raw"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: trace %s lacks %s column", core.ErrInvalidLogEntry, source, required)
		}
	}
	_, hasU := cols["u_ema"]
	_, hasC := cols["ccs_ema"]
	trace := &rig.Trace{GridMS: gridMS, Smoothed: hasU && hasC}

	for i, row := range rows[1:] {
		s := rig.SignalSample{
			StepIdx: i,
			URaw:    parseSignal(fieldByName(row, cols, "u_raw")),
			CCSRaw:  parseSignal(fieldByName(row, cols, "ccs_raw")),
			Label:   fieldByName(row, cols, "label"),
		}
		if v := fieldByName(row, cols, "step_idx"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				s.StepIdx = n
			}
		}
		if trace.Smoothed {
			s.UEMA = parseSignal(fieldByName(row, cols, "u_ema"))
			s.CCSEMA = parseSignal(fieldByName(row, cols, "ccs_ema"))
		}
		trace.Samples = append(trace.Samples, s)
	}
	return trace, nil
}

// parseSignal maps empty or unparsable cells to NaN
func parseSignal(v string) float64 {
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// WriteTrace writes a trace as CSV with smoothed columns and labels
func WriteTrace(w io.Writer, trace *rig.Trace) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step_idx", "u_raw", "ccs_raw", "u_ema", "ccs_ema", "label"}); err != nil {
		return err
	}
	for _, s := range trace.Samples {
		row := []string{
			strconv.Itoa(s.StepIdx),
			formatSignal(s.URaw),
			formatSignal(s.CCSRaw),
			formatSignal(s.UEMA),
			formatSignal(s.CCSEMA),
			s.Label,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// NaN is written as an empty cell, the inverse of parseSignal
func formatSignal(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
