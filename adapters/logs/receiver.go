package logs

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// ParseReceiverLog reads a receiver log. Malformed rows are skipped and
// counted; only an unreadable stream or a missing column header fails.
func ParseReceiverLog(r io.Reader, source string) (*rig.ReceiverTrial, error) {
	trial := &rig.ReceiverTrial{Source: source}
	br := bufio.NewReader(r)

	var body bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			applyReceiverHeader(&trial.Header, trimmed)
		} else if trimmed != "" {
			body.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				body.WriteByte('\n')
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
	}

	cr := csv.NewReader(&body)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no column header", core.ErrInvalidLogEntry, source)
	}
	cols := indexColumns(header)
	msCol, ok := cols["ms"]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no ms column", core.ErrInvalidLogEntry, source)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			trial.SkippedRows++
			continue
		}
		ms, err := strconv.ParseFloat(field(row, msCol), 64)
		if err != nil {
			trial.SkippedRows++
			continue
		}
		ev := rig.ReceptionEvent{
			RelativeMS: core.Millis(ms),
			Event:      fieldByName(row, cols, "event"),
			Label:      fieldByName(row, cols, "label"),
			PeerID:     fieldByName(row, cols, "addr"),
			RawTag:     strings.TrimSpace(fieldByName(row, cols, "mfd")),
		}
		if v := fieldByName(row, cols, "rssi"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				ev.RSSI = &n
			}
		}
		if v := fieldByName(row, cols, "seq"); v != "" {
			ev.Sequence, _ = strconv.Atoi(v)
		}
		if tag, err := rig.ParseTag(ev.RawTag); err == nil {
			ev.Tag = &tag
		}
		trial.Events = append(trial.Events, ev)
	}
	return trial, nil
}

func applyReceiverHeader(h *rig.ReceiverHeader, line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "#")), "=")
	if !ok {
		return
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	switch key {
	case "firmware":
		h.Firmware = value
	case "scan_duty":
		h.ScanDuty, _ = strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
	case "duplicates_allowed":
		h.DuplicatesAllowed, _ = strconv.ParseBool(value)
	case "foreground":
		h.Foreground, _ = strconv.ParseBool(value)
	case "condition_label":
		h.ConditionLabel = value
	case "repeat":
		h.Repeat, _ = strconv.Atoi(value)
	case "trial_duration_ms":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			h.TrialDurationMS = core.Millis(v)
		}
	}
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func fieldByName(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok {
		return ""
	}
	return field(row, i)
}
