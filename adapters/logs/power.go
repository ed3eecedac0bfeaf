package logs

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

var powerNameRE = regexp.MustCompile(`trial_(\d+)_c(\d+)_(.+)\.csv$`)

// ParsePowerLog reads one power logger trial. A missing footer is not an
// error here; the record reports Complete() == false.
func ParsePowerLog(r io.Reader, source string) (*rig.PowerTrialRecord, error) {
	rec := &rig.PowerTrialRecord{Source: source}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sawColumns := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "# power_log="):
		case strings.HasPrefix(line, "# summary"):
			if sum, ok := parseSummary(kvPairs(line)); ok {
				rec.Summary = &sum
			} else {
				rec.SkippedRows++
			}
		case strings.HasPrefix(line, "# diag"):
			if diag, ok := parseDiag(kvPairs(line)); ok {
				rec.Diag = &diag
			} else {
				rec.SkippedRows++
			}
		case strings.HasPrefix(line, "#"):
			kv := kvPairs(line)
			if _, ok := kv["cond_id"]; ok {
				rec.Header = parsePowerHeader(kv)
				rec.HasHeader = true
			}
		case strings.HasPrefix(line, "ms,"):
			sawColumns = true
		default:
			s, ok := parsePowerRow(line)
			if !ok {
				rec.SkippedRows++
				continue
			}
			rec.Samples = append(rec.Samples, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	if !rec.HasHeader {
		applyPowerFileName(rec, source)
	}
	if !rec.HasHeader && !sawColumns && len(rec.Samples) == 0 && rec.Summary == nil {
		return nil, fmt.Errorf("%w: %s is not a power log", core.ErrInvalidLogEntry, source)
	}
	return rec, nil
}

// applyPowerFileName recovers the condition id from trial_<n>_c<id>_<name>.csv
func applyPowerFileName(rec *rig.PowerTrialRecord, source string) {
	m := powerNameRE.FindStringSubmatch(filepath.Base(source))
	if m == nil {
		return
	}
	id, _ := strconv.Atoi(m[2])
	rec.Header.ConditionID = id
	rec.Header.Condition = m[3]
	rec.Header.PreambleStatus = rig.PreambleOK
	rec.HasHeader = true
}

// kvPairs splits "# a=1, b=2" or "# a=1,b=2" into a map
func kvPairs(line string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Split(strings.TrimPrefix(line, "#"), ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv
}

func parsePowerHeader(kv map[string]string) rig.PowerHeader {
	h := rig.PowerHeader{
		Condition:      kv["condition"],
		Preamble:       rig.PreambleMode(kv["preamble"]),
		PreambleStatus: rig.PreambleStatus(kv["preamble_status"]),
	}
	h.ConditionID, _ = strconv.Atoi(kv["cond_id"])
	h.NominalIntervalMS, _ = strconv.Atoi(kv["nominal_interval_ms"])
	h.Repeat, _ = strconv.Atoi(kv["repeat"])
	if v, err := strconv.ParseFloat(kv["planned_duration_ms"], 64); err == nil {
		h.PlannedDurationMS = core.Millis(v)
	}
	if h.PreambleStatus == "" {
		h.PreambleStatus = rig.PreambleOK
	}
	return h
}

func parseSummary(kv map[string]string) (rig.PowerSummary, bool) {
	var sum rig.PowerSummary
	ms, err1 := strconv.ParseFloat(kv["ms_total"], 64)
	adv, err2 := strconv.Atoi(kv["adv_count"])
	e, err3 := strconv.ParseFloat(kv["E_total_mJ"], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return sum, false
	}
	sum.MsTotal, sum.AdvCount, sum.ETotalMJ = core.Millis(ms), adv, e
	if v, err := strconv.ParseFloat(kv["E_per_adv_uJ"], 64); err == nil && adv > 0 {
		sum.EPerAdvUJ = &v
	}
	if v, err := strconv.ParseFloat(kv["avg_power_mW"], 64); err == nil {
		sum.AvgPowerMW = v
	} else if ms > 0 {
		sum.AvgPowerMW = e / (ms / 1000)
	}
	return sum, true
}

func parseDiag(kv map[string]string) (rig.PowerDiag, bool) {
	var d rig.PowerDiag
	n, err := strconv.Atoi(kv["samples"])
	if err != nil {
		return d, false
	}
	d.Samples = n
	d.MeanV, _ = strconv.ParseFloat(kv["mean_v"], 64)
	d.MeanI, _ = strconv.ParseFloat(kv["mean_i"], 64)
	d.MeanPmW, _ = strconv.ParseFloat(kv["mean_p_mW"], 64)
	return d, true
}

func parsePowerRow(line string) (rig.PowerSample, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return rig.PowerSample{}, false
	}
	ms, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	v, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	i, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return rig.PowerSample{}, false
	}
	s := rig.PowerSample{MS: core.Millis(ms), Volts: v, MilliAmps: i}
	if len(parts) > 3 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil {
			return rig.PowerSample{}, false
		}
		s.TickCount = n
	}
	return s, true
}
