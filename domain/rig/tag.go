package rig

import (
	"fmt"
	"strconv"
	"strings"

	"beaconrig/domain/core"
)

// Tag is the payload of one transmission: "<step_idx>_<mode><truth_label>-<interval_ms>".
// The truth label may itself contain '-', e.g. "1128_P4-03-100" carries label "4-03".
type Tag struct {
	StepIdx    int    `json:"step_idx"`
	Mode       Mode   `json:"mode"`
	Label      string `json:"label"`
	IntervalMS int    `json:"interval_ms"`
}

// EncodeTag builds the transmission tag string
func EncodeTag(stepIdx int, mode Mode, label string, intervalMS int) string {
	return strconv.Itoa(stepIdx) + "_" + string(rune(mode)) + label + "-" + strconv.Itoa(intervalMS)
}

// String encodes t
func (t Tag) String() string {
	return EncodeTag(t.StepIdx, t.Mode, t.Label, t.IntervalMS)
}

// ParseTag parses a tag string. Whitespace around the tag is ignored.
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	us := strings.IndexByte(s, '_')
	if us <= 0 {
		return Tag{}, fmt.Errorf("%w: %q missing step index", core.ErrInvalidTag, s)
	}
	step, err := strconv.Atoi(s[:us])
	if err != nil || step < 0 {
		return Tag{}, fmt.Errorf("%w: %q bad step index", core.ErrInvalidTag, s)
	}
	rest := s[us+1:]
	if rest == "" {
		return Tag{}, fmt.Errorf("%w: %q missing mode", core.ErrInvalidTag, s)
	}
	mode := Mode(rest[0])
	if !mode.Valid() {
		return Tag{}, fmt.Errorf("%w: %q unknown mode %q", core.ErrInvalidTag, s, rest[0])
	}
	rest = rest[1:]
	dash := strings.LastIndexByte(rest, '-')
	if dash < 0 {
		return Tag{}, fmt.Errorf("%w: %q missing interval", core.ErrInvalidTag, s)
	}
	interval, err := strconv.Atoi(rest[dash+1:])
	if err != nil || interval <= 0 {
		return Tag{}, fmt.Errorf("%w: %q bad interval", core.ErrInvalidTag, s)
	}
	return Tag{StepIdx: step, Mode: mode, Label: rest[:dash], IntervalMS: interval}, nil
}

// LabelClass returns the trailing numeric segment of the truth label ("4-03" -> 3).
// It is the class id compared against the truth trace.
func (t Tag) LabelClass() (int, bool) {
	return LabelClass(t.Label)
}

// LabelClass extracts the trailing numeric segment of a truth label
func LabelClass(label string) (int, bool) {
	seg := label
	if i := strings.LastIndexByte(label, '-'); i >= 0 {
		seg = label[i+1:]
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}
