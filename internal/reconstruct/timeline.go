package reconstruct

import (
	"sort"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// Step is one logical grid step of a trial
type Step struct {
	Index      int         `json:"index"`
	ExpectedMS core.Millis `json:"expected_ms"`
	Scheduled  bool        `json:"scheduled"`
	Receptions int         `json:"receptions"`
	// IntervalMS is the interval carried by the first tag seen for the step
	IntervalMS int `json:"interval_ms,omitempty"`
}

// Received reports whether at least one reception matched the step
func (s Step) Received() bool { return s.Receptions > 0 }

// Arrival is one reception mapped onto grid time
type Arrival struct {
	Step      int         `json:"step"`
	AlignedMS core.Millis `json:"aligned_ms"`
	Label     string      `json:"label,omitempty"`
}

// Timeline is the rebuilt per-trial view. It is never persisted.
type Timeline struct {
	GridMS int    `json:"grid_ms"`
	Offset Offset `json:"offset"`
	Steps  []Step `json:"steps"`
	// ScheduleKnown is false for adaptive trials without a replayed schedule
	ScheduleKnown bool `json:"schedule_known"`
	// Arrivals holds every tagged reception inside the trial, time ordered
	Arrivals []Arrival `json:"arrivals"`
	// Unique holds the first arrival of every received step, step ordered
	Unique []Arrival `json:"unique"`
	// OutOfRange counts tagged receptions whose step lies outside the trial
	OutOfRange int `json:"out_of_range"`
}

// DurationMS is the length of the step grid
func (t *Timeline) DurationMS() core.Millis {
	return core.Millis(len(t.Steps) * t.GridMS)
}

// ScheduledCount returns the number of scheduled steps
func (t *Timeline) ScheduledCount() int {
	n := 0
	for _, s := range t.Steps {
		if s.Scheduled {
			n++
		}
	}
	return n
}

// StepCount returns the number of whole grid steps in a trial duration
func StepCount(duration core.Millis, gridMS int) int {
	if gridMS <= 0 || duration <= 0 {
		return 0
	}
	return int(float64(duration) / float64(gridMS))
}

// FixedSchedule marks step 0 and every interval/grid-th step after it
func FixedSchedule(steps, intervalMS, gridMS int) []int {
	if intervalMS <= 0 || gridMS <= 0 {
		return nil
	}
	stride := intervalMS / gridMS
	if stride < 1 {
		stride = 1
	}
	var out []int
	for i := 0; i < steps; i++ {
		if i%stride == 0 {
			out = append(out, i)
		}
	}
	return out
}

// BuildTimeline enumerates steps 0..steps-1, marks the scheduled ones and
// attaches every tagged reception after offset correction. A nil schedule
// leaves ScheduleKnown false.
func BuildTimeline(events []rig.ReceptionEvent, steps, gridMS int, off Offset, schedule []int) *Timeline {
	tl := &Timeline{GridMS: gridMS, Offset: off, Steps: make([]Step, steps), ScheduleKnown: schedule != nil}
	for i := range tl.Steps {
		tl.Steps[i] = Step{Index: i, ExpectedMS: core.Millis(i * gridMS)}
	}
	for _, s := range schedule {
		if s >= 0 && s < steps {
			tl.Steps[s].Scheduled = true
		}
	}

	first := make(map[int]Arrival)
	for _, e := range events {
		if e.Tag == nil {
			continue
		}
		idx := e.Tag.StepIdx
		if idx < 0 || idx >= steps {
			tl.OutOfRange++
			continue
		}
		a := Arrival{Step: idx, AlignedMS: off.Apply(e.RelativeMS), Label: e.Tag.Label}
		tl.Arrivals = append(tl.Arrivals, a)
		st := &tl.Steps[idx]
		if st.Receptions == 0 {
			st.IntervalMS = e.Tag.IntervalMS
		}
		st.Receptions++
		if prev, ok := first[idx]; !ok || a.AlignedMS < prev.AlignedMS {
			first[idx] = a
		}
	}
	sort.SliceStable(tl.Arrivals, func(i, j int) bool { return tl.Arrivals[i].AlignedMS < tl.Arrivals[j].AlignedMS })

	for _, a := range first {
		tl.Unique = append(tl.Unique, a)
	}
	sort.Slice(tl.Unique, func(i, j int) bool { return tl.Unique[i].Step < tl.Unique[j].Step })
	return tl
}
