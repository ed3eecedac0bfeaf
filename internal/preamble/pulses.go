package preamble

import (
	"fmt"
	"time"

	"beaconrig/domain/rig"
)

// Widths are the pulse durations on the pulse line. Ticks, count pulses and
// zero bits share the narrow width.
type Widths struct {
	Narrow time.Duration `json:"narrow"`
	Long   time.Duration `json:"long"`
	Marker time.Duration `json:"marker"`
	Gap    time.Duration `json:"gap"`
}

// DefaultWidths are the widths the rig firmware uses
func DefaultWidths() Widths {
	return Widths{
		Narrow: 2 * time.Millisecond,
		Long:   8 * time.Millisecond,
		Marker: 30 * time.Millisecond,
		Gap:    4 * time.Millisecond,
	}
}

// Validate requires strictly increasing widths
func (w Widths) Validate() error {
	if w.Narrow <= 0 || w.Long <= w.Narrow || w.Marker <= w.Long || w.Gap <= 0 {
		return fmt.Errorf("pulse widths must satisfy 0 < narrow < long < marker and gap > 0, got %+v", w)
	}
	return nil
}

// Class is a pulse classified by width
type Class int

const (
	ClassNarrow Class = iota
	ClassLong
	ClassMarker
)

// Classify assigns a measured width to the nearest class boundary
func (w Widths) Classify(width time.Duration) Class {
	switch {
	case width < (w.Narrow+w.Long)/2:
		return ClassNarrow
	case width < (w.Long+w.Marker)/2:
		return ClassLong
	default:
		return ClassMarker
	}
}

// Plan returns the pulse widths the emitter sends before raising the boundary
func Plan(mode rig.PreambleMode, rec Record, w Widths) ([]time.Duration, error) {
	switch mode {
	case rig.PreambleCount:
		if rec.ConditionID == 0 {
			return nil, fmt.Errorf("count preamble needs a condition id >= 1")
		}
		out := make([]time.Duration, rec.ConditionID)
		for i := range out {
			out[i] = w.Narrow
		}
		return out, nil
	case rig.PreambleStructured:
		out := make([]time.Duration, 0, recordBits+1)
		for _, bit := range bits(rec.Encode()) {
			if bit {
				out = append(out, w.Long)
			} else {
				out = append(out, w.Narrow)
			}
		}
		return append(out, w.Marker), nil
	default:
		return nil, fmt.Errorf("unknown preamble mode %q", mode)
	}
}
