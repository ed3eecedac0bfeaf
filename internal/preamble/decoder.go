package preamble

import (
	"fmt"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// Result is the decoded preamble of one trial
type Result struct {
	Mode        rig.PreambleMode
	Status      rig.PreambleStatus
	ConditionID int
	Repeat      int
	Pulses      int
	Err         error
}

// Decoder collects pulses seen before the boundary rises and decodes either
// encoding. A marker pulse selects the structured record; otherwise pulses
// are counted.
type Decoder struct {
	widths   Widths
	maxID    int
	classes  []Class
	complete bool
	trailing int
}

// NewDecoder creates a decoder; maxID bounds count-mode ids (0 = unbounded)
func NewDecoder(w Widths, maxID int) *Decoder {
	return &Decoder{widths: w, maxID: maxID}
}

// Pulse feeds one preamble pulse of the given width. After the marker the
// preamble is complete and further pulses are not part of it.
func (d *Decoder) Pulse(width time.Duration) {
	if d.complete {
		d.trailing++
		return
	}
	c := d.widths.Classify(width)
	d.classes = append(d.classes, c)
	if c == ClassMarker {
		d.complete = true
	}
}

// Complete reports whether the preamble complete marker was seen
func (d *Decoder) Complete() bool { return d.complete }

// Reset discards collected pulses
func (d *Decoder) Reset() {
	d.classes = d.classes[:0]
	d.complete = false
	d.trailing = 0
}

// Finish decodes the collected pulses at boundary rise
func (d *Decoder) Finish() Result {
	if len(d.classes) == 0 {
		return Result{Mode: rig.PreambleCount, Status: rig.PreambleMissing,
			Err: fmt.Errorf("%w: no preamble pulses", core.ErrPreambleCorruption)}
	}
	if d.complete {
		return d.finishStructured()
	}
	return d.finishCount()
}

func (d *Decoder) finishCount() Result {
	res := Result{Mode: rig.PreambleCount, Pulses: len(d.classes), ConditionID: len(d.classes)}
	for _, c := range d.classes {
		if c != ClassNarrow {
			res.Status = rig.PreambleCorrupt
			res.Err = fmt.Errorf("%w: wide pulse in count preamble", core.ErrPreambleCorruption)
			return res
		}
	}
	if d.maxID > 0 && res.ConditionID > d.maxID {
		res.Status = rig.PreambleCorrupt
		res.Err = fmt.Errorf("%w: %d pulses exceed %d conditions", core.ErrPreambleCorruption, res.ConditionID, d.maxID)
		return res
	}
	res.Status = rig.PreambleOK
	return res
}

func (d *Decoder) finishStructured() Result {
	body := d.classes[:len(d.classes)-1]
	res := Result{Mode: rig.PreambleStructured, Pulses: len(d.classes), Status: rig.PreambleCorrupt}
	if d.trailing > 0 {
		res.Err = fmt.Errorf("%w: %d pulses between marker and boundary", core.ErrPreambleCorruption, d.trailing)
		return res
	}
	if len(body) != recordBits {
		res.Err = fmt.Errorf("%w: %d bit pulses, want %d", core.ErrPreambleCorruption, len(body), recordBits)
		return res
	}
	bs := make([]bool, len(body))
	for i, c := range body {
		bs[i] = c == ClassLong
	}
	rec, err := DecodeRecord(pack(bs))
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = rig.PreambleOK
	res.ConditionID = int(rec.ConditionID)
	res.Repeat = int(rec.Repeat)
	return res
}
