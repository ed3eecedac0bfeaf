package reconstruct

import (
	"fmt"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
)

// rxTrial builds a receiver log with one reception per listed step, shifted
// by skewMS on the receiver clock
func rxTrial(source, cond string, repeat int, mode rig.Mode, intervalMS, gridMS int, steps []int, skewMS float64, durationMS float64) *rig.ReceiverTrial {
	tr := &rig.ReceiverTrial{
		Source: source,
		Header: rig.ReceiverHeader{ConditionLabel: cond, Repeat: repeat, TrialDurationMS: core.Millis(durationMS)},
	}
	for i, s := range steps {
		tr.Events = append(tr.Events, reception(i, s, mode, "0", intervalMS, float64(s*gridMS)+skewMS))
	}
	return tr
}

func reception(seq, step int, mode rig.Mode, label string, intervalMS int, at float64) rig.ReceptionEvent {
	tag := rig.Tag{StepIdx: step, Mode: mode, Label: label, IntervalMS: intervalMS}
	rssi := -60 - seq%5
	return rig.ReceptionEvent{
		RelativeMS: core.Millis(at),
		Event:      "adv",
		RSSI:       &rssi,
		Sequence:   seq,
		PeerID:     "aa:bb",
		RawTag:     tag.String(),
		Tag:        &tag,
	}
}

// powerTrial builds a complete power log with ticks at the given times
func powerTrial(source string, condID int, cond string, repeat int, durationMS float64, tickTimes []float64, meanI float64) *rig.PowerTrialRecord {
	p := &rig.PowerTrialRecord{
		Source:    source,
		HasHeader: true,
		Header: rig.PowerHeader{
			ConditionID:    condID,
			Condition:      cond,
			Preamble:       rig.PreambleStructured,
			PreambleStatus: rig.PreambleOK,
			Repeat:         repeat,
		},
	}
	ticks := 0
	for ms := 0.0; ms <= durationMS; ms += 10 {
		for ticks < len(tickTimes) && tickTimes[ticks] <= ms {
			ticks++
		}
		p.Samples = append(p.Samples, rig.PowerSample{MS: core.Millis(ms), Volts: 3.3, MilliAmps: meanI, TickCount: ticks})
	}
	energy := 3.3 * meanI * durationMS / 1000
	sum := &rig.PowerSummary{MsTotal: core.Millis(durationMS), AdvCount: len(tickTimes), ETotalMJ: energy, AvgPowerMW: 3.3 * meanI}
	if len(tickTimes) > 0 {
		sum.EPerAdvUJ = metrics.Float(energy * 1000 / float64(len(tickTimes)))
	}
	p.Summary = sum
	p.Diag = &rig.PowerDiag{Samples: len(p.Samples), MeanV: 3.3, MeanI: meanI, MeanPmW: 3.3 * meanI}
	return p
}

func everyStep(n, stride int) []int {
	var out []int
	for i := 0; i < n; i += stride {
		out = append(out, i)
	}
	return out
}

func tickTimesFor(steps []int, gridMS int) []float64 {
	out := make([]float64, len(steps))
	for i, s := range steps {
		out[i] = float64(s * gridMS)
	}
	return out
}

func trialKey(cond string, repeat int) core.TrialKey {
	return core.NewTrialKey(core.NodeReceiver, fmt.Sprintf("%s-r%d", cond, repeat))
}
