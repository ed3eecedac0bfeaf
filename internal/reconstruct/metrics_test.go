package reconstruct

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
)

var fixed100 = rig.Condition{ID: 1, Name: "F100", Mode: rig.ModeFixed, IntervalMS: 100, Actions: []int{100}}

func computeFor(t *testing.T, rx *rig.ReceiverTrial, pw *rig.PowerTrialRecord, cond rig.Condition, taus []float64, intervals []int) metrics.TrialMetrics {
	t.Helper()
	tr := &Trial{Key: trialKey(cond.Name, 1), Condition: cond, Repeat: 1, Receiver: rx, Power: pw}
	off, err := FitOffset(rx.Events, 100, AlignMedian)
	require.NoError(t, err)
	steps := StepCount(tr.Duration(), 100)
	tl := BuildTimeline(rx.Events, steps, 100, off, FixedSchedule(steps, cond.IntervalMS, 100))
	return ComputeMetrics(MetricInputs{Trial: tr, Timeline: tl, TausS: taus, Intervals: intervals})
}

func TestSyntheticTrialEvery100msAllReceivedOnce(t *testing.T) {
	steps := everyStep(100, 1)
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, steps, -37, 10000)
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, tickTimesFor(steps, 100), 10)

	m := computeFor(t, rx, pw, fixed100, []float64{1, 2, 3}, []int{100})

	require.NotNil(t, m.PDRUnique)
	assert.Equal(t, 1.0, *m.PDRUnique)
	assert.Equal(t, 1.0, *m.PDRRaw)
	require.NotNil(t, metrics.At(m.Pout, 1))
	assert.Equal(t, 0.0, *metrics.At(m.Pout, 1))
	require.NotNil(t, m.TLMean)
	assert.InDelta(t, 0.1, *m.TLMean, 1e-9)
	assert.InDelta(t, 0.1, *m.TLP95, 1e-9)
	assert.InDelta(t, 37.0, m.OffsetMS, 1e-9)
	assert.Equal(t, 100, m.Steps)
	assert.Equal(t, 100, m.ScheduledSteps)
	assert.False(t, m.DenominatorMissing)
}

func TestSyntheticTrialEverySecondAllReceivedOnce(t *testing.T) {
	cond := rig.Condition{ID: 2, Name: "F1000", Mode: rig.ModeFixed, IntervalMS: 1000}
	steps := everyStep(100, 10)
	rx := rxTrial("rx.csv", "F1000", 1, rig.ModeFixed, 1000, 100, steps, 250, 10000)
	pw := powerTrial("pw.csv", 2, "F1000", 1, 10000, tickTimesFor(steps, 100), 10)

	m := computeFor(t, rx, pw, cond, []float64{1}, []int{1000})

	assert.Equal(t, 1.0, *m.PDRUnique)
	assert.Equal(t, 0.0, *metrics.At(m.Pout, 1))
	assert.InDelta(t, 1.0, *m.TLMean, 1e-9)
	assert.Equal(t, 10, m.ScheduledSteps)
}

func TestDuplicatesRaisePDRRawOnly(t *testing.T) {
	steps := everyStep(100, 1)
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, steps, 0, 10000)
	for i := 0; i < 30; i++ {
		rx.Events = append(rx.Events, reception(100+i, i, rig.ModeFixed, "0", 100, float64(i*100+5)))
	}
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, tickTimesFor(steps, 100), 10)

	m := computeFor(t, rx, pw, fixed100, []float64{1}, []int{100})

	assert.InDelta(t, 1.3, *m.PDRRaw, 1e-9)
	assert.Equal(t, 1.0, *m.PDRUnique)
	assert.Equal(t, 130, m.Receptions)
	assert.Equal(t, 100, m.UniqueSteps)
}

func TestLateDuplicateDoesNotCoverOutageWindow(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(10, 1), 0, 2000)
	// step 5 heard again half way through the silent second
	rx.Events = append(rx.Events, reception(50, 5, rig.ModeFixed, "0", 100, 1500))
	pw := powerTrial("pw.csv", 1, "F100", 1, 2000, tickTimesFor(everyStep(20, 1), 100), 10)

	m := computeFor(t, rx, pw, fixed100, []float64{1}, []int{100})

	require.NotNil(t, metrics.At(m.Pout, 1))
	assert.Equal(t, 0.5, *metrics.At(m.Pout, 1))
	assert.Equal(t, 11, m.Receptions)
	assert.Equal(t, 10, m.UniqueSteps)
}

func TestPDRUniqueStaysInUnitInterval(t *testing.T) {
	steps := everyStep(100, 1)
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, steps, 0, 10000)
	// the power logger missed ticks, so unique receptions exceed the count
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, tickTimesFor(steps[:80], 100), 10)

	m := computeFor(t, rx, pw, fixed100, nil, nil)

	assert.Equal(t, 1.0, *m.PDRUnique)
	assert.InDelta(t, 1.25, *m.PDRRaw, 1e-9)
}

func TestMissingDenominatorLeavesPDRUndefined(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(100, 1), 0, 10000)

	m := computeFor(t, rx, nil, fixed100, []float64{1}, []int{100})

	assert.True(t, m.DenominatorMissing)
	assert.Nil(t, m.PDRUnique)
	assert.Nil(t, m.PDRRaw)
	assert.Nil(t, m.TickCount)
	assert.Nil(t, m.EnergyPerTxUJ)
	assert.NotNil(t, m.TLMean)
	assert.Nil(t, m.ShareCount[100])
}

func TestPoutCountsEmptyWindows(t *testing.T) {
	var steps []int
	for i := 0; i < 100; i++ {
		if i >= 30 && i < 50 {
			continue
		}
		steps = append(steps, i)
	}
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, steps, 0, 10000)
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, tickTimesFor(everyStep(100, 1), 100), 10)

	m := computeFor(t, rx, pw, fixed100, []float64{1, 3}, []int{100})

	assert.InDelta(t, 0.2, *metrics.At(m.Pout, 1), 1e-9)
	// 3 s windows: [0,3) [3,6) [6,9); none empty
	assert.Equal(t, 0.0, *metrics.At(m.Pout, 3))
	assert.InDelta(t, 2.1, *m.TLMax, 1e-9)
	assert.InDelta(t, 0.8, *m.PDRUnique, 1e-9)
}

func TestPoutUndefinedWithoutWholeWindow(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(20, 1), 0, 2000)
	m := computeFor(t, rx, nil, fixed100, []float64{5}, nil)
	assert.Nil(t, metrics.At(m.Pout, 5))
}

func TestEnergyPerTransmission(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(100, 1), 0, 10000)
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, tickTimesFor(everyStep(100, 1), 100), 10)
	baseline := 3.3 * 5.0

	tr := &Trial{Key: trialKey("F100", 1), Condition: fixed100, Repeat: 1, Receiver: rx, Power: pw}
	off, err := FitOffset(rx.Events, 100, AlignMedian)
	require.NoError(t, err)
	tl := BuildTimeline(rx.Events, 100, 100, off, nil)
	m := ComputeMetrics(MetricInputs{Trial: tr, Timeline: tl, BaselinePowerMW: &baseline})

	// 33 mW for 10 s = 330 mJ over 100 ticks
	assert.InDelta(t, 330.0, *m.EnergyMJ, 1e-9)
	assert.InDelta(t, 3300.0, *m.EnergyPerTxUJ, 1e-6)
	assert.InDelta(t, 33.0, *m.AvgPowerMW, 1e-9)
	assert.InDelta(t, 1650.0, *m.DeltaEnergyPerTx, 1e-6)
	assert.False(t, tl.ScheduleKnown)
}

func TestEnergyPerTransmissionUndefinedWithoutTicks(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(100, 1), 0, 10000)
	pw := powerTrial("pw.csv", 1, "F100", 1, 10000, nil, 10)

	m := computeFor(t, rx, pw, fixed100, nil, nil)

	assert.NotNil(t, m.EnergyMJ)
	assert.Nil(t, m.EnergyPerTxUJ)
	assert.True(t, m.DenominatorMissing)
	require.NotNil(t, m.TickCount)
	assert.Equal(t, 0, *m.TickCount)
}

func TestIntervalSharesFromTagsAndTicks(t *testing.T) {
	cond := rig.Condition{ID: 3, Name: "P", Mode: rig.ModePolicy, Actions: []int{100, 500}}
	rx := &rig.ReceiverTrial{Source: "rx.csv", Header: rig.ReceiverHeader{ConditionLabel: "P", TrialDurationMS: 10000}}
	var ticks []float64
	seq := 0
	// 5 s at 500 ms then 5 s at 100 ms
	for s := 0; s < 50; s += 5 {
		rx.Events = append(rx.Events, reception(seq, s, rig.ModePolicy, "0", 500, float64(s*100)))
		ticks = append(ticks, float64(s*100))
		seq++
	}
	for s := 50; s < 100; s++ {
		rx.Events = append(rx.Events, reception(seq, s, rig.ModePolicy, "1", 100, float64(s*100)))
		ticks = append(ticks, float64(s*100))
		seq++
	}
	pw := powerTrial("pw.csv", 3, "P", 1, 10000, ticks, 10)

	m := computeFor(t, rx, pw, cond, nil, []int{100, 500})

	// 10 steps × 500 ms and 50 steps × 100 ms cover equal airtime
	assert.InDelta(t, 0.5, *m.ShareTime[100], 1e-9)
	assert.InDelta(t, 0.5, *m.ShareTime[500], 1e-9)
	// 59 gaps: 10 of ~500 ms, 49 of 100 ms
	assert.InDelta(t, 49.0/59.0, *m.ShareCount[100], 1e-9)
	assert.InDelta(t, 10.0/59.0, *m.ShareCount[500], 1e-9)
}

func TestTransitionLatencyFollowsTruthChanges(t *testing.T) {
	truth := make([]int, 100)
	for i := 50; i < 100; i++ {
		truth[i] = 1
	}
	rx := &rig.ReceiverTrial{Source: "rx.csv", Header: rig.ReceiverHeader{TrialDurationMS: 10000}}
	for s := 0; s < 100; s += 5 {
		label := "4-00"
		if s >= 55 {
			label = "4-01"
		}
		rx.Events = append(rx.Events, reception(s, s, rig.ModePolicy, label, 500, float64(s*100)))
	}
	cond := rig.Condition{ID: 3, Name: "P", Mode: rig.ModePolicy, Actions: []int{100, 500}}
	tr := &Trial{Key: trialKey("P", 1), Condition: cond, Repeat: 1, Receiver: rx}
	off, err := FitOffset(rx.Events, 100, AlignMedian)
	require.NoError(t, err)
	tl := BuildTimeline(rx.Events, 100, 100, off, nil)

	m := ComputeMetrics(MetricInputs{Trial: tr, Timeline: tl, TausS: []float64{0.25, 1}, Truth: truth})

	require.NotNil(t, m.TransitionLatency)
	assert.InDelta(t, 0.5, *m.TransitionLatency, 1e-9)
	assert.Equal(t, 1.0, *metrics.At(m.PoutTransition, 0.25))
	assert.Equal(t, 0.0, *metrics.At(m.PoutTransition, 1))
	require.NotNil(t, m.RSSIMedian)
}

func TestFitOffsetMedianIgnoresLateDuplicates(t *testing.T) {
	rx := rxTrial("rx.csv", "F100", 1, rig.ModeFixed, 100, 100, everyStep(50, 1), 120, 5000)
	// a late copy of step 10 does not move the first reception
	rx.Events = append(rx.Events, reception(99, 10, rig.ModeFixed, "0", 100, 1900))

	off, err := FitOffset(rx.Events, 100, AlignMedian)
	require.NoError(t, err)
	assert.InDelta(t, -120, off.MS, 1e-9)
	assert.Equal(t, 50, off.N)
	assert.Equal(t, 0.0, off.Residual)
	assert.Equal(t, core.Millis(1000), off.Apply(1120))
}

func TestFitOffsetLeastSquares(t *testing.T) {
	events := []rig.ReceptionEvent{
		reception(0, 0, rig.ModeFixed, "0", 100, 10),
		reception(1, 1, rig.ModeFixed, "0", 100, 110),
		reception(2, 2, rig.ModeFixed, "0", 100, 230),
	}
	off, err := FitOffset(events, 100, AlignLeastSquares)
	require.NoError(t, err)
	assert.InDelta(t, -50.0/3, off.MS, 1e-9)
	assert.Equal(t, AlignLeastSquares, off.Method)
	assert.Greater(t, off.Residual, 0.0)
}

func TestFitOffsetFailsWithoutUniqueSteps(t *testing.T) {
	events := []rig.ReceptionEvent{{RelativeMS: 10, RawTag: "garbage"}}
	_, err := FitOffset(events, 100, AlignMedian)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAlignmentFailure)
}

func TestDescribeReducesNForUndefined(t *testing.T) {
	s := Describe([]*float64{metrics.Float(1), nil, metrics.Float(2), metrics.Float(3), metrics.Float(math.NaN())})
	assert.Equal(t, 3, s.N)
	assert.False(t, s.LowConfidence)
	assert.InDelta(t, 2.0, *s.Mean, 1e-12)
	assert.InDelta(t, 1.0, *s.Std, 1e-12)
	assert.InDelta(t, 4.302652729911275/math.Sqrt(3), *s.CI95, 1e-6)

	one := Describe([]*float64{metrics.Float(5)})
	assert.Equal(t, 1, one.N)
	assert.True(t, one.LowConfidence)
	assert.Nil(t, one.Std)
	assert.Nil(t, one.CI95)

	none := Describe([]*float64{nil})
	assert.Equal(t, 0, none.N)
	assert.True(t, none.LowConfidence)
	assert.Nil(t, none.Mean)
}

func TestMADOutliers(t *testing.T) {
	vals := []float64{10, 10.2, 9.9, 10.1, 14}
	assert.Equal(t, []int{4}, MADOutliers(vals, 3))
	assert.Nil(t, MADOutliers(vals[:2], 3))
	assert.Nil(t, MADOutliers([]float64{1, 1, 1, 5}, 3))
}
