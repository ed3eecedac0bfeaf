package reconstruct

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal/errors"
)

// ============================================================================
// CLOCK ALIGNMENT
// ============================================================================
// The receiver clock runs free. Each trial gets one constant offset that maps
// receiver milliseconds onto the canonical step grid; drift is not modelled.

// AlignMethod selects the offset estimator
type AlignMethod string

const (
	AlignMedian       AlignMethod = "median"
	AlignLeastSquares AlignMethod = "least_squares"
)

// ParseAlignMethod accepts "median" and "least_squares"
func ParseAlignMethod(s string) (AlignMethod, error) {
	switch AlignMethod(s) {
	case AlignMedian, AlignLeastSquares:
		return AlignMethod(s), nil
	case "":
		return AlignMedian, nil
	}
	return "", errors.ConfigInvalid(fmt.Sprintf("unknown align method %q", s))
}

// Offset maps receiver time onto the grid: aligned = rx_ms + MS
type Offset struct {
	MS float64 `json:"offset_ms"`
	// Residual is the median absolute (median fit) or RMS (least squares)
	// deviation of the per-step residuals from MS
	Residual float64     `json:"residual_ms"`
	N        int         `json:"n"`
	Method   AlignMethod `json:"method"`
}

// Apply converts a receiver timestamp to grid time
func (o Offset) Apply(rx core.Millis) core.Millis {
	return rx + core.Millis(o.MS)
}

// FirstReceptions returns the earliest receiver time of every step index
// seen in a parsed tag
func FirstReceptions(events []rig.ReceptionEvent) map[int]core.Millis {
	first := make(map[int]core.Millis)
	for _, e := range events {
		if e.Tag == nil {
			continue
		}
		if t, ok := first[e.Tag.StepIdx]; !ok || e.RelativeMS < t {
			first[e.Tag.StepIdx] = e.RelativeMS
		}
	}
	return first
}

// FitOffset estimates the trial offset from step_idx×grid − first_rx_ms over
// the uniquely identified steps
func FitOffset(events []rig.ReceptionEvent, gridMS int, method AlignMethod) (Offset, error) {
	if gridMS <= 0 {
		return Offset{}, errors.ConfigInvalid("grid must be positive")
	}
	first := FirstReceptions(events)
	if len(first) == 0 {
		return Offset{}, errors.AlignmentFailure("no uniquely identified step indices")
	}

	steps := make([]int, 0, len(first))
	for s := range first {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	residuals := make([]float64, len(steps))
	for i, s := range steps {
		residuals[i] = float64(s*gridMS) - float64(first[s])
	}

	off := Offset{N: len(residuals), Method: method}
	switch method {
	case AlignLeastSquares:
		// the least-squares constant is the mean of the residuals
		off.MS = stat.Mean(residuals, nil)
		dev := make([]float64, len(residuals))
		copy(dev, residuals)
		floats.AddConst(-off.MS, dev)
		off.Residual = math.Sqrt(floats.Dot(dev, dev) / float64(len(dev)))
	case AlignMedian, "":
		off.Method = AlignMedian
		med, err := stats.Median(residuals)
		if err != nil {
			return Offset{}, errors.AlignmentFailure(err.Error())
		}
		off.MS = med
		abs := make([]float64, len(residuals))
		for i, r := range residuals {
			abs[i] = math.Abs(r - med)
		}
		off.Residual, _ = stats.Median(abs)
	default:
		return Offset{}, errors.ConfigInvalid(fmt.Sprintf("unknown align method %q", method))
	}
	return off, nil
}
