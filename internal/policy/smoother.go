package policy

import (
	"fmt"
	"math"

	"beaconrig/domain/rig"
)

// Smoother applies ema = α·raw + (1-α)·ema_prev to both signals.
// The first valid sample seeds the average.
type Smoother struct {
	alpha  float64
	u, c   float64
	seeded bool
}

// NewSmoother creates a smoother with α in (0,1]
func NewSmoother(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("ema alpha must be in (0,1], got %v", alpha)
	}
	return &Smoother{alpha: alpha}, nil
}

// Apply fills UEMA and CCSEMA. A NaN raw value leaves the average untouched
// and marks the returned sample missing.
func (s *Smoother) Apply(sample rig.SignalSample) rig.SignalSample {
	if math.IsNaN(sample.URaw) || math.IsNaN(sample.CCSRaw) {
		sample.UEMA, sample.CCSEMA = math.NaN(), math.NaN()
		return sample
	}
	if !s.seeded {
		s.u, s.c, s.seeded = sample.URaw, sample.CCSRaw, true
	} else {
		s.u = s.alpha*sample.URaw + (1-s.alpha)*s.u
		s.c = s.alpha*sample.CCSRaw + (1-s.alpha)*s.c
	}
	sample.UEMA, sample.CCSEMA = s.u, s.c
	return sample
}

// SmoothTrace returns a copy of samples with the EMA columns recomputed
func SmoothTrace(samples []rig.SignalSample, alpha float64) ([]rig.SignalSample, error) {
	s, err := NewSmoother(alpha)
	if err != nil {
		return nil, err
	}
	out := make([]rig.SignalSample, len(samples))
	for i, sample := range samples {
		out[i] = s.Apply(sample)
	}
	return out, nil
}
