package policy

import "sort"

// Tier is an urgency level; lower values are more urgent
type Tier int

const (
	TierHigh Tier = iota
	TierMid
	TierQuiet
)

var tierNames = [...]string{"HIGH", "MID", "QUIET"}

func (t Tier) String() string {
	if !t.Valid() {
		return "UNKNOWN"
	}
	return tierNames[t]
}

// Valid reports whether t is one of the three tiers
func (t Tier) Valid() bool { return t >= TierHigh && t <= TierQuiet }

// MoreUrgent reports whether t transmits more often than o
func (t Tier) MoreUrgent(o Tier) bool { return t < o }

// ParseTier accepts HIGH/MID/QUIET and the ACTIVE/UNCERTAIN aliases
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "HIGH", "ACTIVE", "high", "active":
		return TierHigh, true
	case "MID", "UNCERTAIN", "mid", "uncertain":
		return TierMid, true
	case "QUIET", "quiet":
		return TierQuiet, true
	}
	return 0, false
}

// Project clamps interval to the nearest member of allowed; ties go to the
// shorter interval. An empty set returns interval unchanged.
func Project(interval int, allowed []int) int {
	if len(allowed) == 0 {
		return interval
	}
	sorted := append([]int(nil), allowed...)
	sort.Ints(sorted)
	best := sorted[0]
	bestDist := abs(interval - best)
	for _, a := range sorted[1:] {
		if d := abs(interval - a); d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
