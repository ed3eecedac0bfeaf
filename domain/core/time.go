package core

import (
	"strconv"
	"time"
)

// Timestamp represents a point in wall-clock time (used for run bookkeeping only)
type Timestamp time.Time

// Now returns the current timestamp
func Now() Timestamp {
	return Timestamp(time.Now())
}

// Time returns the underlying time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// IsZero checks if the timestamp is zero
func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// JSON marshaling for Timestamp
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var tm time.Time
	if err := tm.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = Timestamp(tm)
	return nil
}

// Millis is a node-local relative time in milliseconds since the trial start.
// Node clocks are independent; Millis values from different nodes are not comparable
// until an offset has been fitted.
type Millis float64

// MillisFromDuration converts a duration to Millis
func MillisFromDuration(d time.Duration) Millis {
	return Millis(float64(d) / float64(time.Millisecond))
}

// Duration converts Millis back to a duration
func (m Millis) Duration() time.Duration {
	return time.Duration(float64(m) * float64(time.Millisecond))
}

// Seconds returns the value in seconds
func (m Millis) Seconds() float64 { return float64(m) / 1000 }

func (m Millis) String() string {
	return strconv.FormatFloat(float64(m), 'f', -1, 64) + "ms"
}
