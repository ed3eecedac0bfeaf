package device

import (
	"fmt"
	"time"

	"beaconrig/internal"
)

// Line is a GPIO output
type Line interface {
	Set(high bool)
	High() bool
}

// Radio is the advertising radio; each call puts one tagged payload on air
type Radio interface {
	Advertise(payload string, at time.Duration) error
}

// Context carries the device resources. Everything that touches hardware
// receives it explicitly.
type Context struct {
	Clock    Clock
	Radio    Radio
	Boundary Line
	Pulse    Line
	Logger   *internal.Logger
}

// Validate checks all resources are wired
func (c *Context) Validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("device context is nil")
	case c.Clock == nil:
		return fmt.Errorf("device context has no clock")
	case c.Radio == nil:
		return fmt.Errorf("device context has no radio")
	case c.Boundary == nil:
		return fmt.Errorf("device context has no boundary line")
	case c.Pulse == nil:
		return fmt.Errorf("device context has no pulse line")
	}
	return nil
}

// LineID names the two synchronization lines
type LineID string

const (
	LineBoundary LineID = "boundary"
	LinePulse    LineID = "pulse"
)

// EdgeSink receives line transitions stamped with the emitting clock
type EdgeSink interface {
	OnEdge(line LineID, high bool, at time.Duration)
}

// EdgeFunc adapts a function to EdgeSink
type EdgeFunc func(line LineID, high bool, at time.Duration)

func (f EdgeFunc) OnEdge(line LineID, high bool, at time.Duration) { f(line, high, at) }

// WireLine is a one-way output that fans edges out to listeners. Nothing
// flows back to the emitter.
type WireLine struct {
	id    LineID
	clock Clock
	high  bool
	sinks []EdgeSink
}

// NewWireLine creates an idle-low line
func NewWireLine(id LineID, clock Clock, sinks ...EdgeSink) *WireLine {
	return &WireLine{id: id, clock: clock, sinks: sinks}
}

// Attach adds a listener
func (l *WireLine) Attach(s EdgeSink) { l.sinks = append(l.sinks, s) }

func (l *WireLine) Set(high bool) {
	if high == l.high {
		return
	}
	l.high = high
	at := l.clock.Now()
	for _, s := range l.sinks {
		s.OnEdge(l.id, high, at)
	}
}

func (l *WireLine) High() bool { return l.high }

// RadioFunc adapts a function to Radio
type RadioFunc func(payload string, at time.Duration) error

func (f RadioFunc) Advertise(payload string, at time.Duration) error { return f(payload, at) }
