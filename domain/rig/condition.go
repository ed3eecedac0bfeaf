package rig

import (
	"fmt"
	"strings"

	"beaconrig/domain/core"
)

// Mode is the controller mode carried in every transmission tag
type Mode byte

const (
	ModeFixed           Mode = 'F'
	ModePolicy          Mode = 'P'
	ModeUncertaintyOnly Mode = 'U'
	ModeAblation        Mode = 'A'
)

// ParseMode validates a single mode character
func ParseMode(s string) (Mode, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: mode %q", core.ErrInvalidTag, s)
	}
	m := Mode(s[0])
	if !m.Valid() {
		return 0, fmt.Errorf("%w: mode %q", core.ErrInvalidTag, s)
	}
	return m, nil
}

// Valid reports whether m is one of F, P, U, A
func (m Mode) Valid() bool {
	switch m {
	case ModeFixed, ModePolicy, ModeUncertaintyOnly, ModeAblation:
		return true
	}
	return false
}

// Adaptive reports whether the interval is chosen by the controller
func (m Mode) Adaptive() bool {
	return m == ModePolicy || m == ModeUncertaintyOnly || m == ModeAblation
}

func (m Mode) String() string { return string(rune(m)) }

// MarshalText encodes the mode as its character
func (m Mode) MarshalText() ([]byte, error) { return []byte{byte(m)}, nil }

// UnmarshalText decodes a mode character
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Condition is one experimental condition of a run (fixed/policy/ablation x context)
type Condition struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Mode       Mode   `json:"mode"`
	Context    string `json:"context,omitempty"`
	IntervalMS int    `json:"interval_ms"` // nominal interval; 0 for adaptive conditions
	Actions    []int  `json:"actions"`     // allowed interval set
}

// Validate checks the condition is usable for matching and reconstruction
func (c Condition) Validate() error {
	if c.ID <= 0 {
		return core.NewValidationError("condition", "id must be positive")
	}
	if strings.TrimSpace(c.Name) == "" {
		return core.NewValidationError("condition", "name cannot be empty")
	}
	if !c.Mode.Valid() {
		return core.NewValidationError("condition", fmt.Sprintf("invalid mode %q", c.Mode))
	}
	if c.Mode == ModeFixed && c.IntervalMS <= 0 {
		return core.NewValidationError("condition", "fixed condition needs interval_ms")
	}
	for _, a := range c.Actions {
		if a <= 0 {
			return core.NewValidationError("condition", "actions must be positive")
		}
	}
	return nil
}

// AllowedIntervals returns the action set, falling back to the nominal interval
func (c Condition) AllowedIntervals() []int {
	if len(c.Actions) > 0 {
		return c.Actions
	}
	if c.IntervalMS > 0 {
		return []int{c.IntervalMS}
	}
	return nil
}

// ConditionSet indexes conditions by id and name
type ConditionSet struct {
	byID   map[int]Condition
	byName map[string]Condition
	order  []int
}

// NewConditionSet validates conditions and rejects duplicate ids or names
func NewConditionSet(conds []Condition) (*ConditionSet, error) {
	cs := &ConditionSet{byID: make(map[int]Condition), byName: make(map[string]Condition)}
	for _, c := range conds {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := cs.byID[c.ID]; dup {
			return nil, core.NewValidationError("condition", fmt.Sprintf("duplicate id %d", c.ID))
		}
		if _, dup := cs.byName[c.Name]; dup {
			return nil, core.NewValidationError("condition", fmt.Sprintf("duplicate name %q", c.Name))
		}
		cs.byID[c.ID] = c
		cs.byName[c.Name] = c
		cs.order = append(cs.order, c.ID)
	}
	return cs, nil
}

// ByID looks a condition up by preamble id
func (cs *ConditionSet) ByID(id int) (Condition, bool) {
	c, ok := cs.byID[id]
	return c, ok
}

// ByName looks a condition up by label
func (cs *ConditionSet) ByName(name string) (Condition, bool) {
	c, ok := cs.byName[name]
	return c, ok
}

// All returns conditions in declaration order
func (cs *ConditionSet) All() []Condition {
	out := make([]Condition, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, cs.byID[id])
	}
	return out
}

// Len returns the number of conditions
func (cs *ConditionSet) Len() int { return len(cs.order) }

// TrialMeta is the per-node view of one trial, opened at the boundary rising
// edge and closed at the falling edge.
type TrialMeta struct {
	Key         core.TrialKey `json:"key"`
	Condition   string        `json:"condition"`
	ConditionID int           `json:"condition_id,omitempty"`
	Repeat      int           `json:"repeat"`
	StartMS     core.Millis   `json:"start_ms"`
	EndMS       core.Millis   `json:"end_ms"`
	DurationMS  core.Millis   `json:"duration_ms"`
}
