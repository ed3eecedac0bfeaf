package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID    ID
	TrialKey ID
)

// NewRunID creates a time-ordered run identifier
func NewRunID() RunID { return RunID(NewID()) }

func (id RunID) String() string    { return ID(id).String() }
func (id TrialKey) String() string { return ID(id).String() }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// NodeKind identifies which rig node produced a log
type NodeKind string

const (
	NodeController NodeKind = "controller"
	NodePower      NodeKind = "power"
	NodeReceiver   NodeKind = "receiver"
)

// NewTrialKey builds the key of a node-local trial log, e.g. "receiver:rx_trial_007.csv"
func NewTrialKey(node NodeKind, name string) TrialKey {
	return TrialKey(fmt.Sprintf("%s:%s", node, name))
}
