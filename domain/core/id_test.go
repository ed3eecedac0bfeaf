package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestParseRunID tests run ID parsing
func TestParseRunID(t *testing.T) {
	tests := []struct {
		input    string
		expected RunID
		hasError bool
	}{
		{"run-123", RunID("run-123"), false},
		{"", "", true},
		{"   ", "", true},
	}

	for _, test := range tests {
		result, err := ParseRunID(test.input)
		if test.hasError && err == nil {
			t.Errorf("Expected error for input '%s', but got none", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

func TestTrialKeyString(t *testing.T) {
	key := NewTrialKey(NodeReceiver, "rx_trial_007.csv")
	if key.String() != "receiver:rx_trial_007.csv" {
		t.Errorf("unexpected key %s", key)
	}
}

func TestHashShort(t *testing.T) {
	h := NewHash([]byte("beacon"))
	if got := h.Short(); len(got) != 12 || string(h)[:12] != got {
		t.Errorf("unexpected short hash %q of %q", got, h)
	}
	if Hash("abc").Short() != "abc" {
		t.Error("short hash of a short value should be the value")
	}
}

func TestComputeInputsHashOrderIndependent(t *testing.T) {
	a := ComputeInputsHash(map[string]Hash{"a.csv": "1", "b.csv": "2"})
	b := ComputeInputsHash(map[string]Hash{"b.csv": "2", "a.csv": "1"})
	if a != b {
		t.Errorf("hash depends on map order: %s vs %s", a, b)
	}
	c := ComputeInputsHash(map[string]Hash{"a.csv": "1", "b.csv": "3"})
	if a == c {
		t.Error("different inputs produced identical hash")
	}
}
