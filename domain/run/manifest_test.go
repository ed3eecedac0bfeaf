package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconrig/domain/core"
)

func TestRunFingerprint_Deterministic(t *testing.T) {
	fp1 := NewRunFingerprint("inputs", "config", "trace", "1.0.0")
	fp2 := NewRunFingerprint("inputs", "config", "trace", "1.0.0")

	assert.Equal(t, fp1.Fingerprint, fp2.Fingerprint)
	assert.Equal(t, core.Hash("inputs"), fp1.InputsHash)
	assert.Equal(t, "1.0.0", fp1.CodeVersion)
}

func TestRunFingerprint_Unique(t *testing.T) {
	base := NewRunFingerprint("inputs", "config", "trace", "1.0.0")

	testCases := []struct {
		name string
		fp   RunFingerprint
	}{
		{"different inputs", NewRunFingerprint("other", "config", "trace", "1.0.0")},
		{"different config", NewRunFingerprint("inputs", "other", "trace", "1.0.0")},
		{"different trace", NewRunFingerprint("inputs", "config", "", "1.0.0")},
		{"different code version", NewRunFingerprint("inputs", "config", "trace", "1.0.1")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEqual(t, base.Fingerprint, tc.fp.Fingerprint)
		})
	}
}

func TestRunManifest_Validate(t *testing.T) {
	inputs := map[string]core.Hash{"rx/trial_001.csv": core.NewHash([]byte("a"))}
	m := NewRunManifest(core.NewRunID(), inputs, map[string]interface{}{"grid_ms": 100}, "", "dev")
	require.NoError(t, m.Validate())

	m.RunID = ""
	err := m.Validate()
	require.Error(t, err)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "run_manifest", verr.Object)

	empty := NewRunManifest(core.NewRunID(), nil, nil, "", "dev")
	assert.Error(t, empty.Validate())
}
