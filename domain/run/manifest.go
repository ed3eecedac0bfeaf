package run

import (
	"beaconrig/domain/core"
)

// RunManifest records what a reconstruction run consumed and produced.
// It is written next to the result tables as run_manifest.json.
type RunManifest struct {
	RunID          core.RunID             `json:"run_id"`
	ReceiverDir    string                 `json:"receiver_dir"`
	PowerDir       string                 `json:"power_dir"`
	TracePath      string                 `json:"trace_path,omitempty"`
	ManifestPath   string                 `json:"manifest_path,omitempty"`
	Inputs         map[string]core.Hash   `json:"inputs"`
	Config         map[string]interface{} `json:"config"`
	CodeVersion    string                 `json:"code_version"`
	Fingerprint    RunFingerprint         `json:"fingerprint"`
	TrialsAccepted int                    `json:"trials_accepted"`
	TrialsExcluded int                    `json:"trials_excluded"`
	CreatedAt      core.Timestamp         `json:"created_at"`
}

// NewRunManifest fingerprints the inputs and configuration of a run
func NewRunManifest(runID core.RunID, inputs map[string]core.Hash, config map[string]interface{}, traceHash core.Hash, codeVersion string) *RunManifest {
	fingerprint := NewRunFingerprint(core.ComputeInputsHash(inputs), core.ComputeConfigHash(config), traceHash, codeVersion)
	return &RunManifest{
		RunID:       runID,
		Inputs:      inputs,
		Config:      config,
		CodeVersion: codeVersion,
		Fingerprint: fingerprint,
		CreatedAt:   core.Now(),
	}
}

// Validate checks if the manifest is complete
func (r *RunManifest) Validate() error {
	if core.ID(r.RunID).IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if len(r.Inputs) == 0 {
		return core.NewValidationError("run_manifest", "inputs cannot be empty")
	}
	if r.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewValidationError("run_manifest", "fingerprint cannot be empty")
	}
	if r.CodeVersion == "" {
		return core.NewValidationError("run_manifest", "code_version cannot be empty")
	}
	if r.TrialsAccepted < 0 || r.TrialsExcluded < 0 {
		return core.NewValidationError("run_manifest", "trial counts cannot be negative")
	}
	return nil
}
