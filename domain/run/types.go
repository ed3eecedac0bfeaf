package run

import (
	"crypto/sha256"
	"fmt"

	"beaconrig/domain/core"
)

// RunFingerprint ensures a reconstruction can be reproduced from the same inputs
type RunFingerprint struct {
	InputsHash  core.Hash `json:"inputs_hash"`
	ConfigHash  core.Hash `json:"config_hash"`
	TraceHash   core.Hash `json:"trace_hash,omitempty"`
	CodeVersion string    `json:"code_version"`
	Fingerprint core.Hash `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(inputsHash, configHash, traceHash core.Hash, codeVersion string) RunFingerprint {
	return RunFingerprint{
		InputsHash:  inputsHash,
		ConfigHash:  configHash,
		TraceHash:   traceHash,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(inputsHash, configHash, traceHash, codeVersion),
	}
}

func computeRunFingerprint(inputsHash, configHash, traceHash core.Hash, codeVersion string) core.Hash {
	data := fmt.Sprintf("inputs:%s|config:%s|trace:%s|code:%s",
		inputsHash, configHash, traceHash, codeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
