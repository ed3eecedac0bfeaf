package run

import (
	"time"

	"beaconrig/domain/core"
)

// RunRecord is the stored header of a reconstruction run
type RunRecord struct {
	RunID          core.RunID `db:"run_id" json:"run_id"`
	CodeVersion    string     `db:"code_version" json:"code_version"`
	Fingerprint    core.Hash  `db:"fingerprint" json:"fingerprint"`
	TrialsAccepted int        `db:"trials_accepted" json:"trials_accepted"`
	TrialsExcluded int        `db:"trials_excluded" json:"trials_excluded"`
	Warnings       int        `db:"warnings" json:"warnings"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
