package migration

import (
	"context"

	"beaconrig/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Step is one idempotent schema statement
type Step struct {
	Name string
	SQL  string
}

// Steps returns the schema statements in execution order
func (r *MigrationRunner) Steps() []Step {
	return []Step{
		{Name: "runs table", SQL: createRunsTable},
		{Name: "trial_metrics table", SQL: createTrialMetricsTable},
		{Name: "condition_summaries table", SQL: createConditionSummariesTable},
		{Name: "power_mix_share column", SQL: addPowerMixShareColumn},
		{Name: "exclusions table", SQL: createExclusionsTable},
		{Name: "indexes", SQL: createIndexes},
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	for _, step := range r.Steps() {
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to create %s", step.Name))
		}
	}
	return nil
}

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		code_version TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		trials_accepted INTEGER NOT NULL DEFAULT 0,
		trials_excluded INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		taus JSONB NOT NULL DEFAULT '[]',
		intervals JSONB NOT NULL DEFAULT '[]',
		warning_list JSONB NOT NULL DEFAULT '[]',
		manifest JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

const createTrialMetricsTable = `
	CREATE TABLE IF NOT EXISTS trial_metrics (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		trial_key TEXT NOT NULL,
		condition TEXT NOT NULL,
		condition_id INTEGER NOT NULL,
		repeat INTEGER NOT NULL,
		pdr_unique DOUBLE PRECISION,
		pdr_raw DOUBLE PRECISION,
		tl_mean_s DOUBLE PRECISION,
		energy_per_tx_uj DOUBLE PRECISION,
		metrics JSONB NOT NULL,
		PRIMARY KEY (run_id, trial_key)
	)`

const createConditionSummariesTable = `
	CREATE TABLE IF NOT EXISTS condition_summaries (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		condition TEXT NOT NULL,
		condition_id INTEGER NOT NULL,
		trials INTEGER NOT NULL,
		low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
		power_mix_share DOUBLE PRECISION,
		metrics JSONB NOT NULL,
		PRIMARY KEY (run_id, condition)
	)`

const addPowerMixShareColumn = `
	ALTER TABLE condition_summaries ADD COLUMN IF NOT EXISTS power_mix_share DOUBLE PRECISION`

const createExclusionsTable = `
	CREATE TABLE IF NOT EXISTS exclusions (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		node TEXT NOT NULL DEFAULT '',
		condition TEXT NOT NULL DEFAULT '',
		repeat INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`

const createIndexes = `
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_trial_metrics_condition ON trial_metrics(run_id, condition_id, repeat);
	CREATE INDEX IF NOT EXISTS idx_exclusions_run_id ON exclusions(run_id);
	CREATE INDEX IF NOT EXISTS idx_exclusions_kind ON exclusions(kind)`
