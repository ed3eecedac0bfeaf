package ports

import (
	"context"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/run"
)

// MetricStore persists reconstruction results for the results API
type MetricStore interface {
	// Save a complete run; replaces an existing run with the same id
	SaveReport(ctx context.Context, r *metrics.Report, manifest *run.RunManifest) error

	GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*run.RunRecord, error)

	ListTrials(ctx context.Context, runID core.RunID) ([]metrics.TrialMetrics, error)
	ListSummaries(ctx context.Context, runID core.RunID) ([]metrics.ConditionSummary, error)
	ListExclusions(ctx context.Context, runID core.RunID) ([]metrics.Exclusion, error)
}
