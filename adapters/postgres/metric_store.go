package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/run"
	"beaconrig/internal/errors"
	"beaconrig/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MetricStoreImpl implements ports.MetricStore for PostgreSQL
type MetricStoreImpl struct {
	db *sqlx.DB
}

// NewMetricStore creates a new PostgreSQL metric store
func NewMetricStore(db *sqlx.DB) ports.MetricStore {
	return &MetricStoreImpl{db: db}
}

type runRow struct {
	RunID          string    `db:"run_id"`
	CodeVersion    string    `db:"code_version"`
	Fingerprint    string    `db:"fingerprint"`
	TrialsAccepted int       `db:"trials_accepted"`
	TrialsExcluded int       `db:"trials_excluded"`
	Warnings       int       `db:"warnings"`
	Taus           []byte    `db:"taus"`
	Intervals      []byte    `db:"intervals"`
	WarningList    []byte    `db:"warning_list"`
	Manifest       []byte    `db:"manifest"`
	CreatedAt      time.Time `db:"created_at"`
}

// Flat columns keep the common metrics queryable; the full row lives in metrics.
type trialRow struct {
	RunID         string   `db:"run_id"`
	TrialKey      string   `db:"trial_key"`
	Condition     string   `db:"condition"`
	ConditionID   int      `db:"condition_id"`
	Repeat        int      `db:"repeat"`
	PDRUnique     *float64 `db:"pdr_unique"`
	PDRRaw        *float64 `db:"pdr_raw"`
	TLMean        *float64 `db:"tl_mean_s"`
	EnergyPerTxUJ *float64 `db:"energy_per_tx_uj"`
	Metrics       []byte   `db:"metrics"`
}

type summaryRow struct {
	RunID         string   `db:"run_id"`
	Condition     string   `db:"condition"`
	ConditionID   int      `db:"condition_id"`
	Trials        int      `db:"trials"`
	LowConfidence bool     `db:"low_confidence"`
	PowerMixShare *float64 `db:"power_mix_share"`
	Metrics       []byte   `db:"metrics"`
}

type exclusionRow struct {
	RunID     string `db:"run_id"`
	Source    string `db:"source"`
	Node      string `db:"node"`
	Condition string `db:"condition"`
	Repeat    int    `db:"repeat"`
	Kind      string `db:"kind"`
	Reason    string `db:"reason"`
}

func newRunRow(r *metrics.Report, manifest *run.RunManifest) (runRow, error) {
	row := runRow{
		RunID:          r.RunID.String(),
		TrialsAccepted: len(r.Trials),
		TrialsExcluded: len(r.Exclusions),
		Warnings:       len(r.Warnings),
		CreatedAt:      time.Now().UTC(),
	}
	var err error
	if row.Taus, err = json.Marshal(nonNil(r.Taus)); err != nil {
		return row, err
	}
	if row.Intervals, err = json.Marshal(nonNil(r.Intervals)); err != nil {
		return row, err
	}
	if row.WarningList, err = json.Marshal(nonNil(r.Warnings)); err != nil {
		return row, err
	}
	row.Manifest = []byte("{}")
	if manifest != nil {
		row.CodeVersion = manifest.CodeVersion
		row.Fingerprint = manifest.Fingerprint.Fingerprint.String()
		if !manifest.CreatedAt.IsZero() {
			row.CreatedAt = manifest.CreatedAt.Time().UTC()
		}
		if row.Manifest, err = json.Marshal(manifest); err != nil {
			return row, err
		}
	}
	return row, nil
}

func newTrialRows(r *metrics.Report) ([]trialRow, error) {
	rows := make([]trialRow, 0, len(r.Trials))
	for _, t := range r.Trials {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		rows = append(rows, trialRow{
			RunID:         r.RunID.String(),
			TrialKey:      t.TrialKey.String(),
			Condition:     t.Condition,
			ConditionID:   t.ConditionID,
			Repeat:        t.Repeat,
			PDRUnique:     t.PDRUnique,
			PDRRaw:        t.PDRRaw,
			TLMean:        t.TLMean,
			EnergyPerTxUJ: t.EnergyPerTxUJ,
			Metrics:       data,
		})
	}
	return rows, nil
}

func newSummaryRows(r *metrics.Report) ([]summaryRow, error) {
	rows := make([]summaryRow, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		data, err := json.Marshal(s.Metrics)
		if err != nil {
			return nil, err
		}
		rows = append(rows, summaryRow{
			RunID:         r.RunID.String(),
			Condition:     s.Condition,
			ConditionID:   s.ConditionID,
			Trials:        s.Trials,
			LowConfidence: s.LowConfidence,
			PowerMixShare: s.PowerMixShare,
			Metrics:       data,
		})
	}
	return rows, nil
}

func newExclusionRows(r *metrics.Report) []exclusionRow {
	rows := make([]exclusionRow, 0, len(r.Exclusions))
	for _, e := range r.Exclusions {
		rows = append(rows, exclusionRow{
			RunID:     r.RunID.String(),
			Source:    e.Source,
			Node:      string(e.Node),
			Condition: e.Condition,
			Repeat:    e.Repeat,
			Kind:      string(e.Kind),
			Reason:    e.Reason,
		})
	}
	return rows
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}

// SaveReport stores a run in one transaction, replacing any earlier copy
func (s *MetricStoreImpl) SaveReport(ctx context.Context, r *metrics.Report, manifest *run.RunManifest) error {
	if r == nil || core.ID(r.RunID).IsEmpty() {
		return errors.InvalidInput("report without run id")
	}
	header, err := newRunRow(r, manifest)
	if err != nil {
		return errors.Wrap(err, "encode run")
	}
	trials, err := newTrialRows(r)
	if err != nil {
		return errors.Wrap(err, "encode trial metrics")
	}
	summaries, err := newSummaryRows(r)
	if err != nil {
		return errors.Wrap(err, "encode condition summaries")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError(err, "begin transaction")
	}
	defer tx.Rollback()

	// child rows go with ON DELETE CASCADE
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = $1`, header.RunID); err != nil {
		return dbError(err, "replace run")
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, code_version, fingerprint, trials_accepted, trials_excluded,
			warnings, taus, intervals, warning_list, manifest, created_at)
		VALUES (:run_id, :code_version, :fingerprint, :trials_accepted, :trials_excluded,
			:warnings, :taus, :intervals, :warning_list, :manifest, :created_at)
	`, header); err != nil {
		return dbError(err, "insert run")
	}

	for _, row := range trials {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO trial_metrics (run_id, trial_key, condition, condition_id, repeat,
				pdr_unique, pdr_raw, tl_mean_s, energy_per_tx_uj, metrics)
			VALUES (:run_id, :trial_key, :condition, :condition_id, :repeat,
				:pdr_unique, :pdr_raw, :tl_mean_s, :energy_per_tx_uj, :metrics)
		`, row); err != nil {
			return dbError(err, "insert trial "+row.TrialKey)
		}
	}

	for _, row := range summaries {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO condition_summaries (run_id, condition, condition_id, trials, low_confidence, power_mix_share, metrics)
			VALUES (:run_id, :condition, :condition_id, :trials, :low_confidence, :power_mix_share, :metrics)
		`, row); err != nil {
			return dbError(err, "insert summary "+row.Condition)
		}
	}

	for _, row := range newExclusionRows(r) {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO exclusions (run_id, source, node, condition, repeat, kind, reason)
			VALUES (:run_id, :source, :node, :condition, :repeat, :kind, :reason)
		`, row); err != nil {
			return dbError(err, "insert exclusion "+row.Source)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError(err, "commit run")
	}
	return nil
}

const runColumns = `run_id, code_version, fingerprint, trials_accepted, trials_excluded, warnings, created_at`

// GetRun returns the stored header of a run
func (s *MetricStoreImpl) GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error) {
	var rec run.RunRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID.String())
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("run " + runID.String())
	}
	if err != nil {
		return nil, dbError(err, "get run")
	}
	return &rec, nil
}

// ListRuns returns the most recent runs first
func (s *MetricStoreImpl) ListRuns(ctx context.Context, limit int) ([]*run.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*run.RunRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, dbError(err, "list runs")
	}
	return recs, nil
}

// ListTrials returns trial metrics in condition then repeat order
func (s *MetricStoreImpl) ListTrials(ctx context.Context, runID core.RunID) ([]metrics.TrialMetrics, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	var blobs [][]byte
	err := s.db.SelectContext(ctx, &blobs, `
		SELECT metrics FROM trial_metrics
		WHERE run_id = $1
		ORDER BY condition_id, condition, repeat
	`, runID.String())
	if err != nil {
		return nil, dbError(err, "list trials")
	}
	out := make([]metrics.TrialMetrics, 0, len(blobs))
	for _, b := range blobs {
		var t metrics.TrialMetrics
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, errors.Wrap(err, "decode trial metrics")
		}
		out = append(out, t)
	}
	return out, nil
}

// ListSummaries returns the per-condition aggregates of a run
func (s *MetricStoreImpl) ListSummaries(ctx context.Context, runID core.RunID) ([]metrics.ConditionSummary, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, condition, condition_id, trials, low_confidence, power_mix_share, metrics
		FROM condition_summaries
		WHERE run_id = $1
		ORDER BY condition_id, condition
	`, runID.String())
	if err != nil {
		return nil, dbError(err, "list summaries")
	}
	return decodeSummaries(rows)
}

func decodeSummaries(rows []summaryRow) ([]metrics.ConditionSummary, error) {
	out := make([]metrics.ConditionSummary, 0, len(rows))
	for _, row := range rows {
		s := metrics.ConditionSummary{
			Condition:     row.Condition,
			ConditionID:   row.ConditionID,
			Trials:        row.Trials,
			LowConfidence: row.LowConfidence,
			PowerMixShare: row.PowerMixShare,
		}
		if err := json.Unmarshal(row.Metrics, &s.Metrics); err != nil {
			return nil, errors.Wrapf(err, "decode summary %s", row.Condition)
		}
		out = append(out, s)
	}
	return out, nil
}

// ListExclusions returns the exclusion manifest of a run
func (s *MetricStoreImpl) ListExclusions(ctx context.Context, runID core.RunID) ([]metrics.Exclusion, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []exclusionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, source, node, condition, repeat, kind, reason
		FROM exclusions
		WHERE run_id = $1
		ORDER BY id
	`, runID.String())
	if err != nil {
		return nil, dbError(err, "list exclusions")
	}
	out := make([]metrics.Exclusion, 0, len(rows))
	for _, row := range rows {
		out = append(out, metrics.Exclusion{
			Source:    row.Source,
			Node:      core.NodeKind(row.Node),
			Condition: row.Condition,
			Repeat:    row.Repeat,
			Kind:      metrics.ExclusionKind(row.Kind),
			Reason:    row.Reason,
		})
	}
	return out, nil
}

func (s *MetricStoreImpl) requireRun(ctx context.Context, runID core.RunID) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM runs WHERE run_id = $1)`, runID.String())
	if err != nil {
		return dbError(err, "check run")
	}
	if !exists {
		return errors.NotFound("run " + runID.String())
	}
	return nil
}

// dbError tags driver failures with the database code and the postgres condition name
func dbError(err error, op string) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return errors.WithCode(errors.CodeDatabaseError,
			fmt.Errorf("%s: %s (%s): %w", op, pqErr.Message, pqErr.Code.Name(), err))
	}
	return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("%s: %w", op, err))
}
