package app

import (
	"context"
	"path/filepath"
	"time"

	"beaconrig/adapters/excel"
	"beaconrig/adapters/logs"
	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
	"beaconrig/domain/run"
	"beaconrig/internal"
	"beaconrig/internal/config"
	"beaconrig/internal/errors"
	"beaconrig/internal/manifest"
	"beaconrig/internal/observability"
	"beaconrig/internal/reconstruct"
	"beaconrig/internal/report"
	"beaconrig/ports"
)

// WorkbookXLSX is the spreadsheet written next to the text outputs
const WorkbookXLSX = "metrics.xlsx"

// ReconstructionService turns a directory of node logs into metric tables
type ReconstructionService struct {
	cfg    *config.Config
	store  ports.MetricStore
	logger *internal.Logger
}

// ReconstructRequest names the inputs of one run
type ReconstructRequest struct {
	ReceiverDir  string
	PowerDir     string
	ManifestPath string
	TracePath    string // optional
	// OutputDir defaults to <results dir>/<run id>
	OutputDir string
	RunID     core.RunID // optional, generated if empty
	Workbook  bool
}

// ReconstructResult contains everything the run produced
type ReconstructResult struct {
	RunID     core.RunID       `json:"run_id"`
	OutputDir string           `json:"output_dir"`
	Files     []string         `json:"files"`
	Report    *metrics.Report  `json:"-"`
	Manifest  *run.RunManifest `json:"manifest"`
	Stored    bool             `json:"stored"`
	RuntimeMs int64            `json:"runtime_ms"`
}

// NewReconstructionService creates the service; store may be nil
func NewReconstructionService(cfg *config.Config, store ports.MetricStore, lg *internal.Logger) *ReconstructionService {
	return &ReconstructionService{cfg: cfg, store: store, logger: lg.WithComponent("Reconstruct")}
}

// Reconstruct loads the logs, runs the engine and writes every output
func (s *ReconstructionService) Reconstruct(ctx context.Context, req ReconstructRequest) (*ReconstructResult, error) {
	startTime := time.Now()

	if req.ManifestPath == "" {
		return nil, errors.InvalidInput("a run manifest is required to know the conditions")
	}
	m, err := manifest.Load(req.ManifestPath, s.cfg.ManifestDefaults())
	if err != nil {
		return nil, errors.Wrap(err, "load run manifest")
	}

	in, err := logs.LoadDirs(req.ReceiverDir, req.PowerDir)
	if err != nil {
		return nil, errors.Wrap(err, "load node logs")
	}
	s.logger.Info("loaded %d receiver logs, %d power logs, %d unreadable", len(in.Receiver), len(in.Power), len(in.Failures))

	if h, err := logs.HashFile(req.ManifestPath); err == nil {
		in.Hashes[req.ManifestPath] = h
	}
	var trace *rig.Trace
	var traceHash core.Hash
	if req.TracePath != "" {
		if trace, err = logs.ReadTrace(req.TracePath, m.GridMS); err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "read signal trace"))
		}
		if traceHash, err = logs.HashFile(req.TracePath); err != nil {
			return nil, errors.Wrap(err, "hash signal trace")
		}
	}

	engineCfg, err := reconstruct.ConfigFromManifest(m, s.cfg.Rig.Parallelism)
	if err != nil {
		return nil, err
	}
	engine, err := reconstruct.NewEngine(engineCfg, m, trace, s.logger)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if core.ID(runID).IsEmpty() {
		runID = core.NewRunID()
	}
	rep, err := engine.Run(ctx, runID, in)
	if err != nil {
		observability.ObserveRunFailure()
		return nil, errors.Wrap(err, "reconstruction failed")
	}
	observability.ObserveRun(rep, time.Since(startTime))

	man := run.NewRunManifest(runID, in.Hashes, runConfig(engineCfg, m), traceHash, s.cfg.Rig.CodeVersion)
	man.ReceiverDir, man.PowerDir = req.ReceiverDir, req.PowerDir
	man.TracePath, man.ManifestPath = req.TracePath, req.ManifestPath
	man.TrialsAccepted, man.TrialsExcluded = len(rep.Trials), len(rep.Exclusions)
	s.logger.Info("run %s fingerprint %s", runID, man.Fingerprint.Fingerprint.Short())

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Join(s.cfg.Paths.ResultsDir, runID.String())
	}
	files, err := report.WriteAll(outDir, rep, man)
	if err != nil {
		return nil, err
	}
	if req.Workbook {
		path := filepath.Join(outDir, WorkbookXLSX)
		if err := excel.WriteWorkbook(path, report.TrialTable(rep), report.SummaryTable(rep), report.ExclusionTable(rep)); err != nil {
			return nil, errors.Wrap(err, "write workbook")
		}
		files = append(files, path)
	}

	result := &ReconstructResult{
		RunID:     runID,
		OutputDir: outDir,
		Files:     files,
		Report:    rep,
		Manifest:  man,
	}
	if s.store != nil {
		if err := s.store.SaveReport(ctx, rep, man); err != nil {
			return nil, errors.Wrap(err, "store run")
		}
		result.Stored = true
	}
	result.RuntimeMs = time.Since(startTime).Milliseconds()
	s.logger.Info("run %s: %d trials, %d exclusions, %d files in %dms",
		runID, len(rep.Trials), len(rep.Exclusions), len(files), result.RuntimeMs)
	return result, nil
}

// runConfig is the part of the configuration that determines the results
func runConfig(cfg reconstruct.Config, m *manifest.Manifest) map[string]interface{} {
	conds := make([]string, 0)
	for _, c := range m.Conditions {
		conds = append(conds, c.Name)
	}
	out := map[string]interface{}{
		"grid_ms":         cfg.GridMS,
		"min_duration_ms": cfg.MinDurationMS,
		"taus_s":          cfg.TausS,
		"align_method":    string(cfg.AlignMethod),
		"outlier_mad_k":   cfg.OutlierMADK,
		"conditions":      conds,
	}
	if cfg.BaselinePowerMW != nil {
		out["baseline_power_mw"] = *cfg.BaselinePowerMW
	}
	return out
}
