package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"beaconrig/adapters/logs"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/config"
	"beaconrig/internal/errors"
	"beaconrig/internal/manifest"
	"beaconrig/internal/policy"
	"beaconrig/internal/powerlog"
	"beaconrig/internal/receiver"
	"beaconrig/internal/testkit"
)

// Directory layout of a simulated run
const (
	ReceiverSubdir = "rx"
	PowerSubdir    = "power"
	TraceFile      = "trace.csv"
)

// SimulationService runs the synthetic rig and writes node logs to disk in
// the same formats the hardware produces
type SimulationService struct {
	cfg    *config.Config
	logger *internal.Logger
}

// SimulateRequest describes a synthetic campaign
type SimulateRequest struct {
	ManifestPath string
	OutputDir    string
	// TracePath is replayed when set; otherwise a square-wave trace is generated
	TracePath string
	Repeats   int
	Duration  time.Duration
	Link      testkit.LinkConfig
	Seed      int64
	// CorruptRepeat damages the power preamble of every condition's trial with this repeat
	CorruptRepeat int
}

// SimulateResult points at the generated logs
type SimulateResult struct {
	ReceiverDir string `json:"receiver_dir"`
	PowerDir    string `json:"power_dir"`
	TracePath   string `json:"trace_path"`
	Trials      int    `json:"trials"`
	RuntimeMs   int64  `json:"runtime_ms"`
}

// NewSimulationService creates a simulation service
func NewSimulationService(cfg *config.Config, lg *internal.Logger) *SimulationService {
	return &SimulationService{cfg: cfg, logger: lg.WithComponent("Simulate")}
}

// Simulate runs every condition of the manifest Repeats times
func (s *SimulationService) Simulate(ctx context.Context, req SimulateRequest) (*SimulateResult, error) {
	startTime := time.Now()
	if req.Repeats <= 0 {
		return nil, errors.InvalidInput("repeats must be positive")
	}
	m, err := manifest.Load(req.ManifestPath, s.cfg.ManifestDefaults())
	if err != nil {
		return nil, errors.Wrap(err, "load run manifest")
	}

	simCfg := testkit.DefaultRigSimConfig()
	simCfg.GridMS = m.GridMS
	simCfg.Link = req.Link
	simCfg.Seed = req.Seed
	if req.Duration > 0 {
		simCfg.Duration = req.Duration
	}
	if simCfg.Link.RSSIMean == 0 {
		simCfg.Link.RSSIMean = testkit.DefaultRigSimConfig().Link.RSSIMean
	}

	res := &SimulateResult{
		ReceiverDir: filepath.Join(req.OutputDir, ReceiverSubdir),
		PowerDir:    filepath.Join(req.OutputDir, PowerSubdir),
	}
	rxStore, err := receiver.NewDirStore(res.ReceiverDir)
	if err != nil {
		return nil, errors.Wrap(err, "create receiver log dir")
	}
	pwStore, err := powerlog.NewDirStore(res.PowerDir)
	if err != nil {
		return nil, errors.Wrap(err, "create power log dir")
	}

	trace, err := s.trace(req, m, simCfg)
	if err != nil {
		return nil, err
	}
	res.TracePath = req.TracePath
	if res.TracePath == "" {
		res.TracePath = filepath.Join(req.OutputDir, TraceFile)
		if err := writeTrace(res.TracePath, trace); err != nil {
			return nil, errors.Wrap(err, "write generated trace")
		}
	}

	sim, err := testkit.NewRigSimulator(simCfg, m.ConditionSet(), rxStore, pwStore, s.logger)
	if err != nil {
		return nil, err
	}
	for repeat := 1; repeat <= req.Repeats; repeat++ {
		for _, c := range m.ConditionSet().All() {
			plan := testkit.TrialPlan{Condition: c, Repeat: repeat, CorruptPreamble: repeat == req.CorruptRepeat}
			if c.Mode.Adaptive() {
				pc, ok := m.Policies[c.Name]
				if !ok {
					return nil, errors.ConfigInvalid("no policy for adaptive condition " + c.Name)
				}
				if plan.Samples, err = smoothed(trace, pc.Alpha); err != nil {
					return nil, err
				}
				plan.Policy = &pc
			}
			if _, err := sim.RunTrial(ctx, plan); err != nil {
				return nil, errors.Wrapf(err, "simulate %s r%d", c.Name, repeat)
			}
			res.Trials++
		}
	}
	res.RuntimeMs = time.Since(startTime).Milliseconds()
	s.logger.Info("simulated %d trials into %s", res.Trials, req.OutputDir)
	return res, nil
}

func (s *SimulationService) trace(req SimulateRequest, m *manifest.Manifest, simCfg testkit.RigSimConfig) (*rig.Trace, error) {
	if req.TracePath != "" {
		t, err := logs.ReadTrace(req.TracePath, m.GridMS)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "read signal trace"))
		}
		return t, nil
	}
	steps := int(simCfg.Duration / (time.Duration(m.GridMS) * time.Millisecond))
	// context changes every 15 s of trial time
	period := 15000 / m.GridMS
	return &rig.Trace{GridMS: m.GridMS, Samples: testkit.SquareTrace(steps, period, 0.05, 0.6), Smoothed: true}, nil
}

func smoothed(t *rig.Trace, alpha float64) ([]rig.SignalSample, error) {
	if t.Smoothed {
		return t.Samples, nil
	}
	return policy.SmoothTrace(t.Samples, alpha)
}

func writeTrace(path string, t *rig.Trace) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := logs.WriteTrace(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
