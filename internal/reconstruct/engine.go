package reconstruct

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"beaconrig/adapters/logs"
	"beaconrig/domain/core"
	"beaconrig/domain/metrics"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/errors"
	"beaconrig/internal/manifest"
	"beaconrig/internal/policy"
)

// Config controls one reconstruction run
type Config struct {
	GridMS          int
	TausS           []float64
	AlignMethod     AlignMethod
	BaselinePowerMW *float64
	MinDurationMS   float64
	OutlierMADK     float64
	// Parallelism bounds concurrent trials; <= 0 means unbounded
	Parallelism int
}

// ConfigFromManifest takes run parameters from the manifest
func ConfigFromManifest(m *manifest.Manifest, parallelism int) (Config, error) {
	method, err := ParseAlignMethod(m.AlignMethod)
	if err != nil {
		return Config{}, err
	}
	return Config{
		GridMS:          m.GridMS,
		TausS:           m.TausS,
		AlignMethod:     method,
		BaselinePowerMW: m.BaselinePowerMW,
		MinDurationMS:   m.MinDurationMS,
		OutlierMADK:     m.OutlierMADK,
		Parallelism:     parallelism,
	}, nil
}

// Engine rebuilds per-trial timelines and metrics from the three node logs
type Engine struct {
	cfg      Config
	manifest *manifest.Manifest
	trace    *rig.Trace
	logger   *internal.Logger

	schedules map[string]*policy.Schedule
	truth     []int
}

// NewEngine prepares an engine. trace may be nil; without it adaptive
// schedules and transition latency are not computed.
func NewEngine(cfg Config, m *manifest.Manifest, trace *rig.Trace, lg *internal.Logger) (*Engine, error) {
	if cfg.GridMS <= 0 {
		return nil, errors.ConfigInvalid("grid must be positive")
	}
	if m == nil || m.ConditionSet() == nil {
		return nil, errors.ConfigInvalid("engine needs a validated manifest")
	}
	e := &Engine{cfg: cfg, manifest: m, trace: trace, logger: lg.WithComponent("Engine"), schedules: make(map[string]*policy.Schedule)}
	if trace != nil {
		if err := e.replaySchedules(); err != nil {
			return nil, err
		}
		e.truth = trace.Labels()
		if !hasLabels(e.truth) {
			e.truth = nil
		}
	}
	return e, nil
}

func hasLabels(truth []int) bool {
	for _, l := range truth {
		if l >= 0 {
			return true
		}
	}
	return false
}

// replaySchedules runs the frozen controller of every adaptive condition
// over the trace once
func (e *Engine) replaySchedules() error {
	for _, c := range e.manifest.ConditionSet().All() {
		if !c.Mode.Adaptive() {
			continue
		}
		cfg, ok := e.manifest.Policies[c.Name]
		if !ok {
			continue
		}
		samples := e.trace.Samples
		if !e.trace.Smoothed {
			var err error
			if samples, err = policy.SmoothTrace(samples, cfg.Alpha); err != nil {
				return errors.Wrapf(err, "smooth trace for %s", c.Name)
			}
		}
		sched, err := policy.Replay(cfg, samples, e.cfg.GridMS)
		if err != nil {
			return errors.Wrapf(err, "replay %s", c.Name)
		}
		e.logger.Debug("replayed %s: %d transmissions, %d transitions", c.Name, len(sched.TxSteps), len(sched.Transitions))
		e.schedules[c.Name] = &sched
	}
	return nil
}

type outcome struct {
	metrics   *metrics.TrialMetrics
	exclusion *metrics.Exclusion
	warning   string
}

// Run matches the logs, processes every trial in parallel and aggregates
// once all trials are done. Per-trial failures become exclusions.
func (e *Engine) Run(ctx context.Context, runID core.RunID, in *logs.Inputs) (*metrics.Report, error) {
	matcher := NewMatcher(e.manifest.ConditionSet(), MatchConfig{
		MinDurationMS: e.cfg.MinDurationMS,
		OutlierMADK:   e.cfg.OutlierMADK,
	}, e.manifest, e.logger)
	trials, excl := matcher.Match(in)
	intervals := e.manifest.Intervals()

	results := make([]outcome, len(trials))
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Parallelism > 0 {
		g.SetLimit(e.cfg.Parallelism)
	}
	for i, t := range trials {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.processTrial(t, intervals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "reconstruction cancelled")
	}

	report := &metrics.Report{RunID: runID, Taus: e.cfg.TausS, Intervals: intervals, Exclusions: excl}
	for _, r := range results {
		if r.exclusion != nil {
			report.Exclusions = append(report.Exclusions, *r.exclusion)
			continue
		}
		if r.warning != "" {
			report.Warnings = append(report.Warnings, r.warning)
		}
		report.Trials = append(report.Trials, *r.metrics)
	}
	sort.SliceStable(report.Exclusions, func(i, j int) bool { return report.Exclusions[i].Source < report.Exclusions[j].Source })
	report.Summaries = Aggregate(report.Trials, e.manifest.ConditionSet().All(), e.cfg.TausS, intervals)
	e.logger.Info("run %s: %d trials, %d exclusions", runID.String(), len(report.Trials), len(report.Exclusions))
	return report, nil
}

func (e *Engine) processTrial(t *Trial, intervals []int) outcome {
	off, err := FitOffset(t.Receiver.Events, e.cfg.GridMS, e.cfg.AlignMethod)
	if err != nil {
		e.logger.Warn("%s: %v", t.Receiver.Source, err)
		x := exclusion(t.Receiver.Source, core.NodeReceiver, t.Condition.Name, t.Repeat, metrics.ExclusionAlignment, err.Error())
		return outcome{exclusion: &x}
	}

	steps := StepCount(t.Duration(), e.cfg.GridMS)
	var schedule []int
	var replayed *policy.Schedule
	if t.Condition.Mode.Adaptive() {
		if s, ok := e.schedules[t.Condition.Name]; ok {
			replayed = s
			schedule = s.TxSteps
			if schedule == nil {
				schedule = []int{}
			}
		}
	} else {
		schedule = FixedSchedule(steps, t.Condition.IntervalMS, e.cfg.GridMS)
	}
	tl := BuildTimeline(t.Receiver.Events, steps, e.cfg.GridMS, off, schedule)

	m := ComputeMetrics(MetricInputs{
		Trial:           t,
		Timeline:        tl,
		TausS:           e.cfg.TausS,
		Intervals:       intervals,
		Truth:           e.truth,
		Replayed:        replayed,
		BaselinePowerMW: e.cfg.BaselinePowerMW,
	})
	out := outcome{metrics: &m}
	if m.DenominatorMissing {
		out.warning = fmt.Sprintf("%s: %v; PDR undefined", t.Receiver.Source, core.ErrDenominatorMissing)
	}
	return out
}
