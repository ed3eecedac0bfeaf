package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"beaconrig/adapters/logs"
	"beaconrig/adapters/postgres"
	"beaconrig/app"
	"beaconrig/domain/core"
	"beaconrig/domain/rig"
	"beaconrig/internal"
	"beaconrig/internal/api"
	"beaconrig/internal/config"
	"beaconrig/internal/manifest"
	"beaconrig/internal/policy"
	"beaconrig/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	appConfig *config.Config
	logger    *internal.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beaconrig",
		Short: "Beacon rig CLI for simulating, replaying and reconstructing trials",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				_ = godotenv.Load(".env.local")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			appConfig = cfg
			logger = internal.NewDefaultLogger()
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newReconstructCmd(),
		newSimulateCmd(),
		newReplayCmd(),
		newTagCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newReconstructCmd() *cobra.Command {
	var req app.ReconstructRequest
	var runID string
	var store bool

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Reconstruct per-trial metrics from receiver and power logs",
		Long: `Align receiver and power logs per trial and compute delivery, timeliness,
adaptation and energy metrics with per-condition confidence intervals.

Outputs go to <RIG_RESULTS_DIR>/<run id> unless --out is given. With --store the
run is also written to DATABASE_URL.

Example: beaconrig reconstruct --rx logs/rx --power logs/power --manifest run.json --trace trace.csv --xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID != "" {
				id, err := core.ParseRunID(runID)
				if err != nil {
					return err
				}
				req.RunID = id
			}

			var metricStore ports.MetricStore
			if store {
				if err := appConfig.RequireDatabase(); err != nil {
					return err
				}
				db, err := postgres.Connect(cmd.Context(), appConfig.Database.URL)
				if err != nil {
					return err
				}
				defer db.Close()
				metricStore = postgres.NewMetricStore(db)
			}

			res, err := app.NewReconstructionService(appConfig, metricStore, logger).Reconstruct(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&req.ReceiverDir, "rx", "", "Directory of receiver CSV logs")
	cmd.Flags().StringVar(&req.PowerDir, "power", "", "Directory of power logger CSV logs")
	cmd.Flags().StringVar(&req.ManifestPath, "manifest", "", "Run manifest (conditions and overrides)")
	cmd.Flags().StringVar(&req.TracePath, "trace", "", "Recorded signal trace for schedule replay")
	cmd.Flags().StringVar(&req.OutputDir, "out", "", "Output directory")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().BoolVar(&req.Workbook, "xlsx", false, "Also write an Excel workbook")
	cmd.Flags().BoolVar(&store, "store", false, "Persist the run to the results database")
	_ = cmd.MarkFlagRequired("rx")
	_ = cmd.MarkFlagRequired("power")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func newSimulateCmd() *cobra.Command {
	var req app.SimulateRequest
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the synthetic rig and write node logs",
		Long: `Run every condition of a manifest on a simulated rig: controller node,
power logger and receiver share one clock and talk only through line edges and
radio payloads. The logs are written in the formats the hardware produces.

Example: beaconrig simulate --manifest run.json --out sim --repeats 3 --loss 0.05 --latency-ms 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Duration = duration
			res, err := app.NewSimulationService(appConfig, logger).Simulate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&req.ManifestPath, "manifest", "", "Run manifest (conditions and policies)")
	cmd.Flags().StringVar(&req.OutputDir, "out", "sim", "Output directory")
	cmd.Flags().StringVar(&req.TracePath, "trace", "", "Signal trace to replay (square wave when empty)")
	cmd.Flags().IntVar(&req.Repeats, "repeats", 1, "Repeats per condition")
	cmd.Flags().DurationVar(&duration, "duration", 60*time.Second, "Trial duration")
	cmd.Flags().Float64Var(&req.Link.LossProb, "loss", 0, "Advert loss probability")
	cmd.Flags().Float64Var(&req.Link.DupProb, "dup", 0, "Advert duplication probability")
	cmd.Flags().Float64Var(&req.Link.LatencyMS, "latency-ms", 0, "Transmit to receive latency")
	cmd.Flags().Float64Var(&req.Link.JitterMS, "jitter-ms", 0, "Latency jitter")
	cmd.Flags().Int64Var(&req.Seed, "seed", 42, "Random seed for deterministic operations")
	cmd.Flags().IntVar(&req.CorruptRepeat, "corrupt-repeat", 0, "Damage the power preamble of this repeat")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func newReplayCmd() *cobra.Command {
	var manifestPath, condition, mode string

	cmd := &cobra.Command{
		Use:   "replay [trace.csv]",
		Short: "Replay the controller over a recorded trace and print the schedule",
		Long: `Run the frozen controller over a recorded signal trace and print the
interval per step, the transmission steps and every tier transition.

Policy parameters come from the manifest's policy for --condition, otherwise
from the POLICY_* environment.

Example: beaconrig replay trace.csv --manifest run.json --condition P3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := appConfig.Policy
			gridMS := appConfig.Rig.GridMS
			if manifestPath != "" {
				m, err := manifest.Load(manifestPath, appConfig.ManifestDefaults())
				if err != nil {
					return err
				}
				gridMS = m.GridMS
				if condition != "" {
					p, ok := m.Policies[condition]
					if !ok {
						return fmt.Errorf("no policy for condition %q", condition)
					}
					pc = p
				}
			}
			if mode != "" {
				md, err := rig.ParseMode(mode)
				if err != nil {
					return err
				}
				pc.Mode = md
			}

			trace, err := logs.ReadTrace(args[0], gridMS)
			if err != nil {
				return err
			}
			samples := trace.Samples
			if !trace.Smoothed {
				if samples, err = policy.SmoothTrace(samples, pc.Alpha); err != nil {
					return err
				}
			}
			sched, err := policy.Replay(pc, samples, gridMS)
			if err != nil {
				return err
			}
			return printJSON(sched)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Run manifest carrying per-condition policies")
	cmd.Flags().StringVar(&condition, "condition", "", "Condition whose policy to replay")
	cmd.Flags().StringVar(&mode, "mode", "", "Override controller mode: P|U|A")

	return cmd
}

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Encode or parse transmission tags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode [step] [mode] [label] [interval-ms]",
		Short: "Build a tag string",
		Long:  `Example: beaconrig tag encode 1128 P 4-03 100`,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step: %w", err)
			}
			mode, err := rig.ParseMode(args[1])
			if err != nil {
				return err
			}
			interval, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}
			fmt.Println(rig.EncodeTag(step, mode, args[2], interval))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "parse [tag...]",
		Short: "Parse tag strings",
		Long:  `Example: beaconrig tag parse 1128_P4-03-100`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := make([]rig.Tag, 0, len(args))
			for _, a := range args {
				t, err := rig.ParseTag(a)
				if err != nil {
					return err
				}
				tags = append(tags, t)
			}
			return printJSON(tags)
		},
	})

	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the results database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appConfig.RequireDatabase(); err != nil {
				return err
			}
			db, err := postgres.Connect(cmd.Context(), appConfig.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("schema up to date")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appConfig.RequireDatabase(); err != nil {
				return err
			}
			db, err := postgres.Connect(cmd.Context(), appConfig.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			srv := api.NewServer(postgres.NewMetricStore(db), logger)
			return srv.ListenAndServe(cmd.Context(), ":"+appConfig.Server.Port)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
