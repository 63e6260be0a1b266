package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexops/drover/pkg/api"
	"github.com/cortexops/drover/pkg/arbitration"
	"github.com/cortexops/drover/pkg/config"
	"github.com/cortexops/drover/pkg/events"
	"github.com/cortexops/drover/pkg/lifecycle"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/orchestrator"
	"github.com/cortexops/drover/pkg/registry"
	"github.com/cortexops/drover/pkg/snapshot"
	"github.com/cortexops/drover/pkg/storage"
	"github.com/cortexops/drover/pkg/supervisor"
	"github.com/cortexops/drover/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - task orchestration control plane",
	Long: `Drover is a single-binary control plane for multi-agent task
execution: lifecycle tracking, capability-based scheduling with
backpressure, versioned execution snapshots, and confidence-weighted
arbitration of competing results.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Drover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen-addr", "", "API listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "State directory (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if listenAddr != "" {
			cfg.API.ListenAddr = listenAddr
		}
		if dataDir != "" {
			cfg.API.DataDir = dataDir
		}

		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.API.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.API.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()

	machine := lifecycle.NewStateMachine(broker)

	reg, err := registry.NewRegistry(broker,
		registry.WithStore(store),
		registry.WithCleanupInterval(cfg.Registry.CleanupInterval),
		registry.WithStaleThreshold(cfg.Registry.StaleThreshold),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	reg.Start()
	defer reg.Stop()

	super := supervisor.New(supervisor.Config{
		MaxWorkers: cfg.Supervisor.MaxWorkers,
		Backpressure: supervisor.BackpressureConfig{
			SaturationRatio: cfg.Supervisor.Backpressure.SaturationRatio,
			QueueDepth:      cfg.Supervisor.Backpressure.QueueDepth,
			Cooldown:        cfg.Supervisor.Backpressure.Cooldown,
		},
		Retry: supervisor.RetryConfig{
			BaseDelay:   cfg.Supervisor.Retry.BaseDelay,
			MaxDelay:    cfg.Supervisor.Retry.MaxDelay,
			MaxAttempts: cfg.Supervisor.Retry.MaxAttempts,
		},
	})

	// Workers persisted from a previous run rejoin the scheduling pool.
	for _, w := range reg.List() {
		if err := super.Register(supervisor.WorkerDescriptor{ID: w.ID, Capabilities: w.Capabilities}); err != nil {
			logger.Warn().Err(err).Str("worker_id", w.ID).Msg("failed to restore worker")
		}
	}

	snaps := snapshot.NewStore(store, broker,
		snapshot.WithDefaultTTL(cfg.Snapshot.DefaultTTL),
		snapshot.WithMaxPerTask(cfg.Snapshot.MaxSnapshotsPerTask),
		snapshot.WithCleanupInterval(cfg.Snapshot.CleanupInterval),
	)
	snaps.Start()
	defer snaps.Stop()

	scorer := arbitration.NewScorer(
		arbitration.Weights{
			VerificationSuccessRate: cfg.Scorer.Weights.VerificationSuccessRate,
			ClaimEvidenceQuality:    cfg.Scorer.Weights.ClaimEvidenceQuality,
			WorkerHistory:           cfg.Scorer.Weights.WorkerHistory,
			ArbitrationWins:         cfg.Scorer.Weights.ArbitrationWins,
			CawsCompliance:          cfg.Scorer.Weights.CawsCompliance,
			ModelReliability:        cfg.Scorer.Weights.ModelReliability,
			SourceCredibility:       cfg.Scorer.Weights.SourceCredibility,
		},
		arbitration.Thresholds{
			High:   cfg.Scorer.Thresholds.High,
			Medium: cfg.Scorer.Thresholds.Medium,
			Low:    cfg.Scorer.Thresholds.Low,
		},
	)
	arbiter := arbitration.NewCoordinator(arbitration.Config{
		MinParticipants:     cfg.Arbitration.MinParticipants,
		ConfidenceThreshold: cfg.Arbitration.ConfidenceThreshold,
		EscalationThreshold: cfg.Arbitration.EscalationThreshold,
		ConsensusWeights:    cfg.Arbitration.ConsensusWeights,
	}, scorer)

	orch := orchestrator.New(orchestrator.Config{
		DispatchInterval:  cfg.Supervisor.DispatchInterval,
		ArbitrationQuorum: cfg.Arbitration.MinParticipants,
	}, orchestrator.Deps{
		Machine:    machine,
		Registry:   reg,
		Supervisor: super,
		Snapshots:  snaps,
		Arbiter:    arbiter,
	})
	orch.Start()
	defer orch.Shutdown()

	// Event log tap: every control-plane event at debug.
	eventCh := broker.Subscribe()
	go func() {
		for event := range eventCh {
			logger.Debug().
				Str("event", string(event.Type)).
				Str("task_id", event.TaskID).
				Str("worker_id", event.WorkerID).
				Msg("event")
		}
	}()

	server := api.NewServer(cfg.API.ListenAddr, orch, reg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("listen_addr", cfg.API.ListenAddr).
		Str("data_dir", cfg.API.DataDir).
		Int("max_workers", cfg.Supervisor.MaxWorkers).
		Msg("drover started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	broker.Stop()

	// Tasks still queued at shutdown are logged for the operator.
	for _, state := range []types.TaskState{types.TaskStateQueued, types.TaskStateRunning} {
		if ids := machine.TasksByState(state); len(ids) > 0 {
			logger.Warn().Strs("task_ids", ids).Str("state", string(state)).Msg("tasks abandoned at shutdown")
		}
	}
	return nil
}
