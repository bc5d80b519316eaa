package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/doublezero-rewards/internal/calculator"
	"github.com/malbeclabs/doublezero-rewards/internal/config"
	"github.com/malbeclabs/doublezero-rewards/internal/epoch"
	"github.com/malbeclabs/doublezero-rewards/internal/graph"
	"github.com/malbeclabs/doublezero-rewards/internal/ingest"
	"github.com/malbeclabs/doublezero-rewards/internal/merkle"
	"github.com/malbeclabs/doublezero-rewards/internal/revdist"
	"github.com/malbeclabs/doublezero-rewards/internal/serviceability"
	"github.com/malbeclabs/doublezero-rewards/internal/stats"
	"github.com/malbeclabs/doublezero-rewards/internal/telemetry"
	"github.com/malbeclabs/doublezero-rewards/internal/worker"
)

var (
	configPath  string
	verbose     bool
	dryRun      bool
	keypairPath string

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "doublezero-rewards",
	Short: "DoubleZero contributor rewards pipeline",
	Long: `Computes per-epoch contributor rewards for the DoubleZero network from
on-chain telemetry and registry state, commits them to a merkle root, and
posts the root to the revenue distribution program.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("doublezero-rewards %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the rewards worker (service mode)",
	Long: `Runs the scheduler loop: every interval, resolve the previous ledger
epoch and process it exactly once, persisting progress to the state file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose)
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dryRun {
			cfg.Scheduler.DryRun = true
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		deps, err := buildPipeline(log, cfg)
		if err != nil {
			return err
		}

		startMetricsServer(log, cfg.MetricsAddr)

		w, err := worker.New(worker.Config{
			Logger:                 log,
			Clock:                  clockwork.NewRealClock(),
			EpochSource:            deps.finder,
			Processor:              deps.calc,
			Interval:               cfg.Scheduler.Interval,
			StateFile:              cfg.Scheduler.StateFile,
			MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		})
		if err != nil {
			return err
		}
		return w.Run(ctx)
	},
}

var calculateEpoch uint64

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate rewards for one epoch and print them",
	Long: `Runs the pipeline once for the given epoch (default: previous ledger
epoch) without posting anything, and prints the rewards and merkle root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose)
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// One-shot calculation never posts, no keypair needed.
		cfg.Scheduler.DryRun = true

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		deps, err := buildPipeline(log, cfg)
		if err != nil {
			return err
		}

		target := calculateEpoch
		if target == 0 {
			current, err := deps.finder.CurrentEpoch(ctx)
			if err != nil {
				return err
			}
			if current == 0 {
				return fmt.Errorf("current epoch is 0, nothing to calculate")
			}
			target = current - 1
		}

		tree, err := deps.calc.BuildRewards(ctx, target)
		if err != nil {
			return err
		}
		root := tree.Root()

		out := struct {
			Epoch        uint64                `json:"epoch"`
			Root         string                `json:"merkle_root"`
			Contributors int                   `json:"total_contributors"`
			Rewards      []merkle.RewardDetail `json:"rewards"`
		}{
			Epoch:        target,
			Root:         hex.EncodeToString(root[:]),
			Contributors: tree.Len(),
			Rewards:      tree.Rewards(),
		}
		encoded, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var (
	proofEpoch    uint64
	proofOperator string
)

var verifyProofCmd = &cobra.Command{
	Use:   "verify-proof",
	Short: "Generate and verify a reward inclusion proof",
	Long: `Recomputes the reward tree for an epoch, generates the inclusion proof
for one operator, and verifies it against the on-chain root when the
distribution account has one, otherwise against the recomputed root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose)
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// Proof generation is read-only.
		cfg.Scheduler.DryRun = true

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		deps, err := buildPipeline(log, cfg)
		if err != nil {
			return err
		}

		tree, err := deps.calc.BuildRewards(ctx, proofEpoch)
		if err != nil {
			return err
		}

		index := -1
		for i, reward := range tree.Rewards() {
			if reward.Operator == proofOperator {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("operator %s has no reward in epoch %d", proofOperator, proofEpoch)
		}

		proof, err := tree.GenerateProof(index)
		if err != nil {
			return err
		}
		reward, err := tree.Reward(index)
		if err != nil {
			return err
		}

		root := verificationRoot(ctx, log, deps.distributions, proofEpoch, tree.Root())

		ok, err := merkle.VerifyReward(reward, proof, root)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("proof verification failed for operator %s at epoch %d", proofOperator, proofEpoch)
		}
		log.Info("Proof verified",
			"epoch", proofEpoch,
			"operator", proofOperator,
			"value", reward.Value,
			"proportion", reward.Proportion,
			"root", hex.EncodeToString(root[:]),
		)
		return nil
	},
}

type pipeline struct {
	finder        *epoch.Finder
	calc          *calculator.Calculator
	distributions *revdist.Client
}

type distributionFetcher interface {
	FetchDistribution(ctx context.Context, epoch uint64) (*revdist.Distribution, error)
}

// verificationRoot prefers the epoch's posted on-chain root and otherwise
// falls back to the recomputed one. A failed on-chain read is reported, never
// swallowed: the operator must know the verification did not reach the chain.
func verificationRoot(ctx context.Context, log *slog.Logger, distributions distributionFetcher, epochID uint64, computed [32]byte) [32]byte {
	dist, err := distributions.FetchDistribution(ctx, epochID)
	switch {
	case errors.Is(err, revdist.ErrDistributionNotInitialized):
		log.Info("Distribution not initialized on-chain, verifying against recomputed root", "epoch", epochID)
	case err != nil:
		log.Warn("Failed to read on-chain distribution, verifying against recomputed root", "epoch", epochID, "error", err)
	case dist.HasRewardsRoot():
		log.Info("Verifying against on-chain root", "epoch", epochID)
		return dist.RewardsMerkleRoot
	default:
		log.Info("No rewards root posted yet, verifying against recomputed root", "epoch", epochID)
	}
	return computed
}

func buildPipeline(log *slog.Logger, cfg *config.Config) (*pipeline, error) {
	ledgerRPC := solanarpc.New(cfg.LedgerRPCURL)
	solanaRPC := solanarpc.New(cfg.SolanaRPCURL)

	serviceabilityProgramID, err := solana.PublicKeyFromBase58(cfg.ServiceabilityProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse serviceability program id: %w", err)
	}
	telemetryProgramID, err := solana.PublicKeyFromBase58(cfg.TelemetryProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse telemetry program id: %w", err)
	}
	revdistProgramID, err := solana.PublicKeyFromBase58(cfg.RevenueDistributionProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse revenue distribution program id: %w", err)
	}

	finder, err := epoch.NewFinder(log, ledgerRPC, solanaRPC)
	if err != nil {
		return nil, err
	}

	fetcher, err := ingest.NewFetcher(&ingest.FetcherConfig{
		Logger:               log,
		ServiceabilityClient: serviceability.New(ledgerRPC, serviceabilityProgramID),
		TelemetryClient:      telemetry.New(ledgerRPC, telemetryProgramID),
		CoverageThreshold:    cfg.Telemetry.CoverageThreshold,
		MaxEpochsLookback:    cfg.Telemetry.MaxEpochsLookback,
		MinSamplesPerRoute:   cfg.Telemetry.MinSamplesPerRoute,
		DedupWindowMicros:    cfg.Telemetry.DedupWindowMicros,
		EnableAccumulator:    cfg.Telemetry.EnableAccumulator,
		ExcludedProviders:    cfg.ExcludedProviderSet(),
	})
	if err != nil {
		return nil, err
	}

	builder, err := graph.NewBuilder(graph.BuilderConfig{
		Logger:              log,
		EdgeBandwidthGbps:   cfg.Graph.EdgeBandwidthGbps,
		DefaultLatencyMs:    cfg.Graph.DefaultLatencyMs,
		DefaultUptime:       cfg.Graph.DefaultUptime,
		StripExchangePrefix: cfg.IsTestEnvironment(),
	})
	if err != nil {
		return nil, err
	}

	computer, err := calculator.NewCapacityComputer(cfg.Rewards.Pool)
	if err != nil {
		return nil, err
	}

	distributions := revdist.New(ledgerRPC, revdistProgramID)

	var poster calculator.RootPoster
	if !cfg.Scheduler.DryRun {
		if keypairPath == "" {
			return nil, fmt.Errorf("keypair is required unless running dry")
		}
		signer, err := solana.PrivateKeyFromSolanaKeygenFile(keypairPath)
		if err != nil {
			return nil, fmt.Errorf("load keypair %s: %w", keypairPath, err)
		}
		poster, err = revdist.NewPoster(log, ledgerRPC, revdistProgramID, signer)
		if err != nil {
			return nil, err
		}
	}

	calc, err := calculator.New(calculator.Config{
		Logger:        log,
		Fetcher:       fetcher,
		Schedules:     finder,
		Distributions: distributions,
		Computer:      computer,
		Poster:        poster,
		StatsProcessor: stats.NewProcessor(stats.ProcessorConfig{
			Logger:            log,
			ExcludedProviders: cfg.ExcludedProviderSet(),
		}),
		GraphBuilder: builder,
		DryRun:       cfg.Scheduler.DryRun,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{finder: finder, calc: calc, distributions: distributions}, nil
}

func startMetricsServer(log *slog.Logger, addr string) {
	if addr == "" {
		return
	}
	go func() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("Failed to start prometheus metrics server listener", "error", err)
			return
		}
		log.Info("Prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.Serve(listener, mux); err != nil {
			log.Error("Failed to start prometheus metrics server", "error", err)
		}
	}()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  verbose,
	}))
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&keypairPath, "keypair", "", "Path to the signer keypair for posting roots")

	workerCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute rewards but never post to the chain")

	calculateCmd.Flags().Uint64Var(&calculateEpoch, "epoch", 0, "Epoch to calculate (default: previous ledger epoch)")

	verifyProofCmd.Flags().Uint64Var(&proofEpoch, "epoch", 0, "Epoch to verify")
	verifyProofCmd.Flags().StringVar(&proofOperator, "operator", "", "Operator wallet to prove")
	_ = verifyProofCmd.MarkFlagRequired("epoch")
	_ = verifyProofCmd.MarkFlagRequired("operator")

	rootCmd.AddCommand(versionCmd, workerCmd, calculateCmd, verifyProofCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
