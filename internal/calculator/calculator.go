// Package calculator runs the full rewards pipeline for one epoch: fetch
// inputs, reduce telemetry to statistics, build the network graph, compute
// per-contributor rewards, and commit them to a merkle root.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/malbeclabs/doublezero-rewards/internal/epoch"
	"github.com/malbeclabs/doublezero-rewards/internal/graph"
	"github.com/malbeclabs/doublezero-rewards/internal/ingest"
	"github.com/malbeclabs/doublezero-rewards/internal/merkle"
	"github.com/malbeclabs/doublezero-rewards/internal/revdist"
	"github.com/malbeclabs/doublezero-rewards/internal/stats"
	"github.com/malbeclabs/doublezero-rewards/internal/worker"
)

// Fetcher gathers all chain inputs for an epoch.
type Fetcher interface {
	Fetch(ctx context.Context, epoch uint64) (*ingest.EpochData, error)
}

// ScheduleSource yields per-validator leader slot counts for an epoch.
type ScheduleSource interface {
	LeaderSchedule(ctx context.Context, epoch uint64) (*epoch.LeaderSchedule, error)
}

// DistributionReader checks the on-chain distribution account for an epoch.
type DistributionReader interface {
	FetchDistribution(ctx context.Context, epoch uint64) (*revdist.Distribution, error)
}

// RewardComputer turns a network graph into per-contributor rewards.
type RewardComputer interface {
	Compute(ctx context.Context, g *graph.NetworkGraph) ([]merkle.RewardDetail, error)
}

// RootPoster submits a rewards merkle root to the distribution program.
type RootPoster interface {
	PostRewardsRoot(ctx context.Context, epoch uint64, totalContributors uint32, root [32]byte) error
}

type Config struct {
	Logger        *slog.Logger
	Fetcher       Fetcher
	Schedules     ScheduleSource
	Distributions DistributionReader
	Computer      RewardComputer
	Poster        RootPoster

	StatsProcessor *stats.Processor
	GraphBuilder   *graph.Builder

	// DryRun computes everything but never writes to the chain.
	DryRun bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if c.Schedules == nil {
		return errors.New("schedule source is required")
	}
	if c.Distributions == nil {
		return errors.New("distribution reader is required")
	}
	if c.Computer == nil {
		return errors.New("reward computer is required")
	}
	if c.Poster == nil && !c.DryRun {
		return errors.New("root poster is required unless running dry")
	}
	if c.StatsProcessor == nil {
		return errors.New("stats processor is required")
	}
	if c.GraphBuilder == nil {
		return errors.New("graph builder is required")
	}
	return nil
}

type Calculator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{log: cfg.Logger, cfg: cfg}, nil
}

// ProcessEpoch runs the pipeline for one epoch. The distribution account must
// already exist; an already-posted root short-circuits to OutcomeRootExists
// so restarts and concurrent workers stay idempotent.
func (c *Calculator) ProcessEpoch(ctx context.Context, epochID uint64) (worker.Outcome, error) {
	dist, err := c.cfg.Distributions.FetchDistribution(ctx, epochID)
	if err != nil {
		return 0, fmt.Errorf("distribution precondition: %w", err)
	}
	if dist.HasRewardsRoot() {
		c.log.Info("Rewards root already posted",
			"epoch", epochID,
			"totalContributors", dist.TotalContributors,
		)
		return worker.OutcomeRootExists, nil
	}

	tree, err := c.BuildRewards(ctx, epochID)
	if err != nil {
		return 0, err
	}
	root := tree.Root()

	if c.cfg.DryRun {
		c.log.Info("Dry run, skipping root post",
			"epoch", epochID,
			"root", fmt.Sprintf("%x", root),
			"contributors", tree.Len(),
		)
		return worker.OutcomeDryRun, nil
	}

	if err := c.cfg.Poster.PostRewardsRoot(ctx, epochID, uint32(tree.Len()), root); err != nil {
		return 0, fmt.Errorf("post rewards root for epoch %d: %w", epochID, err)
	}
	c.log.Info("Posted rewards root",
		"epoch", epochID,
		"root", fmt.Sprintf("%x", root),
		"contributors", tree.Len(),
	)
	return worker.OutcomePosted, nil
}

// BuildRewards computes the full reward tree for an epoch without touching
// the distribution account. The CLI uses it for offline inspection and proof
// generation.
func (c *Calculator) BuildRewards(ctx context.Context, epochID uint64) (*merkle.Tree, error) {
	data, err := c.cfg.Fetcher.Fetch(ctx, epochID)
	if err != nil {
		return nil, fmt.Errorf("fetch inputs for epoch %d: %w", epochID, err)
	}
	c.log.Info("Fetched epoch inputs",
		"epoch", epochID,
		"deviceRoutes", len(data.DeviceTelemetry.Routes()),
		"internetRoutes", len(data.InternetTelemetry.Routes()),
		"internetEpochsUsed", data.InternetEpochsUsed,
	)

	deviceStart, deviceEnd := datasetBounds(data.DeviceTelemetry)
	internetStart, internetEnd := datasetBounds(data.InternetTelemetry)
	deviceStats := c.cfg.StatsProcessor.Process(data.DeviceTelemetry, deviceStart, deviceEnd)
	internetStats := c.cfg.StatsProcessor.Process(data.InternetTelemetry, internetStart, internetEnd)

	schedule, err := c.cfg.Schedules.LeaderSchedule(ctx, epochID)
	if err != nil {
		return nil, fmt.Errorf("leader schedule for epoch %d: %w", epochID, err)
	}

	g, err := c.cfg.GraphBuilder.Build(epochID, data.Snapshot, deviceStats, internetStats, schedule)
	if err != nil {
		return nil, fmt.Errorf("build graph for epoch %d: %w", epochID, err)
	}
	c.log.Info("Built network graph",
		"epoch", epochID,
		"devices", len(g.Devices),
		"privateLinks", len(g.PrivateLinks),
		"publicLinks", len(g.PublicLinks),
		"demands", len(g.Demands),
	)

	rewards, err := c.cfg.Computer.Compute(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("compute rewards for epoch %d: %w", epochID, err)
	}

	return merkle.NewTree(epochID, rewards)
}

// datasetBounds returns the inclusive timestamp span of all samples so the
// statistics window covers exactly what was fetched.
func datasetBounds(ds *ingest.Dataset) (uint64, uint64) {
	start, end := uint64(math.MaxUint64), uint64(0)
	for _, windows := range ds.Windows {
		for _, w := range windows {
			if w.StartTimestampMicros < start {
				start = w.StartTimestampMicros
			}
			if e := w.EndTimestampMicros(); e > end {
				end = e
			}
		}
	}
	if start > end {
		return 0, 0
	}
	return start, end
}
