// Package worker schedules the rewards pipeline: once per interval it
// resolves the previous epoch and runs the calculation for it exactly once,
// persisting progress between restarts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrLoggerRequired      = errors.New("logger is required")
	ErrEpochSourceRequired = errors.New("epoch source is required")
	ErrProcessorRequired   = errors.New("processor is required")
	ErrIntervalRequired    = errors.New("interval must be positive")
	ErrStateFileRequired   = errors.New("state file path is required")
	ErrTooManyFailures     = errors.New("too many consecutive failures")
)

// Outcome describes what a processing attempt did for an epoch.
type Outcome int

const (
	// OutcomePosted means rewards were calculated and the root was posted.
	OutcomePosted Outcome = iota
	// OutcomeRootExists means a root was already on chain for the epoch.
	OutcomeRootExists
	// OutcomeDryRun means the calculation ran but chain writes were skipped.
	OutcomeDryRun
)

// EpochSource yields the ledger's current epoch.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// Processor runs the full rewards calculation for one epoch.
type Processor interface {
	ProcessEpoch(ctx context.Context, epoch uint64) (Outcome, error)
}

type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	EpochSource EpochSource
	Processor   Processor

	Interval               time.Duration
	StateFile              string
	MaxConsecutiveFailures uint32
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.EpochSource == nil {
		return ErrEpochSourceRequired
	}
	if c.Processor == nil {
		return ErrProcessorRequired
	}
	if c.Interval <= 0 {
		return ErrIntervalRequired
	}
	if c.StateFile == "" {
		return ErrStateFileRequired
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 5
	}
	return nil
}

type Worker struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock
}

func New(cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Worker{log: cfg.Logger, cfg: cfg, clock: cfg.Clock}, nil
}

// Run executes ticks until the context is cancelled or the failure ceiling is
// hit. The first tick runs immediately rather than one interval in.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rewards worker",
		"interval", w.cfg.Interval,
		"stateFile", w.cfg.StateFile,
		"maxConsecutiveFailures", w.cfg.MaxConsecutiveFailures,
	)

	state, err := LoadState(w.log, w.cfg.StateFile)
	if err != nil {
		return err
	}

	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.tick(ctx, state); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			w.log.Info("Shutting down rewards worker")
			if err := state.Save(w.cfg.StateFile); err != nil {
				w.log.Warn("Failed to save state on shutdown", "error", err)
			}
			return nil
		case <-ticker.Chan():
		}
	}
}

func (w *Worker) tick(ctx context.Context, state *State) error {
	MetricChecks.Inc()
	state.MarkCheck(w.clock.Now())

	if state.IsInFailureState(w.cfg.MaxConsecutiveFailures) {
		if err := state.Save(w.cfg.StateFile); err != nil {
			w.log.Warn("Failed to save state", "error", err)
		}
		return fmt.Errorf("%d consecutive failures: %w", state.ConsecutiveFailures, ErrTooManyFailures)
	}

	started := w.clock.Now()
	if err := w.process(ctx, state); err != nil {
		w.log.Error("Failed to process rewards", "error", err)
		state.MarkFailure()
		MetricFailures.Inc()
		if !state.IsInFailureState(w.cfg.MaxConsecutiveFailures) {
			w.log.Warn("Will retry on next interval", "consecutiveFailures", state.ConsecutiveFailures)
		}
	}
	MetricProcessDuration.Observe(w.clock.Now().Sub(started).Seconds())
	MetricConsecutiveFailures.Set(float64(state.ConsecutiveFailures))

	if err := state.Save(w.cfg.StateFile); err != nil {
		w.log.Warn("Failed to save state", "error", err)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, state *State) error {
	current, err := w.cfg.EpochSource.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("get current epoch: %w", err)
	}
	if current == 0 {
		w.log.Debug("Current epoch is 0, nothing to process yet")
		MetricSkips.WithLabelValues(SkipReasonNoEpoch).Inc()
		return nil
	}

	// Rewards are computed for the last completed epoch.
	target := current - 1

	if !state.ShouldProcessEpoch(target) {
		w.log.Debug("Epoch already processed, waiting for new epoch",
			"targetEpoch", target,
			"lastProcessedEpoch", *state.LastProcessedEpoch,
		)
		MetricSkips.WithLabelValues(SkipReasonAlreadyProcessed).Inc()
		return nil
	}

	w.log.Info("Processing rewards", "currentEpoch", current, "targetEpoch", target)
	outcome, err := w.cfg.Processor.ProcessEpoch(ctx, target)
	if err != nil {
		return fmt.Errorf("process epoch %d: %w", target, err)
	}

	switch outcome {
	case OutcomePosted:
		w.log.Info("Posted rewards root", "epoch", target)
		MetricEpochsProcessed.Inc()
	case OutcomeRootExists:
		w.log.Info("Rewards root already exists, marking epoch processed", "epoch", target)
		MetricSkips.WithLabelValues(SkipReasonRootExists).Inc()
	case OutcomeDryRun:
		w.log.Info("Dry run complete, skipping chain writes", "epoch", target)
		MetricSkips.WithLabelValues(SkipReasonDryRun).Inc()
	}
	state.MarkSuccess(target, w.clock.Now())
	return nil
}
