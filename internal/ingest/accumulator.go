package ingest

import (
	"errors"
	"log/slog"
	"sort"
)

type AccumulatorConfig struct {
	Logger *slog.Logger

	// CoverageThreshold is the fraction of expected routes that must have
	// usable data before lookback stops, in (0, 1].
	CoverageThreshold float64

	// MinSamplesPerRoute is the number of samples a route needs before it
	// counts toward coverage.
	MinSamplesPerRoute int

	// DedupWindowMicros treats two sample windows for the same route whose
	// start timestamps lie within this many microseconds as duplicates.
	DedupWindowMicros uint64

	// ExpectedRoutes is the coverage denominator, derived from the registry.
	ExpectedRoutes int

	// ExcludedProviders keeps routes from these data providers out of the
	// coverage tally. Their windows still merge; downstream processing drops
	// them before statistics.
	ExcludedProviders map[string]struct{}
}

var (
	ErrLoggerRequired            = errors.New("logger is required")
	ErrCoverageThresholdRequired = errors.New("coverage threshold must be in (0, 1]")
	ErrExpectedRoutesRequired    = errors.New("expected routes must be positive")
)

func (c *AccumulatorConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		return ErrCoverageThresholdRequired
	}
	if c.ExpectedRoutes <= 0 {
		return ErrExpectedRoutesRequired
	}
	if c.MinSamplesPerRoute <= 0 {
		c.MinSamplesPerRoute = 1
	}
	return nil
}

// Accumulator merges telemetry from consecutive epochs until route coverage
// meets the configured threshold. Epochs are always incorporated once added,
// even with zero coverage gain, because their samples may still fill temporal
// gaps within already-covered routes.
type Accumulator struct {
	log *slog.Logger
	cfg AccumulatorConfig

	windows    map[Route][]SampleWindow
	covered    map[coveragePair]struct{}
	epochsUsed map[uint64]struct{}
}

// coveragePair collapses a route to its endpoints. Coverage counts measured
// pairs against the expected directed-pair denominator, so two providers
// measuring the same pair cannot push coverage past it.
type coveragePair struct {
	origin [32]byte
	target [32]byte
}

func pairOf(route Route) coveragePair {
	return coveragePair{origin: route.Origin, target: route.Target}
}

func NewAccumulator(cfg AccumulatorConfig) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Accumulator{
		log:        cfg.Logger,
		cfg:        cfg,
		windows:    make(map[Route][]SampleWindow),
		covered:    make(map[coveragePair]struct{}),
		epochsUsed: make(map[uint64]struct{}),
	}, nil
}

// AddEpoch incorporates one epoch's telemetry.
func (a *Accumulator) AddEpoch(epochID uint64, ds *Dataset) {
	added := 0
	for route, windows := range ds.Windows {
		a.windows[route] = append(a.windows[route], windows...)
		added += len(windows)
		if _, drop := a.cfg.ExcludedProviders[route.Provider]; drop {
			continue
		}
		if a.sampleCount(route) >= a.cfg.MinSamplesPerRoute {
			a.covered[pairOf(route)] = struct{}{}
		}
	}
	a.epochsUsed[epochID] = struct{}{}
	a.log.Debug("Accumulated epoch telemetry",
		"epoch", epochID,
		"windows", added,
		"coverage", a.CoverageRatio(),
	)
}

// CoverageGain returns the fraction of expected pairs the dataset would
// newly cover, without mutating accumulator state.
func (a *Accumulator) CoverageGain(ds *Dataset) float64 {
	gained := make(map[coveragePair]struct{})
	for route := range ds.Windows {
		if _, drop := a.cfg.ExcludedProviders[route.Provider]; drop {
			continue
		}
		pair := pairOf(route)
		if _, ok := a.covered[pair]; ok {
			continue
		}
		if a.sampleCount(route)+ds.SampleCount(route) >= a.cfg.MinSamplesPerRoute {
			gained[pair] = struct{}{}
		}
	}
	return float64(len(gained)) / float64(a.cfg.ExpectedRoutes)
}

// CoverageRatio returns covered exchange pairs / expected routes.
func (a *Accumulator) CoverageRatio() float64 {
	return float64(len(a.covered)) / float64(a.cfg.ExpectedRoutes)
}

func (a *Accumulator) IsThresholdMet() bool {
	return a.CoverageRatio() >= a.cfg.CoverageThreshold
}

// EpochsUsed returns the ids of every epoch added so far, most recent first.
func (a *Accumulator) EpochsUsed() []uint64 {
	epochs := make([]uint64, 0, len(a.epochsUsed))
	for e := range a.epochsUsed {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] > epochs[j] })
	return epochs
}

// EffectiveEpoch is the most recent epoch that contributed data. Callers
// report this rather than the target epoch when lookback reached further back.
func (a *Accumulator) EffectiveEpoch() uint64 {
	var max uint64
	for e := range a.epochsUsed {
		if e > max {
			max = e
		}
	}
	return max
}

// MergeAll deduplicates overlapping sample windows per route and returns the
// merged dataset plus the epochs used. Two windows for the same route whose
// start timestamps lie within the dedup window are duplicates; the one from
// the most recent epoch wins. Fails with ErrNoTelemetryAvailable when nothing
// was accumulated.
func (a *Accumulator) MergeAll() (*Dataset, []uint64, error) {
	merged := NewDataset()
	for route, windows := range a.windows {
		merged.Windows[route] = dedupWindows(windows, a.cfg.DedupWindowMicros)
	}
	if merged.Empty() {
		return nil, nil, ErrNoTelemetryAvailable
	}
	return merged, a.EpochsUsed(), nil
}

func (a *Accumulator) sampleCount(route Route) int {
	var n int
	for _, w := range a.windows[route] {
		n += len(w.Samples)
	}
	return n
}

func dedupWindows(windows []SampleWindow, dedupMicros uint64) []SampleWindow {
	// Newer epochs go first so they win overlaps against older re-fetches.
	sorted := append([]SampleWindow(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Epoch != sorted[j].Epoch {
			return sorted[i].Epoch > sorted[j].Epoch
		}
		return sorted[i].StartTimestampMicros < sorted[j].StartTimestampMicros
	})

	kept := make([]SampleWindow, 0, len(sorted))
	for _, w := range sorted {
		duplicate := false
		for _, k := range kept {
			if absDiff(w.StartTimestampMicros, k.StartTimestampMicros) <= dedupMicros {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, w)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].StartTimestampMicros < kept[j].StartTimestampMicros
	})
	return kept
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
