package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/malbeclabs/doublezero-rewards/internal/serviceability"
	"github.com/malbeclabs/doublezero-rewards/internal/telemetry"
)

const (
	defaultSnapshotCacheTTL = 5 * time.Minute
	defaultFetchPoolSize    = 3
)

type ServiceabilityClient interface {
	GetSnapshot(ctx context.Context) (*serviceability.Snapshot, error)
}

type TelemetryClient interface {
	GetDeviceLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.DeviceLatencySamples, error)
	GetInternetLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.InternetLatencySamples, error)
}

type FetcherConfig struct {
	Logger               *slog.Logger
	ServiceabilityClient ServiceabilityClient
	TelemetryClient      TelemetryClient

	// Lookback settings for internet telemetry accumulation.
	CoverageThreshold  float64
	MaxEpochsLookback  uint64
	MinSamplesPerRoute int
	DedupWindowMicros  uint64
	EnableAccumulator  bool

	// ExcludedProviders keeps routes from these data providers out of the
	// coverage tally, matching the providers dropped before statistics.
	ExcludedProviders map[string]struct{}

	SnapshotCacheTTL time.Duration
}

func (c *FetcherConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.ServiceabilityClient == nil {
		return errors.New("serviceability client is required")
	}
	if c.TelemetryClient == nil {
		return errors.New("telemetry client is required")
	}
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		return ErrCoverageThresholdRequired
	}
	if c.SnapshotCacheTTL == 0 {
		c.SnapshotCacheTTL = defaultSnapshotCacheTTL
	}
	return nil
}

// EpochData joins everything a calculation pass consumes for one epoch: the
// registry snapshot, single-epoch device telemetry, and internet telemetry
// accumulated across the lookback window.
type EpochData struct {
	Epoch    uint64
	Snapshot *serviceability.Snapshot

	DeviceTelemetry   *Dataset
	InternetTelemetry *Dataset

	// InternetEpochsUsed lists the epochs the accumulator merged, most
	// recent first. InternetEffectiveEpoch is the newest of them.
	InternetEpochsUsed     []uint64
	InternetEffectiveEpoch uint64
}

// Fetcher pulls registry and telemetry state for an epoch. The three
// independent fetches for an epoch run in parallel and are joined; any
// failure fails the whole fetch. Lookback epochs are fetched sequentially
// because each iteration decides whether to keep looking back.
type Fetcher struct {
	log *slog.Logger
	cfg *FetcherConfig

	snapshotCache *ttlcache.Cache[string, *serviceability.Snapshot]
	fetchPool     pond.Pool
}

func NewFetcher(cfg *FetcherConfig) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fetcher{
		log: cfg.Logger,
		cfg: cfg,
		snapshotCache: ttlcache.New(
			ttlcache.WithTTL[string, *serviceability.Snapshot](cfg.SnapshotCacheTTL),
		),
		fetchPool: pond.NewPool(defaultFetchPoolSize),
	}, nil
}

// Fetch gathers all inputs for the target epoch. Internet telemetry goes
// through the lookback accumulator when enabled.
func (f *Fetcher) Fetch(ctx context.Context, targetEpoch uint64) (*EpochData, error) {
	data := &EpochData{Epoch: targetEpoch}

	group := f.fetchPool.NewGroup()
	group.SubmitErr(func() error {
		snap, err := f.snapshot(ctx)
		if err != nil {
			return err
		}
		data.Snapshot = snap
		return nil
	})
	group.SubmitErr(func() error {
		ds, err := f.deviceTelemetry(ctx, targetEpoch)
		if err != nil {
			return err
		}
		data.DeviceTelemetry = ds
		return nil
	})
	group.SubmitErr(func() error {
		ds, err := retryFetch(ctx, func() (*Dataset, error) {
			samples, err := f.cfg.TelemetryClient.GetInternetLatencySamplesForEpoch(ctx, targetEpoch)
			if err != nil {
				return nil, err
			}
			return DatasetFromInternetSamples(targetEpoch, samples), nil
		})
		if err != nil {
			return err
		}
		data.InternetTelemetry = ds
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("fetch epoch %d: %w", targetEpoch, err)
	}

	if !f.cfg.EnableAccumulator {
		if data.InternetTelemetry.Empty() {
			return nil, fmt.Errorf("epoch %d internet telemetry: %w", targetEpoch, ErrNoTelemetryAvailable)
		}
		data.InternetEpochsUsed = []uint64{targetEpoch}
		data.InternetEffectiveEpoch = targetEpoch
		return data, nil
	}

	merged, used, effective, err := f.accumulateInternet(ctx, targetEpoch, data.Snapshot, data.InternetTelemetry)
	if err != nil {
		return nil, err
	}
	data.InternetTelemetry = merged
	data.InternetEpochsUsed = used
	data.InternetEffectiveEpoch = effective
	return data, nil
}

// accumulateInternet walks epochs backward from the target, feeding each
// epoch's internet telemetry to the accumulator until the coverage threshold
// is met or the lookback window is exhausted. The target epoch's dataset has
// already been fetched by the parallel join.
func (f *Fetcher) accumulateInternet(
	ctx context.Context,
	targetEpoch uint64,
	snapshot *serviceability.Snapshot,
	targetDataset *Dataset,
) (*Dataset, []uint64, uint64, error) {
	acc, err := NewAccumulator(AccumulatorConfig{
		Logger:             f.log,
		CoverageThreshold:  f.cfg.CoverageThreshold,
		MinSamplesPerRoute: f.cfg.MinSamplesPerRoute,
		DedupWindowMicros:  f.cfg.DedupWindowMicros,
		ExpectedRoutes:     ExpectedInternetRoutes(snapshot),
		ExcludedProviders:  f.cfg.ExcludedProviders,
	})
	if err != nil {
		return nil, nil, 0, err
	}

	epoch := targetEpoch
	dataset := targetDataset
	for depth := uint64(0); ; depth++ {
		gain := acc.CoverageGain(dataset)
		acc.AddEpoch(epoch, dataset)
		f.log.Info("Accumulated internet telemetry epoch",
			"epoch", epoch,
			"coverageGain", gain,
			"coverage", acc.CoverageRatio(),
		)

		if acc.IsThresholdMet() {
			break
		}
		if depth+1 >= f.cfg.MaxEpochsLookback || epoch == 0 {
			f.log.Warn("Lookback window exhausted below coverage threshold",
				"targetEpoch", targetEpoch,
				"coverage", acc.CoverageRatio(),
				"threshold", f.cfg.CoverageThreshold,
			)
			break
		}

		epoch--
		dataset, err = retryFetch(ctx, func() (*Dataset, error) {
			samples, err := f.cfg.TelemetryClient.GetInternetLatencySamplesForEpoch(ctx, epoch)
			if err != nil {
				return nil, err
			}
			return DatasetFromInternetSamples(epoch, samples), nil
		})
		if err != nil {
			return nil, nil, 0, fmt.Errorf("lookback fetch epoch %d: %w", epoch, err)
		}
	}

	merged, used, err := acc.MergeAll()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("target epoch %d, lookback %d: %w", targetEpoch, f.cfg.MaxEpochsLookback, err)
	}
	return merged, used, acc.EffectiveEpoch(), nil
}

func (f *Fetcher) snapshot(ctx context.Context) (*serviceability.Snapshot, error) {
	if item := f.snapshotCache.Get("snapshot"); item != nil {
		return item.Value(), nil
	}
	snap, err := retryFetch(ctx, func() (*serviceability.Snapshot, error) {
		return f.cfg.ServiceabilityClient.GetSnapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	f.snapshotCache.Set("snapshot", snap, ttlcache.DefaultTTL)
	return snap, nil
}

func (f *Fetcher) deviceTelemetry(ctx context.Context, epoch uint64) (*Dataset, error) {
	return retryFetch(ctx, func() (*Dataset, error) {
		samples, err := f.cfg.TelemetryClient.GetDeviceLatencySamplesForEpoch(ctx, epoch)
		if err != nil {
			return nil, err
		}
		return DatasetFromDeviceSamples(epoch, samples), nil
	})
}

// ExpectedInternetRoutes is the coverage denominator: every directed pair of
// activated exchanges.
func ExpectedInternetRoutes(snapshot *serviceability.Snapshot) int {
	n := 0
	for _, ex := range snapshot.Exchanges {
		if ex.Status == serviceability.ExchangeStatusActivated {
			n++
		}
	}
	if n < 2 {
		return 1
	}
	return n * (n - 1)
}

// retryFetch retries transient RPC failures with exponential backoff. Decode
// failures and empty-program reads are permanent for the ledger state being
// queried and propagate without another attempt.
func retryFetch[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && isPermanentFetchErr(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
}

func isPermanentFetchErr(err error) bool {
	return errors.Is(err, telemetry.ErrInvalidAccountData) ||
		errors.Is(err, serviceability.ErrInvalidAccountData) ||
		errors.Is(err, serviceability.ErrNoAccounts)
}
