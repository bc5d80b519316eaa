package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-rewards/internal/ingest"
	"github.com/malbeclabs/doublezero-rewards/internal/serviceability"
	"github.com/malbeclabs/doublezero-rewards/internal/telemetry"
)

type fakeServiceabilityClient struct {
	snapshot *serviceability.Snapshot
	err      error
	calls    atomic.Int64
}

func (f *fakeServiceabilityClient) GetSnapshot(ctx context.Context) (*serviceability.Snapshot, error) {
	f.calls.Add(1)
	return f.snapshot, f.err
}

type fakeTelemetryClient struct {
	device   map[uint64][]*telemetry.DeviceLatencySamples
	internet map[uint64][]*telemetry.InternetLatencySamples
}

func (f *fakeTelemetryClient) GetDeviceLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.DeviceLatencySamples, error) {
	return f.device[epoch], nil
}

func (f *fakeTelemetryClient) GetInternetLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.InternetLatencySamples, error) {
	return f.internet[epoch], nil
}

// snapshotWithExchanges returns a registry snapshot holding n activated
// exchanges, giving n*(n-1) expected internet routes.
func snapshotWithExchanges(n byte) *serviceability.Snapshot {
	snap := &serviceability.Snapshot{
		Exchanges: make(map[[32]byte]serviceability.Exchange),
	}
	for i := byte(0); i < n; i++ {
		var pk [32]byte
		pk[0] = i + 1
		snap.Exchanges[pk] = serviceability.Exchange{
			Status: serviceability.ExchangeStatusActivated,
			PubKey: pk,
		}
	}
	return snap
}

// internetSamples builds accounts covering directed routes between exchange
// indices [from, from+count).
func internetSamples(count int, from byte, startMicros uint64) []*telemetry.InternetLatencySamples {
	out := make([]*telemetry.InternetLatencySamples, 0, count)
	for i := 0; i < count; i++ {
		var origin, target [32]byte
		origin[0] = from + byte(i)
		target[0] = from + byte(i) + 1
		out = append(out, &telemetry.InternetLatencySamples{
			DataProviderName:             "wheresitup",
			OriginExchangePK:             origin,
			TargetExchangePK:             target,
			StartTimestampMicroseconds:   startMicros,
			SamplingIntervalMicroseconds: 10,
			Samples:                      []uint32{100, 110, 120},
		})
	}
	return out
}

func deviceSamples(startMicros uint64) []*telemetry.DeviceLatencySamples {
	var origin, target, link [32]byte
	origin[0], target[0], link[0] = 1, 2, 3
	return []*telemetry.DeviceLatencySamples{{
		OriginDevicePK:               origin,
		TargetDevicePK:               target,
		LinkPK:                       link,
		StartTimestampMicroseconds:   startMicros,
		SamplingIntervalMicroseconds: 10,
		Samples:                      []uint32{200, 210},
	}}
}

func newTestFetcher(t *testing.T, sc ingest.ServiceabilityClient, tc ingest.TelemetryClient, enableAccumulator bool) *ingest.Fetcher {
	t.Helper()
	f, err := ingest.NewFetcher(&ingest.FetcherConfig{
		Logger:               slog.Default(),
		ServiceabilityClient: sc,
		TelemetryClient:      tc,
		CoverageThreshold:    0.80,
		MaxEpochsLookback:    5,
		MinSamplesPerRoute:   1,
		DedupWindowMicros:    1_000,
		EnableAccumulator:    enableAccumulator,
	})
	require.NoError(t, err)
	return f
}

func TestIngest_Fetcher_SingleEpoch(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &fakeTelemetryClient{
		device:   map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{100: internetSamples(3, 0, 1_000)},
	}

	f := newTestFetcher(t, sc, tc, false)
	data, err := f.Fetch(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), data.Epoch)
	require.NotNil(t, data.Snapshot)
	assert.Len(t, data.DeviceTelemetry.Routes(), 1)
	assert.Len(t, data.InternetTelemetry.Routes(), 3)
	assert.Equal(t, []uint64{100}, data.InternetEpochsUsed)
	assert.Equal(t, uint64(100), data.InternetEffectiveEpoch)
}

func TestIngest_Fetcher_LookbackAccumulates(t *testing.T) {
	t.Parallel()

	// 5 activated exchanges give 20 expected routes. Epoch 100 covers 8
	// routes (40%), epoch 99 covers 9 more (45%), so lookback stops after
	// two epochs at 85% coverage.
	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &fakeTelemetryClient{
		device: map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{
			100: internetSamples(8, 0, 1_000),
			99:  internetSamples(9, 20, 500_000),
			98:  internetSamples(3, 40, 900_000), // must never be reached
		},
	}

	f := newTestFetcher(t, sc, tc, true)
	data, err := f.Fetch(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, []uint64{100, 99}, data.InternetEpochsUsed)
	assert.Equal(t, uint64(100), data.InternetEffectiveEpoch)
	assert.Len(t, data.InternetTelemetry.Routes(), 17)
}

func TestIngest_Fetcher_LookbackExhaustedKeepsPartialData(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &fakeTelemetryClient{
		device: map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{
			100: internetSamples(2, 0, 1_000),
		},
	}

	f := newTestFetcher(t, sc, tc, true)
	data, err := f.Fetch(context.Background(), 100)
	require.NoError(t, err)

	// Below threshold after exhausting the window, but data still flows.
	assert.Equal(t, []uint64{100, 99, 98, 97, 96}, data.InternetEpochsUsed)
	assert.Len(t, data.InternetTelemetry.Routes(), 2)
}

func TestIngest_Fetcher_NoTelemetryAnywhere(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &fakeTelemetryClient{
		device:   map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{},
	}

	f := newTestFetcher(t, sc, tc, true)
	_, err := f.Fetch(context.Background(), 100)
	require.ErrorIs(t, err, ingest.ErrNoTelemetryAvailable)
}

func TestIngest_Fetcher_SnapshotCached(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &fakeTelemetryClient{
		device:   map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000), 101: deviceSamples(2_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{100: internetSamples(3, 0, 1_000), 101: internetSamples(3, 0, 2_000)},
	}

	f := newTestFetcher(t, sc, tc, false)
	_, err := f.Fetch(context.Background(), 100)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), 101)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sc.calls.Load())
}

func TestIngest_Fetcher_ExpectedInternetRoutes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20, ingest.ExpectedInternetRoutes(snapshotWithExchanges(5)))
	assert.Equal(t, 2, ingest.ExpectedInternetRoutes(snapshotWithExchanges(2)))
	assert.Equal(t, 1, ingest.ExpectedInternetRoutes(snapshotWithExchanges(1)))

	// Non-activated exchanges never count.
	snap := snapshotWithExchanges(3)
	var pk [32]byte
	pk[0] = 9
	snap.Exchanges[pk] = serviceability.Exchange{Status: serviceability.ExchangeStatusSuspended, PubKey: pk}
	assert.Equal(t, 6, ingest.ExpectedInternetRoutes(snap))
}

// flakyTelemetryClient fails the first len(errs) internet fetches, then
// serves the configured samples.
type flakyTelemetryClient struct {
	device   []*telemetry.DeviceLatencySamples
	internet []*telemetry.InternetLatencySamples
	errs     []error
	calls    atomic.Int64
}

func (f *flakyTelemetryClient) GetDeviceLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.DeviceLatencySamples, error) {
	return f.device, nil
}

func (f *flakyTelemetryClient) GetInternetLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*telemetry.InternetLatencySamples, error) {
	n := f.calls.Add(1)
	if int(n) <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return f.internet, nil
}

func TestIngest_Fetcher_TransientErrorRetried(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &flakyTelemetryClient{
		device:   deviceSamples(1_000),
		internet: internetSamples(3, 0, 1_000),
		errs:     []error{errors.New("rpc: connection reset")},
	}

	f := newTestFetcher(t, sc, tc, false)
	data, err := f.Fetch(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, data.InternetTelemetry.Routes(), 3)
	assert.Equal(t, int64(2), tc.calls.Load())
}

func TestIngest_Fetcher_DecodeErrorNotRetried(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{snapshot: snapshotWithExchanges(5)}
	tc := &flakyTelemetryClient{
		device:   deviceSamples(1_000),
		internet: internetSamples(3, 0, 1_000),
		// A second attempt would succeed, so a retry makes this test fail.
		errs: []error{fmt.Errorf("account x: %w", telemetry.ErrInvalidAccountData)},
	}

	f := newTestFetcher(t, sc, tc, false)
	_, err := f.Fetch(context.Background(), 100)
	require.ErrorIs(t, err, telemetry.ErrInvalidAccountData)
	assert.Equal(t, int64(1), tc.calls.Load())
}

func TestIngest_Fetcher_EmptyProgramNotRetried(t *testing.T) {
	t.Parallel()

	sc := &fakeServiceabilityClient{err: fmt.Errorf("program x: %w", serviceability.ErrNoAccounts)}
	tc := &fakeTelemetryClient{
		device:   map[uint64][]*telemetry.DeviceLatencySamples{100: deviceSamples(1_000)},
		internet: map[uint64][]*telemetry.InternetLatencySamples{100: internetSamples(3, 0, 1_000)},
	}

	f := newTestFetcher(t, sc, tc, false)
	_, err := f.Fetch(context.Background(), 100)
	require.ErrorIs(t, err, serviceability.ErrNoAccounts)
	assert.Equal(t, int64(1), sc.calls.Load())
}

func TestIngest_Fetcher_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := ingest.NewFetcher(&ingest.FetcherConfig{})
	require.ErrorIs(t, err, ingest.ErrLoggerRequired)

	_, err = ingest.NewFetcher(&ingest.FetcherConfig{
		Logger:               slog.Default(),
		ServiceabilityClient: &fakeServiceabilityClient{},
		TelemetryClient:      &fakeTelemetryClient{},
		CoverageThreshold:    1.5,
	})
	require.ErrorIs(t, err, ingest.ErrCoverageThresholdRequired)
}
