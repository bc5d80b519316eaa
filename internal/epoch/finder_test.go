package epoch_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-rewards/internal/epoch"
)

type fakeLedgerRPC struct {
	epoch uint64
}

func (f *fakeLedgerRPC) GetEpochInfo(_ context.Context, _ solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error) {
	return &solanarpc.GetEpochInfoResult{Epoch: f.epoch}, nil
}

type fakeSolanaRPC struct {
	schedule solanarpc.GetLeaderScheduleResult
	calls    int
}

func (f *fakeSolanaRPC) GetLeaderSchedule(_ context.Context) (solanarpc.GetLeaderScheduleResult, error) {
	f.calls++
	return f.schedule, nil
}

func TestEpoch_CurrentEpoch(t *testing.T) {
	t.Parallel()

	finder, err := epoch.NewFinder(slog.Default(), &fakeLedgerRPC{epoch: 512}, &fakeSolanaRPC{})
	require.NoError(t, err)

	got, err := finder.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(512), got)
}

func TestEpoch_LeaderScheduleCountsSlots(t *testing.T) {
	t.Parallel()

	v1 := solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
	v2 := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	sol := &fakeSolanaRPC{schedule: solanarpc.GetLeaderScheduleResult{
		v1: {0, 1, 2},
		v2: {3},
	}}

	finder, err := epoch.NewFinder(slog.Default(), &fakeLedgerRPC{}, sol)
	require.NoError(t, err)

	schedule, err := finder.LeaderSchedule(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), schedule.Epoch)
	assert.Equal(t, uint64(3), schedule.SlotsByValidator[v1.String()])
	assert.Equal(t, uint64(1), schedule.SlotsByValidator[v2.String()])
	assert.Equal(t, uint64(4), schedule.TotalSlots())
}

func TestEpoch_LeaderScheduleCachedPerEpoch(t *testing.T) {
	t.Parallel()

	v1 := solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
	sol := &fakeSolanaRPC{schedule: solanarpc.GetLeaderScheduleResult{v1: {0}}}

	finder, err := epoch.NewFinder(slog.Default(), &fakeLedgerRPC{}, sol)
	require.NoError(t, err)

	_, err = finder.LeaderSchedule(context.Background(), 100)
	require.NoError(t, err)
	_, err = finder.LeaderSchedule(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, sol.calls)

	_, err = finder.LeaderSchedule(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 2, sol.calls)
}

func TestEpoch_LeaderScheduleMissing(t *testing.T) {
	t.Parallel()

	finder, err := epoch.NewFinder(slog.Default(), &fakeLedgerRPC{}, &fakeSolanaRPC{})
	require.NoError(t, err)

	_, err = finder.LeaderSchedule(context.Background(), 100)
	require.ErrorIs(t, err, epoch.ErrLeaderScheduleMissing)
}
