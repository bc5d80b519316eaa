// Package epoch resolves the current rewards epoch and the per-validator
// leader schedule weights used by the demand matrix.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/ristretto"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// ErrLeaderScheduleMissing is returned when the RPC yields no leader slots,
// which would make every demand weight zero.
var ErrLeaderScheduleMissing = errors.New("leader schedule missing")

type LedgerRPCClient interface {
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
}

type SolanaRPCClient interface {
	GetLeaderSchedule(ctx context.Context) (solanarpc.GetLeaderScheduleResult, error)
}

// LeaderSchedule maps validator identities (base58) to the number of leader
// slots they hold, a proxy for stake weight.
type LeaderSchedule struct {
	Epoch            uint64
	SlotsByValidator map[string]uint64
}

// TotalSlots returns the sum of all leader slots in the schedule.
func (s *LeaderSchedule) TotalSlots() uint64 {
	var total uint64
	for _, slots := range s.SlotsByValidator {
		total += slots
	}
	return total
}

type Finder struct {
	log    *slog.Logger
	ledger LedgerRPCClient
	solana SolanaRPCClient
	cache  *ristretto.Cache
}

func NewFinder(log *slog.Logger, ledger LedgerRPCClient, solana SolanaRPCClient) (*Finder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create epoch cache: %w", err)
	}
	return &Finder{
		log:    log,
		ledger: ledger,
		solana: solana,
		cache:  cache,
	}, nil
}

// CurrentEpoch returns the ledger's current epoch.
func (f *Finder) CurrentEpoch(ctx context.Context) (uint64, error) {
	attempt := 0
	info, err := backoff.Retry(ctx, func() (*solanarpc.GetEpochInfoResult, error) {
		if attempt > 1 {
			f.log.Warn("Failed to get epoch info, retrying", "attempt", attempt)
		}
		attempt++
		return f.ledger.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return 0, fmt.Errorf("failed to get epoch info: %w", err)
	}
	return info.Epoch, nil
}

// LeaderSchedule returns the per-validator leader slot counts for the given
// rewards epoch. Schedules are immutable once published, so results are
// cached by epoch.
func (f *Finder) LeaderSchedule(ctx context.Context, epoch uint64) (*LeaderSchedule, error) {
	if val, ok := f.cache.Get(epoch); ok {
		return val.(*LeaderSchedule), nil
	}

	attempt := 0
	result, err := backoff.Retry(ctx, func() (solanarpc.GetLeaderScheduleResult, error) {
		if attempt > 1 {
			f.log.Warn("Failed to get leader schedule, retrying", "attempt", attempt, "epoch", epoch)
		}
		attempt++
		return f.solana.GetLeaderSchedule(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return nil, fmt.Errorf("failed to get leader schedule for epoch %d: %w", epoch, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("epoch %d: %w", epoch, ErrLeaderScheduleMissing)
	}

	schedule := &LeaderSchedule{
		Epoch:            epoch,
		SlotsByValidator: make(map[string]uint64, len(result)),
	}
	for pk, slots := range result {
		schedule.SlotsByValidator[pk.String()] = uint64(len(slots))
	}

	f.cache.Set(epoch, schedule, 1)
	f.cache.Wait()

	return schedule, nil
}
