// Package revdist reads the revenue distribution program's per-epoch
// distribution accounts. The rewards worker posts a merkle root only into an
// initialized distribution, and treats an already-set root as done.
package revdist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const discriminatorSize = 8

var (
	ErrAccountNotFound            = errors.New("account not found")
	ErrDistributionNotInitialized = errors.New("distribution not initialized for epoch")
	ErrInvalidDiscriminator       = errors.New("invalid account discriminator")

	DiscriminatorDistribution = sha256First8("dz::account::distribution")

	seedDistribution = []byte("distribution")
)

func sha256First8(s string) [8]byte {
	h := sha256.Sum256([]byte(s))
	var disc [8]byte
	copy(disc[:], h[:8])
	return disc
}

// Distribution mirrors the on-chain distribution account layout. Only the
// rewards fields are consumed here, but the decode needs every preceding
// field at its exact offset.
type Distribution struct {
	DZEpoch            uint64
	Flags              uint64
	CommunityBurnRate  uint32
	BumpSeed           uint8
	Token2ZPDABumpSeed uint8
	Reserved0          [2]byte

	SolanaValidatorBaseBlockRewardsPct uint16
	SolanaValidatorBasePriorityFeesPct uint16
	SolanaValidatorBaseInflationPct    uint16
	SolanaValidatorBaseJitoTipsPct     uint16
	SolanaValidatorFixedSOLAmount      uint32
	SolanaValidatorFeeReserved         [7]uint32

	SolanaValidatorDebtMerkleRoot    [32]byte
	TotalSolanaValidators            uint32
	SolanaValidatorPaymentsCount     uint32
	TotalSolanaValidatorDebt         uint64
	CollectedSolanaValidatorPayments uint64

	RewardsMerkleRoot       [32]byte
	TotalContributors       uint32
	DistributedRewardsCount uint32
}

// HasRewardsRoot reports whether a contributor rewards root has already been
// posted for this epoch.
func (d *Distribution) HasRewardsRoot() bool {
	return d.RewardsMerkleRoot != [32]byte{}
}

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Client provides read-only access to revenue distribution program accounts.
type Client struct {
	rpc       RPCClient
	programID solana.PublicKey
}

func New(rpc RPCClient, programID solana.PublicKey) *Client {
	return &Client{rpc: rpc, programID: programID}
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// DeriveDistributionPDA returns the distribution account address for an epoch.
func DeriveDistributionPDA(programID solana.PublicKey, epoch uint64) (solana.PublicKey, uint8, error) {
	epochBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(epochBytes, epoch)
	return solana.FindProgramAddress([][]byte{seedDistribution, epochBytes}, programID)
}

// FetchDistribution loads the distribution account for an epoch. A missing
// account means the epoch's distribution has not been initialized yet, which
// callers must treat as "not ready", not as an error to retry forever.
func (c *Client) FetchDistribution(ctx context.Context, epoch uint64) (*Distribution, error) {
	addr, _, err := DeriveDistributionPDA(c.programID, epoch)
	if err != nil {
		return nil, fmt.Errorf("deriving distribution PDA for epoch %d: %w", epoch, err)
	}

	result, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetching distribution %s: %w", addr, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("epoch %d: %w", epoch, ErrDistributionNotInitialized)
	}

	return deserializeDistribution(result.Value.Data.GetBinary())
}

func deserializeDistribution(data []byte) (*Distribution, error) {
	if len(data) < discriminatorSize {
		return nil, fmt.Errorf("%w: data too short", ErrInvalidDiscriminator)
	}
	var got [8]byte
	copy(got[:], data[:discriminatorSize])
	if got != DiscriminatorDistribution {
		return nil, fmt.Errorf("%w: got %x, want %x", ErrInvalidDiscriminator, got, DiscriminatorDistribution)
	}

	var dist Distribution
	body := data[discriminatorSize:]
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &dist); err != nil {
		return nil, fmt.Errorf("deserializing distribution: %w", err)
	}
	return &dist, nil
}
