package revdist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DiscriminatorConfigureRewards prefixes the instruction that writes the
// contributor rewards merkle root into an epoch's distribution account.
var DiscriminatorConfigureRewards = sha256First8("dz::ix::configure_distribution_rewards")

// TransactionSender is the minimal RPC interface needed to submit the
// configure-rewards transaction.
type TransactionSender interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Poster signs and submits rewards merkle roots to the distribution program.
type Poster struct {
	log       *slog.Logger
	rpc       TransactionSender
	programID solana.PublicKey
	signer    solana.PrivateKey
}

func NewPoster(log *slog.Logger, rpc TransactionSender, programID solana.PublicKey, signer solana.PrivateKey) (*Poster, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if rpc == nil {
		return nil, errors.New("rpc client is required")
	}
	if signer == nil {
		return nil, errors.New("signer keypair is required")
	}
	return &Poster{log: log, rpc: rpc, programID: programID, signer: signer}, nil
}

// PostRewardsRoot writes the merkle root and contributor count into the
// epoch's distribution account.
func (p *Poster) PostRewardsRoot(ctx context.Context, epoch uint64, totalContributors uint32, root [32]byte) error {
	distribution, _, err := DeriveDistributionPDA(p.programID, epoch)
	if err != nil {
		return fmt.Errorf("deriving distribution PDA for epoch %d: %w", epoch, err)
	}

	data := make([]byte, 0, discriminatorSize+4+32)
	data = append(data, DiscriminatorConfigureRewards[:]...)
	data = binary.LittleEndian.AppendUint32(data, totalContributors)
	data = append(data, root[:]...)

	ix := solana.NewInstruction(
		p.programID,
		solana.AccountMetaSlice{
			solana.Meta(p.signer.PublicKey()).SIGNER().WRITE(),
			solana.Meta(distribution).WRITE(),
		},
		data,
	)

	blockhash, err := p.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(p.signer.PublicKey()),
	)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.signer.PublicKey()) {
			return &p.signer
		}
		return nil
	}); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := p.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{})
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	p.log.Info("Submitted rewards root transaction",
		"epoch", epoch,
		"distribution", distribution,
		"signature", sig,
	)
	return nil
}
