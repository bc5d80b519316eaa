package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrAccountNotFound = errors.New("account not found")

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

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

// epochPrefixFilter matches accounts of the given type written for the given
// epoch: 1 type byte followed by the epoch as 8 little-endian bytes.
func epochPrefixFilter(accountType AccountType, epoch uint64) []rpc.RPCFilter {
	prefix := make([]byte, 9)
	prefix[0] = byte(accountType)
	binary.LittleEndian.PutUint64(prefix[1:], epoch)
	return []rpc.RPCFilter{
		{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: 0,
				Bytes:  prefix,
			},
		},
	}
}

// GetDeviceLatencySamplesForEpoch fetches and decodes every device latency
// account written for the given epoch.
func (c *Client) GetDeviceLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*DeviceLatencySamples, error) {
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Filters: epochPrefixFilter(AccountTypeDeviceLatencySamples, epoch),
	})
	if err != nil {
		return nil, fmt.Errorf("get device latency accounts for epoch %d: %w", epoch, err)
	}

	samples := make([]*DeviceLatencySamples, 0, len(out))
	for _, element := range out {
		d, err := DeserializeDeviceLatencySamples(element.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", element.Pubkey, err)
		}
		samples = append(samples, d)
	}
	return samples, nil
}

// GetInternetLatencySamplesForEpoch fetches and decodes every internet
// latency account written for the given epoch.
func (c *Client) GetInternetLatencySamplesForEpoch(ctx context.Context, epoch uint64) ([]*InternetLatencySamples, error) {
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Filters: epochPrefixFilter(AccountTypeInternetLatencySamples, epoch),
	})
	if err != nil {
		return nil, fmt.Errorf("get internet latency accounts for epoch %d: %w", epoch, err)
	}

	samples := make([]*InternetLatencySamples, 0, len(out))
	for _, element := range out {
		d, err := DeserializeInternetLatencySamples(element.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", element.Pubkey, err)
		}
		samples = append(samples, d)
	}
	return samples, nil
}
