package serviceability

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/doublezero-rewards/internal/borshio"
)

// Both conditions are permanent for a given ledger state: retrying the read
// cannot resolve them, so callers must propagate instead.
var (
	ErrNoAccounts         = errors.New("program has no accounts")
	ErrInvalidAccountData = errors.New("invalid account data")
)

// RPCClient is the minimal RPC interface needed by the client.
type RPCClient interface {
	GetProgramAccounts(ctx context.Context, publicKey solana.PublicKey) (rpc.GetProgramAccountsResult, error)
}

// Snapshot aggregates all deserialized registry accounts, keyed by pubkey
// where the pipeline joins on identity.
type Snapshot struct {
	Locations    map[[32]byte]Location
	Exchanges    map[[32]byte]Exchange
	Devices      map[[32]byte]Device
	Links        []Link
	Contributors map[[32]byte]Contributor
	Users        []User
	AccessPasses []AccessPass
}

// Client provides read-only access to the serviceability program accounts.
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

// GetSnapshot fetches all program accounts and deserializes them by type.
func (c *Client) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	out, err := c.rpc.GetProgramAccounts(ctx, c.programID)
	if err != nil {
		return nil, fmt.Errorf("get program accounts for %s: %w", c.programID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("program %s: %w", c.programID, ErrNoAccounts)
	}

	snap := &Snapshot{
		Locations:    make(map[[32]byte]Location),
		Exchanges:    make(map[[32]byte]Exchange),
		Devices:      make(map[[32]byte]Device),
		Contributors: make(map[[32]byte]Contributor),
	}

	for _, element := range out {
		data := element.Account.Data.GetBinary()
		if len(data) == 0 {
			continue
		}
		r := borshio.NewReader(data)
		pk := [32]byte(element.Pubkey)
		invalid := func(err error) error {
			return fmt.Errorf("account %s: %w: %w", element.Pubkey, ErrInvalidAccountData, err)
		}

		switch AccountType(data[0]) {
		case LocationType:
			var loc Location
			if err := deserializeLocation(r, &loc); err != nil {
				return nil, invalid(err)
			}
			loc.PubKey = pk
			snap.Locations[pk] = loc
		case ExchangeType:
			var ex Exchange
			if err := deserializeExchange(r, &ex); err != nil {
				return nil, invalid(err)
			}
			ex.PubKey = pk
			snap.Exchanges[pk] = ex
		case DeviceType:
			var dev Device
			if err := deserializeDevice(r, &dev); err != nil {
				return nil, invalid(err)
			}
			dev.PubKey = pk
			snap.Devices[pk] = dev
		case LinkType:
			var link Link
			if err := deserializeLink(r, &link); err != nil {
				return nil, invalid(err)
			}
			link.PubKey = pk
			snap.Links = append(snap.Links, link)
		case ContributorType:
			var contrib Contributor
			if err := deserializeContributor(r, &contrib); err != nil {
				return nil, invalid(err)
			}
			contrib.PubKey = pk
			snap.Contributors[pk] = contrib
		case UserType:
			var user User
			if err := deserializeUser(r, &user); err != nil {
				return nil, invalid(err)
			}
			user.PubKey = pk
			snap.Users = append(snap.Users, user)
		case AccessPassType:
			var ap AccessPass
			if err := deserializeAccessPass(r, &ap); err != nil {
				return nil, invalid(err)
			}
			ap.PubKey = pk
			snap.AccessPasses = append(snap.AccessPasses, ap)
		}
	}

	return snap, nil
}
