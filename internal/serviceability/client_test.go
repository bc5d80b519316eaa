package serviceability

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

type accountBuilder struct {
	buf []byte
}

func (b *accountBuilder) u8(v uint8)   { b.buf = append(b.buf, v) }
func (b *accountBuilder) u16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *accountBuilder) u32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *accountBuilder) u64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }
func (b *accountBuilder) f64(v float64) {
	b.u64(math.Float64bits(v))
}
func (b *accountBuilder) pubkey(v [32]byte) {
	b.buf = append(b.buf, v[:]...)
}
func (b *accountBuilder) str(v string) {
	b.u32(uint32(len(v)))
	b.buf = append(b.buf, v...)
}
func (b *accountBuilder) pad(n int) {
	b.buf = append(b.buf, make([]byte, n)...)
}

func pk(n byte) [32]byte {
	var out [32]byte
	out[0] = n
	return out
}

func locationBytes(lat, lng float64, status LocationStatus, code, name, country string) []byte {
	b := &accountBuilder{}
	b.u8(uint8(LocationType))
	b.pubkey(pk(0xEE)) // owner
	b.pad(16)          // index
	b.u8(255)          // bump seed
	b.f64(lat)
	b.f64(lng)
	b.u32(1)
	b.u8(uint8(status))
	b.str(code)
	b.str(name)
	b.str(country)
	return b.buf
}

func exchangeBytes(lat, lng float64, status ExchangeStatus, code, name string) []byte {
	b := &accountBuilder{}
	b.u8(uint8(ExchangeType))
	b.pubkey(pk(0xEE)) // owner
	b.pad(16)          // index
	b.u8(255)          // bump seed
	b.f64(lat)
	b.f64(lng)
	b.u16(100) // bgp community
	b.pad(2)   // padding
	b.u8(uint8(status))
	b.str(code)
	b.str(name)
	b.u32(0) // reference count
	b.pubkey(pk(0xD1))
	b.pubkey(pk(0xD2))
	return b.buf
}

func deviceBytes(location, exchange, contributor [32]byte, status DeviceStatus, code string) []byte {
	b := &accountBuilder{}
	b.u8(uint8(DeviceType))
	b.pubkey(pk(0xEE)) // owner
	b.pad(16)          // index
	b.u8(255)          // bump seed
	b.pubkey(location)
	b.pubkey(exchange)
	b.u8(1)   // device type
	b.pad(4)  // public ip
	b.u8(uint8(status))
	b.str(code)
	b.u32(1) // one dz prefix follows
	b.pad(5)
	b.pubkey(pk(0xEF)) // metrics publisher
	b.pubkey(contributor)
	return b.buf
}

func linkBytes(sideA, sideZ, contributor [32]byte, bandwidth uint64, status LinkStatus, code string) []byte {
	b := &accountBuilder{}
	b.u8(uint8(LinkType))
	b.pubkey(pk(0xEE)) // owner
	b.pad(16)          // index
	b.u8(255)          // bump seed
	b.pubkey(sideA)
	b.pubkey(sideZ)
	b.u8(1) // link type
	b.u64(bandwidth)
	b.u32(9000)       // mtu
	b.u64(12_000_000) // delay ns
	b.u64(500_000)    // jitter ns
	b.u16(42)         // tunnel id
	b.pad(5)          // tunnel net
	b.u8(uint8(status))
	b.str(code)
	b.pubkey(contributor)
	return b.buf
}

func contributorBytes(owner [32]byte, status ContributorStatus, code string) []byte {
	b := &accountBuilder{}
	b.u8(uint8(ContributorType))
	b.pubkey(owner)
	b.pad(16) // index
	b.u8(255) // bump seed
	b.u8(uint8(status))
	b.str(code)
	return b.buf
}

func userBytes(owner, device, validator [32]byte, status UserStatus) []byte {
	b := &accountBuilder{}
	b.u8(uint8(UserType))
	b.pubkey(owner)
	b.pad(16)          // index
	b.u8(255)          // bump seed
	b.u8(1)            // user type
	b.pubkey(pk(0xEE)) // tenant
	b.pubkey(device)
	b.u8(0)  // cyoa type
	b.pad(4) // client ip
	b.pad(4) // dz ip
	b.u16(7) // tunnel id
	b.pad(5) // tunnel net
	b.u8(uint8(status))
	b.u32(0) // publishers
	b.u32(0) // subscribers
	b.pubkey(validator)
	return b.buf
}

func accessPassBytes(tag AccessPassTypeTag, validator, payer [32]byte, status AccessPassStatus) []byte {
	b := &accountBuilder{}
	b.u8(uint8(AccessPassType))
	b.pubkey(pk(0xEE)) // owner
	b.u8(255)          // bump seed
	b.u8(uint8(tag))
	if tag == AccessPassTypeSolanaValidator {
		b.pubkey(validator)
	}
	b.pad(4) // client ip
	b.pubkey(payer)
	b.u64(900) // last access epoch
	b.u16(1)   // connection count
	b.u8(uint8(status))
	return b.buf
}

type mockRPC struct {
	accounts rpc.GetProgramAccountsResult
	err      error
}

func (m *mockRPC) GetProgramAccounts(_ context.Context, _ solana.PublicKey) (rpc.GetProgramAccountsResult, error) {
	return m.accounts, m.err
}

func account(key [32]byte, data []byte) *rpc.KeyedAccount {
	return &rpc.KeyedAccount{
		Pubkey:  solana.PublicKey(key),
		Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}
}

func TestServiceability_GetSnapshot(t *testing.T) {
	t.Parallel()

	var (
		locPK         = pk(0x01)
		exPK          = pk(0x02)
		devPK         = pk(0x03)
		linkPK        = pk(0x04)
		contributorPK = pk(0x05)
		userPK        = pk(0x06)
		passPK        = pk(0x07)
		ownerPK       = pk(0x08)
		validatorPK   = pk(0x09)
		payerPK       = pk(0x0A)
	)

	mock := &mockRPC{accounts: rpc.GetProgramAccountsResult{
		account(locPK, locationBytes(40.7, -74.0, LocationStatusActivated, "nyc", "New York", "US")),
		account(exPK, exchangeBytes(40.7, -74.0, ExchangeStatusActivated, "xnyc", "NYC Exchange")),
		account(devPK, deviceBytes(locPK, exPK, contributorPK, DeviceStatusActivated, "dz-nyc-01")),
		account(linkPK, linkBytes(devPK, pk(0x30), contributorPK, 10_000_000_000, LinkStatusActivated, "nyc-lax")),
		account(contributorPK, contributorBytes(ownerPK, ContributorStatusActivated, "co01")),
		account(userPK, userBytes(payerPK, devPK, validatorPK, UserStatusActivated)),
		account(passPK, accessPassBytes(AccessPassTypeSolanaValidator, validatorPK, payerPK, AccessPassStatusConnected)),
	}}

	snap, err := New(mock, testProgramID).GetSnapshot(context.Background())
	require.NoError(t, err)

	loc, ok := snap.Locations[locPK]
	require.True(t, ok)
	assert.Equal(t, "nyc", loc.Code)
	assert.Equal(t, "US", loc.Country)
	assert.Equal(t, 40.7, loc.Lat)
	assert.Equal(t, -74.0, loc.Lng)
	assert.Equal(t, LocationStatusActivated, loc.Status)

	ex, ok := snap.Exchanges[exPK]
	require.True(t, ok)
	assert.Equal(t, "xnyc", ex.Code)
	assert.Equal(t, "NYC Exchange", ex.Name)
	assert.Equal(t, pk(0xD1), ex.Device1PK)

	dev, ok := snap.Devices[devPK]
	require.True(t, ok)
	assert.Equal(t, "dz-nyc-01", dev.Code)
	assert.Equal(t, locPK, dev.LocationPubKey)
	assert.Equal(t, exPK, dev.ExchangePubKey)
	assert.Equal(t, contributorPK, dev.ContributorPubKey)

	require.Len(t, snap.Links, 1)
	link := snap.Links[0]
	assert.Equal(t, devPK, link.SideAPubKey)
	assert.Equal(t, uint64(10_000_000_000), link.Bandwidth)
	assert.Equal(t, uint64(12_000_000), link.DelayNs)
	assert.Equal(t, LinkStatusActivated, link.Status)

	contrib, ok := snap.Contributors[contributorPK]
	require.True(t, ok)
	assert.Equal(t, "co01", contrib.Code)
	assert.Equal(t, ownerPK, contrib.Owner)

	require.Len(t, snap.Users, 1)
	assert.Equal(t, payerPK, snap.Users[0].Owner)
	assert.Equal(t, devPK, snap.Users[0].DevicePubKey)
	assert.Equal(t, validatorPK, snap.Users[0].ValidatorPubKey)

	require.Len(t, snap.AccessPasses, 1)
	pass := snap.AccessPasses[0]
	assert.Equal(t, AccessPassTypeSolanaValidator, pass.TypeTag)
	assert.Equal(t, validatorPK, pass.AssociatedValidator)
	assert.Equal(t, payerPK, pass.UserPayer)
	assert.Equal(t, AccessPassStatusConnected, pass.Status)
}

func TestServiceability_GetSnapshotPrepaidPassHasNoValidator(t *testing.T) {
	t.Parallel()

	mock := &mockRPC{accounts: rpc.GetProgramAccountsResult{
		account(pk(0x07), accessPassBytes(AccessPassTypePrepaid, [32]byte{}, pk(0x0A), AccessPassStatusConnected)),
	}}

	snap, err := New(mock, testProgramID).GetSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.AccessPasses, 1)
	assert.Equal(t, [32]byte{}, snap.AccessPasses[0].AssociatedValidator)
	assert.Equal(t, pk(0x0A), snap.AccessPasses[0].UserPayer)
}

func TestServiceability_GetSnapshotTruncatedAccount(t *testing.T) {
	t.Parallel()

	data := deviceBytes(pk(1), pk(2), pk(3), DeviceStatusActivated, "dz-nyc-01")
	mock := &mockRPC{accounts: rpc.GetProgramAccountsResult{
		account(pk(0x03), data[:40]),
	}}

	_, err := New(mock, testProgramID).GetSnapshot(context.Background())
	require.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestServiceability_GetSnapshotEmptyProgram(t *testing.T) {
	t.Parallel()

	_, err := New(&mockRPC{}, testProgramID).GetSnapshot(context.Background())
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestServiceability_GetSnapshotSkipsUnknownTypes(t *testing.T) {
	t.Parallel()

	mock := &mockRPC{accounts: rpc.GetProgramAccountsResult{
		account(pk(0x01), []byte{0xFF, 0x01, 0x02}),
		account(pk(0x02), contributorBytes(pk(0x08), ContributorStatusActivated, "co01")),
	}}

	snap, err := New(mock, testProgramID).GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Contributors, 1)
}
