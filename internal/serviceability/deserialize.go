package serviceability

import (
	"fmt"

	"github.com/malbeclabs/doublezero-rewards/internal/borshio"
)

// The registry accounts are Borsh records laid out by the on-chain program.
// Fields the pipeline does not consume are read and discarded to keep the
// cursor aligned; decoding stops once the last needed field is reached.

func deserializeLocation(r *borshio.Reader, loc *Location) error {
	_ = r.ReadU8()      // account type
	_ = r.ReadPubkey()  // owner
	_ = r.ReadU128()    // index
	_ = r.ReadU8()      // bump seed
	loc.Lat = r.ReadF64()
	loc.Lng = r.ReadF64()
	loc.LocId = r.ReadU32()
	loc.Status = LocationStatus(r.ReadU8())
	loc.Code = r.ReadString()
	loc.Name = r.ReadString()
	loc.Country = r.ReadString()
	if err := r.Err(); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	return nil
}

func deserializeExchange(r *borshio.Reader, ex *Exchange) error {
	_ = r.ReadU8()     // account type
	_ = r.ReadPubkey() // owner
	_ = r.ReadU128()   // index
	_ = r.ReadU8()     // bump seed
	ex.Lat = r.ReadF64()
	ex.Lng = r.ReadF64()
	_ = r.ReadU16() // bgp community
	r.Skip(2)       // padding
	ex.Status = ExchangeStatus(r.ReadU8())
	ex.Code = r.ReadString()
	ex.Name = r.ReadString()
	_ = r.ReadU32() // reference count
	ex.Device1PK = r.ReadPubkey()
	ex.Device2PK = r.ReadPubkey()
	if err := r.Err(); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	return nil
}

func deserializeDevice(r *borshio.Reader, dev *Device) error {
	_ = r.ReadU8() // account type
	dev.Owner = r.ReadPubkey()
	_ = r.ReadU128() // index
	_ = r.ReadU8()   // bump seed
	dev.LocationPubKey = r.ReadPubkey()
	dev.ExchangePubKey = r.ReadPubkey()
	_ = r.ReadU8()   // device type
	_ = r.ReadIPv4() // public ip
	dev.Status = DeviceStatus(r.ReadU8())
	dev.Code = r.ReadString()
	_ = r.ReadNetworkV4Slice() // dz prefixes
	_ = r.ReadPubkey()         // metrics publisher
	dev.ContributorPubKey = r.ReadPubkey()
	if err := r.Err(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	return nil
}

func deserializeLink(r *borshio.Reader, link *Link) error {
	_ = r.ReadU8()     // account type
	_ = r.ReadPubkey() // owner
	_ = r.ReadU128()   // index
	_ = r.ReadU8()     // bump seed
	link.SideAPubKey = r.ReadPubkey()
	link.SideZPubKey = r.ReadPubkey()
	_ = r.ReadU8() // link type
	link.Bandwidth = r.ReadU64()
	_ = r.ReadU32() // mtu
	link.DelayNs = r.ReadU64()
	link.JitterNs = r.ReadU64()
	_ = r.ReadU16()       // tunnel id
	_ = r.ReadNetworkV4() // tunnel net
	link.Status = LinkStatus(r.ReadU8())
	link.Code = r.ReadString()
	link.ContributorPubKey = r.ReadPubkey()
	if err := r.Err(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	return nil
}

func deserializeContributor(r *borshio.Reader, c *Contributor) error {
	_ = r.ReadU8() // account type
	c.Owner = r.ReadPubkey()
	_ = r.ReadU128() // index
	_ = r.ReadU8()   // bump seed
	c.Status = ContributorStatus(r.ReadU8())
	c.Code = r.ReadString()
	if err := r.Err(); err != nil {
		return fmt.Errorf("contributor: %w", err)
	}
	return nil
}

func deserializeUser(r *borshio.Reader, u *User) error {
	_ = r.ReadU8() // account type
	u.Owner = r.ReadPubkey()
	_ = r.ReadU128()   // index
	_ = r.ReadU8()     // bump seed
	_ = r.ReadU8()     // user type
	_ = r.ReadPubkey() // tenant
	u.DevicePubKey = r.ReadPubkey()
	_ = r.ReadU8()        // cyoa type
	_ = r.ReadIPv4()      // client ip
	_ = r.ReadIPv4()      // dz ip
	_ = r.ReadU16()       // tunnel id
	_ = r.ReadNetworkV4() // tunnel net
	u.Status = UserStatus(r.ReadU8())
	_ = r.ReadPubkeySlice() // publishers
	_ = r.ReadPubkeySlice() // subscribers
	u.ValidatorPubKey = r.ReadPubkey()
	if err := r.Err(); err != nil {
		return fmt.Errorf("user: %w", err)
	}
	return nil
}

func deserializeAccessPass(r *borshio.Reader, ap *AccessPass) error {
	_ = r.ReadU8()     // account type
	_ = r.ReadPubkey() // owner
	_ = r.ReadU8()     // bump seed
	// AccessPassType is a Borsh enum: 1-byte discriminant + variant data.
	ap.TypeTag = AccessPassTypeTag(r.ReadU8())
	if ap.TypeTag == AccessPassTypeSolanaValidator {
		ap.AssociatedValidator = r.ReadPubkey()
	}
	_ = r.ReadIPv4() // client ip
	ap.UserPayer = r.ReadPubkey()
	ap.LastAccessEpoch = r.ReadU64()
	_ = r.ReadU16() // connection count
	ap.Status = AccessPassStatus(r.ReadU8())
	if err := r.Err(); err != nil {
		return fmt.Errorf("access pass: %w", err)
	}
	return nil
}
