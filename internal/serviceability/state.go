// Package serviceability decodes the on-chain service registry: the
// locations, exchanges, devices, links, contributors, users, and access
// passes the rewards pipeline joins against.
package serviceability

import (
	"github.com/mr-tron/base58"
)

type AccountType uint8

const (
	LocationType    AccountType = 3
	ExchangeType    AccountType = 4
	DeviceType      AccountType = 5
	LinkType        AccountType = 6
	UserType        AccountType = 7
	ContributorType AccountType = 10
	AccessPassType  AccountType = 11
)

type LocationStatus uint8

const (
	LocationStatusPending   LocationStatus = 0
	LocationStatusActivated LocationStatus = 1
	LocationStatusSuspended LocationStatus = 2
)

func (s LocationStatus) String() string {
	switch s {
	case LocationStatusPending:
		return "pending"
	case LocationStatusActivated:
		return "activated"
	case LocationStatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

type ExchangeStatus uint8

const (
	ExchangeStatusPending   ExchangeStatus = 0
	ExchangeStatusActivated ExchangeStatus = 1
	ExchangeStatusSuspended ExchangeStatus = 2
)

func (s ExchangeStatus) String() string {
	switch s {
	case ExchangeStatusPending:
		return "pending"
	case ExchangeStatusActivated:
		return "activated"
	case ExchangeStatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

type DeviceStatus uint8

const (
	DeviceStatusPending   DeviceStatus = 0
	DeviceStatusActivated DeviceStatus = 1
	DeviceStatusDeleting  DeviceStatus = 2
	DeviceStatusRejected  DeviceStatus = 3
	DeviceStatusDrained   DeviceStatus = 4
)

func (s DeviceStatus) String() string {
	switch s {
	case DeviceStatusPending:
		return "pending"
	case DeviceStatusActivated:
		return "activated"
	case DeviceStatusDeleting:
		return "deleting"
	case DeviceStatusRejected:
		return "rejected"
	case DeviceStatusDrained:
		return "drained"
	default:
		return "unknown"
	}
}

type LinkStatus uint8

const (
	LinkStatusPending   LinkStatus = 0
	LinkStatusActivated LinkStatus = 1
	LinkStatusDeleting  LinkStatus = 3
	LinkStatusRejected  LinkStatus = 4
	LinkStatusRequested LinkStatus = 5
)

func (s LinkStatus) String() string {
	switch s {
	case LinkStatusPending:
		return "pending"
	case LinkStatusActivated:
		return "activated"
	case LinkStatusDeleting:
		return "deleting"
	case LinkStatusRejected:
		return "rejected"
	case LinkStatusRequested:
		return "requested"
	default:
		return "unknown"
	}
}

type ContributorStatus uint8

const (
	ContributorStatusNone      ContributorStatus = 0
	ContributorStatusActivated ContributorStatus = 1
	ContributorStatusSuspended ContributorStatus = 2
	ContributorStatusDeleting  ContributorStatus = 3
)

func (s ContributorStatus) String() string {
	switch s {
	case ContributorStatusNone:
		return "none"
	case ContributorStatusActivated:
		return "activated"
	case ContributorStatusSuspended:
		return "suspended"
	case ContributorStatusDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

type UserStatus uint8

const (
	UserStatusPending   UserStatus = 0
	UserStatusActivated UserStatus = 1
	UserStatusDeleting  UserStatus = 3
	UserStatusRejected  UserStatus = 4
	UserStatusBanned    UserStatus = 6
)

func (s UserStatus) String() string {
	switch s {
	case UserStatusPending:
		return "pending"
	case UserStatusActivated:
		return "activated"
	case UserStatusDeleting:
		return "deleting"
	case UserStatusRejected:
		return "rejected"
	case UserStatusBanned:
		return "banned"
	default:
		return "unknown"
	}
}

type AccessPassTypeTag uint8

const (
	AccessPassTypePrepaid         AccessPassTypeTag = 0
	AccessPassTypeSolanaValidator AccessPassTypeTag = 1
)

type AccessPassStatus uint8

const (
	AccessPassStatusRequested    AccessPassStatus = 0
	AccessPassStatusConnected    AccessPassStatus = 1
	AccessPassStatusDisconnected AccessPassStatus = 2
	AccessPassStatusExpired      AccessPassStatus = 3
)

func (s AccessPassStatus) String() string {
	switch s {
	case AccessPassStatusRequested:
		return "requested"
	case AccessPassStatusConnected:
		return "connected"
	case AccessPassStatusDisconnected:
		return "disconnected"
	case AccessPassStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type Location struct {
	Lat     float64
	Lng     float64
	LocId   uint32
	Status  LocationStatus
	Code    string
	Name    string
	Country string
	PubKey  [32]byte
}

type Exchange struct {
	Lat       float64
	Lng       float64
	Status    ExchangeStatus
	Code      string
	Name      string
	Device1PK [32]byte
	Device2PK [32]byte
	PubKey    [32]byte
}

type Device struct {
	Owner             [32]byte
	LocationPubKey    [32]byte
	ExchangePubKey    [32]byte
	Status            DeviceStatus
	Code              string
	ContributorPubKey [32]byte
	PubKey            [32]byte
}

type Link struct {
	SideAPubKey       [32]byte
	SideZPubKey       [32]byte
	Bandwidth         uint64 // bits per second
	DelayNs           uint64
	JitterNs          uint64
	Status            LinkStatus
	Code              string
	ContributorPubKey [32]byte
	PubKey            [32]byte
}

type Contributor struct {
	Owner  [32]byte
	Status ContributorStatus
	Code   string
	PubKey [32]byte
}

type User struct {
	Owner           [32]byte
	DevicePubKey    [32]byte
	Status          UserStatus
	ValidatorPubKey [32]byte
	PubKey          [32]byte
}

type AccessPass struct {
	TypeTag             AccessPassTypeTag
	AssociatedValidator [32]byte // set for SolanaValidator passes
	UserPayer           [32]byte
	LastAccessEpoch     uint64
	Status              AccessPassStatus
	PubKey              [32]byte
}

// PubKeyString renders a raw 32-byte key as base58 for logs and graph output.
func PubKeyString(pk [32]byte) string {
	return base58.Encode(pk[:])
}
