// Package telemetry decodes the telemetry program's latency-sample accounts
// and fetches them per epoch.
package telemetry

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/doublezero-rewards/internal/borshio"
)

// ErrInvalidAccountData marks account payloads that fail to decode. What is
// on chain will not change by asking again, so callers must not retry it.
var ErrInvalidAccountData = errors.New("invalid account data")

type AccountType uint8

const (
	AccountTypeDeviceLatencySamplesV0   AccountType = 1
	AccountTypeInternetLatencySamplesV0 AccountType = 2
	AccountTypeDeviceLatencySamples     AccountType = 3
	AccountTypeInternetLatencySamples   AccountType = 4
)

const (
	MaxDeviceLatencySamplesPerAccount   = 35_000
	MaxInternetLatencySamplesPerAccount = 3_000

	unusedHeaderPadding = 128
)

// DeviceLatencySamples holds one epoch's RTT samples for a device-to-device
// circuit. A zero sample value means the probe got no reading (loss).
type DeviceLatencySamples struct {
	AccountType                  AccountType
	Epoch                        uint64
	OriginDeviceAgentPK          [32]byte
	OriginDevicePK               [32]byte
	TargetDevicePK               [32]byte
	OriginDeviceLocationPK       [32]byte
	TargetDeviceLocationPK       [32]byte
	LinkPK                       [32]byte
	SamplingIntervalMicroseconds uint64
	StartTimestampMicroseconds   uint64
	NextSampleIndex              uint32
	Samples                      []uint32
}

func DeserializeDeviceLatencySamples(data []byte) (*DeviceLatencySamples, error) {
	r := borshio.NewReader(data)
	d := &DeviceLatencySamples{}

	d.AccountType = AccountType(r.ReadU8())
	d.Epoch = r.ReadU64()
	d.OriginDeviceAgentPK = r.ReadPubkey()
	d.OriginDevicePK = r.ReadPubkey()
	d.TargetDevicePK = r.ReadPubkey()
	d.OriginDeviceLocationPK = r.ReadPubkey()
	d.TargetDeviceLocationPK = r.ReadPubkey()
	d.LinkPK = r.ReadPubkey()
	d.SamplingIntervalMicroseconds = r.ReadU64()
	d.StartTimestampMicroseconds = r.ReadU64()
	d.NextSampleIndex = r.ReadU32()
	r.Skip(unusedHeaderPadding)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("device latency header: %w: %w", ErrInvalidAccountData, err)
	}

	count := int(d.NextSampleIndex)
	if count > MaxDeviceLatencySamplesPerAccount {
		return nil, fmt.Errorf("%w: next_sample_index %d exceeds max %d", ErrInvalidAccountData, count, MaxDeviceLatencySamplesPerAccount)
	}

	d.Samples = make([]uint32, count)
	for i := range count {
		if r.Remaining() < 4 {
			d.Samples = d.Samples[:i]
			break
		}
		d.Samples[i] = r.ReadU32()
	}

	return d, nil
}

// InternetLatencySamples holds one epoch's RTT samples for an
// exchange-to-exchange internet path measured by a named data provider.
type InternetLatencySamples struct {
	AccountType                  AccountType
	Epoch                        uint64
	DataProviderName             string
	OracleAgentPK                [32]byte
	OriginExchangePK             [32]byte
	TargetExchangePK             [32]byte
	SamplingIntervalMicroseconds uint64
	StartTimestampMicroseconds   uint64
	NextSampleIndex              uint32
	Samples                      []uint32
}

func DeserializeInternetLatencySamples(data []byte) (*InternetLatencySamples, error) {
	r := borshio.NewReader(data)
	d := &InternetLatencySamples{}

	d.AccountType = AccountType(r.ReadU8())
	d.Epoch = r.ReadU64()
	d.DataProviderName = r.ReadString()
	d.OracleAgentPK = r.ReadPubkey()
	d.OriginExchangePK = r.ReadPubkey()
	d.TargetExchangePK = r.ReadPubkey()
	d.SamplingIntervalMicroseconds = r.ReadU64()
	d.StartTimestampMicroseconds = r.ReadU64()
	d.NextSampleIndex = r.ReadU32()
	r.Skip(unusedHeaderPadding)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("internet latency header: %w: %w", ErrInvalidAccountData, err)
	}

	count := int(d.NextSampleIndex)
	if count > MaxInternetLatencySamplesPerAccount {
		return nil, fmt.Errorf("%w: next_sample_index %d exceeds max %d", ErrInvalidAccountData, count, MaxInternetLatencySamplesPerAccount)
	}

	d.Samples = make([]uint32, count)
	for i := range count {
		if r.Remaining() < 4 {
			d.Samples = d.Samples[:i]
			break
		}
		d.Samples[i] = r.ReadU32()
	}

	return d, nil
}
