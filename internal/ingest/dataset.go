// Package ingest turns raw telemetry accounts into per-route sample datasets
// and accumulates them across epochs until route coverage is sufficient.
package ingest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"

	"github.com/malbeclabs/doublezero-rewards/internal/telemetry"
)

// ErrNoTelemetryAvailable is returned when no epoch in the lookback window
// yielded any telemetry. Callers must treat this as a failed calculation,
// never as an empty dataset.
var ErrNoTelemetryAvailable = errors.New("no telemetry available")

// Route identifies a measured circuit. Device circuits carry a link pubkey,
// internet circuits a data provider name.
type Route struct {
	Origin   [32]byte
	Target   [32]byte
	Link     [32]byte
	Provider string
}

func DeviceRoute(origin, target, link [32]byte) Route {
	return Route{Origin: origin, Target: target, Link: link}
}

func InternetRoute(origin, target [32]byte, provider string) Route {
	return Route{Origin: origin, Target: target, Provider: provider}
}

func (r Route) String() string {
	last := r.Provider
	if last == "" {
		last = base58.Encode(r.Link[:])
	}
	return fmt.Sprintf("%s:%s:%s", base58.Encode(r.Origin[:]), base58.Encode(r.Target[:]), last)
}

// SampleWindow is one account's worth of fixed-interval RTT samples. The
// sample at index i was taken at Start + i*Interval microseconds. A zero
// sample value means the probe got no reading.
type SampleWindow struct {
	Epoch                  uint64
	StartTimestampMicros   uint64
	SamplingIntervalMicros uint64
	Samples                []uint32
}

// EndTimestampMicros returns the timestamp just past the last sample slot.
func (w SampleWindow) EndTimestampMicros() uint64 {
	return w.StartTimestampMicros + uint64(len(w.Samples))*w.SamplingIntervalMicros
}

// Dataset holds the sample windows observed for a set of routes. It may span
// one epoch (fresh fetch) or several (accumulator output).
type Dataset struct {
	Windows map[Route][]SampleWindow
}

func NewDataset() *Dataset {
	return &Dataset{Windows: make(map[Route][]SampleWindow)}
}

func (d *Dataset) Add(route Route, window SampleWindow) {
	d.Windows[route] = append(d.Windows[route], window)
}

// SampleCount returns the total number of samples recorded for a route.
func (d *Dataset) SampleCount(route Route) int {
	var n int
	for _, w := range d.Windows[route] {
		n += len(w.Samples)
	}
	return n
}

// Routes returns the dataset's routes in stable lexicographic order.
func (d *Dataset) Routes() []Route {
	routes := make([]Route, 0, len(d.Windows))
	for route := range d.Windows {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].String() < routes[j].String()
	})
	return routes
}

// Empty reports whether the dataset holds no samples at all.
func (d *Dataset) Empty() bool {
	for route := range d.Windows {
		if d.SampleCount(route) > 0 {
			return false
		}
	}
	return true
}

// DatasetFromDeviceSamples groups decoded device latency accounts by route.
func DatasetFromDeviceSamples(epoch uint64, samples []*telemetry.DeviceLatencySamples) *Dataset {
	ds := NewDataset()
	for _, s := range samples {
		ds.Add(DeviceRoute(s.OriginDevicePK, s.TargetDevicePK, s.LinkPK), SampleWindow{
			Epoch:                  epoch,
			StartTimestampMicros:   s.StartTimestampMicroseconds,
			SamplingIntervalMicros: s.SamplingIntervalMicroseconds,
			Samples:                s.Samples,
		})
	}
	return ds
}

// DatasetFromInternetSamples groups decoded internet latency accounts by route.
func DatasetFromInternetSamples(epoch uint64, samples []*telemetry.InternetLatencySamples) *Dataset {
	ds := NewDataset()
	for _, s := range samples {
		ds.Add(InternetRoute(s.OriginExchangePK, s.TargetExchangePK, s.DataProviderName), SampleWindow{
			Epoch:                  epoch,
			StartTimestampMicros:   s.StartTimestampMicroseconds,
			SamplingIntervalMicros: s.SamplingIntervalMicroseconds,
			Samples:                s.Samples,
		})
	}
	return ds
}
