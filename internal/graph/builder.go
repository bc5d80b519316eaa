package graph

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/malbeclabs/doublezero-rewards/internal/epoch"
	"github.com/malbeclabs/doublezero-rewards/internal/ingest"
	"github.com/malbeclabs/doublezero-rewards/internal/serviceability"
	"github.com/malbeclabs/doublezero-rewards/internal/stats"
)

const (
	demandTraffic = 0.05
	demandKind    = 1

	bpsPerGbps = 1e9
	usPerMs    = 1_000.0

	// proximityToleranceDeg bounds the coordinate fallback when an exchange
	// code matches no location: beyond this many degrees in either axis the
	// exchange stays unmapped instead of being guessed onto a far city.
	proximityToleranceDeg = 5.0
)

var ErrNoValidators = errors.New("no validators found for demand matrix")

type BuilderConfig struct {
	Logger *slog.Logger

	// EdgeBandwidthGbps is assigned to every device edge.
	EdgeBandwidthGbps float64

	// DefaultLatencyMs and DefaultUptime apply to activated private links
	// that produced no telemetry in the window. Such links stay in the
	// graph rather than vanishing from the reward calculation.
	DefaultLatencyMs float64
	DefaultUptime    float64

	// StripExchangePrefix removes the leading "x" from exchange codes, as
	// used on test networks.
	StripExchangePrefix bool
}

func (c *BuilderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.EdgeBandwidthGbps <= 0 {
		return errors.New("edge bandwidth must be positive")
	}
	if c.DefaultLatencyMs <= 0 {
		return errors.New("default latency must be positive")
	}
	if c.DefaultUptime <= 0 || c.DefaultUptime > 1 {
		return errors.New("default uptime must be in (0, 1]")
	}
	return nil
}

type Builder struct {
	log *slog.Logger
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// Build assembles the full topology for one epoch.
func (b *Builder) Build(
	epochID uint64,
	snap *serviceability.Snapshot,
	deviceStats map[ingest.Route]stats.CircuitStat,
	internetStats map[ingest.Route]stats.CircuitStat,
	schedule *epoch.LeaderSchedule,
) (*NetworkGraph, error) {
	devices, deviceIDs := b.BuildDevices(snap)
	demands, err := b.BuildDemands(snap, schedule)
	if err != nil {
		return nil, err
	}
	return &NetworkGraph{
		Epoch:        epochID,
		Devices:      devices,
		PrivateLinks: b.BuildPrivateLinks(snap, deviceStats, deviceIDs),
		PublicLinks:  b.BuildPublicLinks(snap, internetStats),
		Demands:      demands,
	}, nil
}

// BuildDevices assigns city-scoped sequential identifiers (NYC01, NYC02, ...)
// to every device with a known contributor and exchange. Devices are ordered
// by contributor so a contributor's devices number contiguously, matching the
// canonical ID assignment.
func (b *Builder) BuildDevices(snap *serviceability.Snapshot) ([]Device, map[[32]byte]string) {
	type deviceMeta struct {
		pk          [32]byte
		contributor [32]byte
		city        string
		owner       string
	}

	metas := make([]deviceMeta, 0, len(snap.Devices))
	for pk, dev := range snap.Devices {
		contributor, ok := snap.Contributors[dev.ContributorPubKey]
		if !ok {
			b.log.Debug("Device has no known contributor, skipping", "device", dev.Code)
			continue
		}
		exchange, ok := snap.Exchanges[dev.ExchangePubKey]
		if !ok {
			b.log.Debug("Device has no known exchange, skipping", "device", dev.Code)
			continue
		}
		metas = append(metas, deviceMeta{
			pk:          pk,
			contributor: dev.ContributorPubKey,
			city:        b.cityCode(exchange.Code),
			owner:       serviceability.PubKeyString(contributor.Owner),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		if c := bytes.Compare(metas[i].contributor[:], metas[j].contributor[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(metas[i].pk[:], metas[j].pk[:]) < 0
	})

	devices := make([]Device, 0, len(metas))
	ids := make(map[[32]byte]string, len(metas))
	cityCounts := make(map[string]int)
	for _, m := range metas {
		cityCounts[m.city]++
		id := fmt.Sprintf("%s%02d", m.city, cityCounts[m.city])
		ids[m.pk] = id
		devices = append(devices, Device{
			ID:       id,
			Operator: m.owner,
			Edge:     b.cfg.EdgeBandwidthGbps,
		})
	}
	return devices, ids
}

// BuildPrivateLinks emits every activated link whose endpoint devices are
// both activated. Latency and uptime come from telemetry when the window
// produced any, in either direction over the link; otherwise the configured
// defaults keep the link in the graph. A link whose probes were all lost is
// not unmeasured: its uptime reflects the observed loss, and only the latency
// falls back to the default since no RTT was recorded.
func (b *Builder) BuildPrivateLinks(
	snap *serviceability.Snapshot,
	deviceStats map[ingest.Route]stats.CircuitStat,
	deviceIDs map[[32]byte]string,
) []PrivateLink {
	links := make([]PrivateLink, 0, len(snap.Links))
	for _, link := range snap.Links {
		if link.Status != serviceability.LinkStatusActivated {
			continue
		}
		sideA, okA := snap.Devices[link.SideAPubKey]
		sideZ, okZ := snap.Devices[link.SideZPubKey]
		if !okA || !okZ ||
			sideA.Status != serviceability.DeviceStatusActivated ||
			sideZ.Status != serviceability.DeviceStatusActivated {
			continue
		}
		id1, ok1 := deviceIDs[link.SideAPubKey]
		id2, ok2 := deviceIDs[link.SideZPubKey]
		if !ok1 || !ok2 {
			continue
		}

		latencyMs, uptime := b.cfg.DefaultLatencyMs, b.cfg.DefaultUptime
		var (
			p95Sum, lossSum float64
			found, measured int
		)
		for _, route := range []ingest.Route{
			ingest.DeviceRoute(link.SideAPubKey, link.SideZPubKey, link.PubKey),
			ingest.DeviceRoute(link.SideZPubKey, link.SideAPubKey, link.PubKey),
		} {
			if stat, ok := deviceStats[route]; ok {
				lossSum += stat.LossRate
				found++
				if stat.SuccessSamples > 0 {
					p95Sum += stat.RTTP95
					measured++
				}
			}
		}
		if found > 0 {
			uptime = 1.0 - lossSum/float64(found)
			if measured > 0 {
				latencyMs = p95Sum / float64(measured) / usPerMs
			}
		} else {
			b.log.Debug("Private link has no telemetry, using defaults", "link", link.Code)
		}

		links = append(links, PrivateLink{
			Device1:   id1,
			Device2:   id2,
			LatencyMs: latencyMs,
			Bandwidth: float64(link.Bandwidth) / bpsPerGbps,
			Uptime:    uptime,
		})
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].Device1 != links[j].Device1 {
			return links[i].Device1 < links[j].Device1
		}
		return links[i].Device2 < links[j].Device2
	})
	return links
}

// BuildPublicLinks aggregates internet circuit statistics into per-city-pair
// latencies. Each exchange maps to the location sharing its code, falling
// back to the nearest location by coordinates. Circuits whose exchanges
// cannot be mapped are dropped with a diagnostic rather than guessed.
func (b *Builder) BuildPublicLinks(
	snap *serviceability.Snapshot,
	internetStats map[ingest.Route]stats.CircuitStat,
) []PublicLink {
	exchangeCity := b.exchangeCityMapping(snap)

	type cityPair struct{ c1, c2 string }
	latencies := make(map[cityPair][]float64)

	routes := make([]ingest.Route, 0, len(internetStats))
	for route := range internetStats {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].String() < routes[j].String() })

	for _, route := range routes {
		// Fully-lost circuits carry no RTT; a zero mean would drag the
		// city-pair average toward zero latency.
		if internetStats[route].SuccessSamples == 0 {
			b.log.Debug("Internet circuit has no successful probes, dropping", "route", route.String())
			continue
		}
		origin, okO := exchangeCity[route.Origin]
		target, okT := exchangeCity[route.Target]
		if !okO || !okT {
			b.log.Debug("Internet circuit has unmappable exchange, dropping", "route", route.String())
			continue
		}
		if origin == target {
			continue
		}
		pair := cityPair{origin, target}
		if pair.c2 < pair.c1 {
			pair.c1, pair.c2 = pair.c2, pair.c1
		}
		latencies[pair] = append(latencies[pair], internetStats[route].RTTMean/usPerMs)
	}

	links := make([]PublicLink, 0, len(latencies))
	for pair, ms := range latencies {
		var sum float64
		for _, v := range ms {
			sum += v
		}
		links = append(links, PublicLink{
			City1:     pair.c1,
			City2:     pair.c2,
			LatencyMs: sum / float64(len(ms)),
		})
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].City1 != links[j].City1 {
			return links[i].City1 < links[j].City1
		}
		return links[i].City2 < links[j].City2
	})
	return links
}

// BuildDemands derives the traffic matrix from where validators sit on the
// network. A validator joins through a Connected or Requested validator
// access pass, the pass's payer resolves to a user, and the user's device
// places it in a city. Demand priority is the destination city's share of
// stake among all destinations for that source, so each source's priorities
// sum to one.
func (b *Builder) BuildDemands(snap *serviceability.Snapshot, schedule *epoch.LeaderSchedule) ([]Demand, error) {
	payerToValidator := make(map[[32]byte][32]byte)
	for _, pass := range snap.AccessPasses {
		if pass.TypeTag != serviceability.AccessPassTypeSolanaValidator {
			continue
		}
		switch pass.Status {
		case serviceability.AccessPassStatusConnected, serviceability.AccessPassStatusRequested:
			if pass.AssociatedValidator == ([32]byte{}) {
				continue
			}
			payerToValidator[pass.UserPayer] = pass.AssociatedValidator
		}
	}

	type cityStat struct {
		validators int
		stakeProxy uint64
	}
	cities := make(map[string]*cityStat)
	validators := 0

	for _, user := range snap.Users {
		validatorPK, ok := payerToValidator[user.Owner]
		if !ok {
			continue
		}
		device, ok := snap.Devices[user.DevicePubKey]
		if !ok {
			continue
		}
		location, ok := snap.Locations[device.LocationPubKey]
		if !ok {
			continue
		}
		slots := schedule.SlotsByValidator[serviceability.PubKeyString(validatorPK)]

		code := strings.ToUpper(location.Code)
		stat, ok := cities[code]
		if !ok {
			stat = &cityStat{}
			cities[code] = stat
		}
		stat.validators++
		stat.stakeProxy += slots
		validators++
	}
	if validators == 0 {
		return nil, ErrNoValidators
	}

	codes := make([]string, 0, len(cities))
	for code := range cities {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	demands := make([]Demand, 0, len(codes)*(len(codes)-1))
	for _, start := range codes {
		var totalStake uint64
		for _, end := range codes {
			if end != start {
				totalStake += cities[end].stakeProxy
			}
		}
		for _, end := range codes {
			if end == start {
				continue
			}
			// When no destination holds leader slots, split priority
			// uniformly so each source's priorities still sum to one.
			priority := 1.0 / float64(len(codes)-1)
			if totalStake > 0 {
				priority = float64(cities[end].stakeProxy) / float64(totalStake)
			}
			demands = append(demands, Demand{
				Start:     start,
				End:       end,
				Receivers: cities[end].validators,
				Traffic:   demandTraffic,
				Priority:  priority,
				Kind:      demandKind,
				Multicast: false,
			})
		}
	}
	return demands, nil
}

func (b *Builder) cityCode(exchangeCode string) string {
	code := exchangeCode
	if b.cfg.StripExchangePrefix {
		code = strings.TrimPrefix(code, "x")
	}
	return strings.ToUpper(code)
}

// exchangeCityMapping resolves each exchange to a location code: an exact
// code match when one exists, otherwise the nearest location by coordinates.
func (b *Builder) exchangeCityMapping(snap *serviceability.Snapshot) map[[32]byte]string {
	out := make(map[[32]byte]string, len(snap.Exchanges))
	for pk, ex := range snap.Exchanges {
		code := b.cityCode(ex.Code)

		matched := false
		for _, loc := range snap.Locations {
			if strings.EqualFold(loc.Code, code) {
				out[pk] = strings.ToUpper(loc.Code)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		best, bestDist := "", proximityToleranceDeg*proximityToleranceDeg
		for _, loc := range snap.Locations {
			dLat := loc.Lat - ex.Lat
			dLng := loc.Lng - ex.Lng
			if dist := dLat*dLat + dLng*dLng; dist <= bestDist {
				best, bestDist = strings.ToUpper(loc.Code), dist
			}
		}
		if best != "" {
			out[pk] = best
		} else {
			b.log.Debug("Exchange maps to no location within tolerance", "exchange", ex.Code)
		}
	}
	return out
}
