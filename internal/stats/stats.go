// Package stats reduces per-route RTT sample windows to the latency, jitter
// and loss statistics consumed by the reward computation.
package stats

import (
	"log/slog"
	"math"
	"sort"

	"github.com/malbeclabs/doublezero-rewards/internal/ingest"
)

// ewmaAlpha is the smoothing factor for the exponentially weighted jitter
// estimate, matching RFC 3550's 1/16 gain.
const ewmaAlpha = 1.0 / 16.0

// CircuitStat summarizes one route's samples inside the processing window.
// RTT figures are in microseconds.
type CircuitStat struct {
	Circuit string `json:"circuit"`

	TotalSamples   int     `json:"total_samples"`
	SuccessSamples int     `json:"success_samples"`
	LossSamples    int     `json:"loss_samples"`
	LossRate       float64 `json:"loss_rate"`

	RTTMean     float64 `json:"rtt_mean_us"`
	RTTMedian   float64 `json:"rtt_median_us"`
	RTTMin      float64 `json:"rtt_min_us"`
	RTTMax      float64 `json:"rtt_max_us"`
	RTTP90      float64 `json:"rtt_p90_us"`
	RTTP95      float64 `json:"rtt_p95_us"`
	RTTP99      float64 `json:"rtt_p99_us"`
	RTTStdDev   float64 `json:"rtt_stddev_us"`
	RTTVariance float64 `json:"rtt_variance_us"`

	JitterAvg     float64 `json:"jitter_avg_us"`
	JitterEWMA    float64 `json:"jitter_ewma_us"`
	JitterMax     float64 `json:"jitter_max_us"`
	JitterP2P     float64 `json:"jitter_peak_to_peak_us"`
}

type ProcessorConfig struct {
	Logger *slog.Logger

	// ExcludedProviders drops internet routes from these data providers
	// before any statistics are computed.
	ExcludedProviders map[string]struct{}
}

type Processor struct {
	log      *slog.Logger
	excluded map[string]struct{}
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Processor{log: log, excluded: cfg.ExcludedProviders}
}

// Process computes per-route statistics over every sample whose timestamp
// falls in [windowStart, windowEnd] microseconds. A zero RTT records a lost
// probe: it counts toward loss but never toward latency or jitter. A route
// whose in-range samples are all lost still reports its loss rate (1.0) with
// zeroed RTT and jitter fields, so a dead circuit is visible downstream as
// down rather than unmeasured. Only routes with no in-range samples at all
// are omitted.
func (p *Processor) Process(ds *ingest.Dataset, windowStart, windowEnd uint64) map[ingest.Route]CircuitStat {
	out := make(map[ingest.Route]CircuitStat, len(ds.Windows))
	for route, windows := range ds.Windows {
		if _, drop := p.excluded[route.Provider]; drop {
			p.log.Debug("Excluding provider route", "route", route.String())
			continue
		}

		var (
			rtts  []float64
			runs  [][]float64
			total int
		)
		for _, w := range windows {
			var run []float64
			for i, sample := range w.Samples {
				ts := w.StartTimestampMicros + uint64(i)*w.SamplingIntervalMicros
				if ts < windowStart || ts > windowEnd {
					continue
				}
				total++
				if sample == 0 {
					continue
				}
				rtts = append(rtts, float64(sample))
				run = append(run, float64(sample))
			}
			if len(run) > 0 {
				runs = append(runs, run)
			}
		}

		if total == 0 {
			continue
		}

		var stat CircuitStat
		if len(rtts) > 0 {
			stat = rttStats(rtts)
			stat.JitterAvg, stat.JitterEWMA, stat.JitterMax, stat.JitterP2P = jitterStats(runs)
		} else {
			p.log.Debug("Route has only lost probes in window", "route", route.String())
		}
		stat.Circuit = route.String()
		stat.TotalSamples = total
		stat.SuccessSamples = len(rtts)
		stat.LossSamples = total - len(rtts)
		stat.LossRate = float64(stat.LossSamples) / float64(total)
		out[route] = stat
	}
	return out
}

func rttStats(rtts []float64) CircuitStat {
	sorted := append([]float64(nil), rtts...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(len(sorted))
	if variance < 0 {
		variance = 0
	}

	return CircuitStat{
		RTTMean:     mean,
		RTTMedian:   Percentile(sorted, 0.5),
		RTTMin:      sorted[0],
		RTTMax:      sorted[len(sorted)-1],
		RTTP90:      Percentile(sorted, 0.90),
		RTTP95:      Percentile(sorted, 0.95),
		RTTP99:      Percentile(sorted, 0.99),
		RTTStdDev:   math.Sqrt(variance),
		RTTVariance: variance,
	}
}

// Percentile returns the value at floor(ratio*len) in the sorted slice,
// clamped to the last element. No interpolation between ranks.
func Percentile(sorted []float64, ratio float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(ratio * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// jitterStats derives jitter from successive successful samples. Deltas are
// only taken within a run (one sample window), never across window boundaries
// where the gap between samples is unknown. Averaged figures combine across
// runs by averaging, extremes by taking the maximum.
func jitterStats(runs [][]float64) (avg, ewma, max, p2p float64) {
	var (
		avgSum, ewmaSum float64
		runsWithDeltas  int
	)
	for _, run := range runs {
		if len(run) < 2 {
			continue
		}
		var (
			deltaSum  float64
			runEWMA   float64
			runMin    = run[0]
			runMax    = run[0]
			numDeltas int
		)
		for i := 1; i < len(run); i++ {
			delta := math.Abs(run[i] - run[i-1])
			deltaSum += delta
			numDeltas++
			if numDeltas == 1 {
				runEWMA = delta
			} else {
				runEWMA += ewmaAlpha * (delta - runEWMA)
			}
			if run[i] < runMin {
				runMin = run[i]
			}
			if run[i] > runMax {
				runMax = run[i]
			}
		}
		avgSum += deltaSum / float64(numDeltas)
		ewmaSum += runEWMA
		if deltaMax := maxDelta(run); deltaMax > max {
			max = deltaMax
		}
		if runMax-runMin > p2p {
			p2p = runMax - runMin
		}
		runsWithDeltas++
	}
	if runsWithDeltas == 0 {
		return 0, 0, 0, 0
	}
	return avgSum / float64(runsWithDeltas), ewmaSum / float64(runsWithDeltas), max, p2p
}

func maxDelta(run []float64) float64 {
	var max float64
	for i := 1; i < len(run); i++ {
		if d := math.Abs(run[i] - run[i-1]); d > max {
			max = d
		}
	}
	return max
}
