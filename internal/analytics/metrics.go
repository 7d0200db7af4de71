package analytics

import (
	"math"
	"sort"

	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// computeMetrics aggregates one group of request units. Every rate and
// average over an empty group is zero and the seen window is nil; callers
// never have to special-case empty buckets.
func (e *Engine) computeMetrics(units []requestUnit) types.Metrics {
	var m types.Metrics
	if len(units) == 0 {
		return m
	}
	m.RequestCount = len(units)

	var (
		durations          []float64
		durationSum        float64
		successes, errored int
	)
	first, last := units[0].Timestamp, units[0].Timestamp
	for _, u := range units {
		if u.Timestamp.Before(first) {
			first = u.Timestamp
		}
		if u.Timestamp.After(last) {
			last = u.Timestamp
		}
		if u.DurationMS != nil {
			d := float64(*u.DurationMS)
			durations = append(durations, d)
			durationSum += d
		}
		switch u.Status {
		case model.StatusSuccess:
			successes++
		case model.StatusError:
			errored++
		}
		m.TokenCountInput += u.Input
		m.TokenCountOutput += u.Output
		m.TokenCountTotal += u.Total
		m.EstimatedCost += e.unitCost(u)
	}
	m.FirstSeen = &first
	m.LastSeen = &last

	if len(durations) > 0 {
		m.ResponseTimeAvg = durationSum / float64(len(durations))
		sort.Float64s(durations)
		m.ResponseTimeP95 = nearestRank(durations, 95)
	}
	// Records with no terminal status stay out of the denominator.
	if terminal := successes + errored; terminal > 0 {
		m.SuccessRate = float64(successes) / float64(terminal)
		m.ErrorRate = float64(errored) / float64(terminal)
	}
	return m
}

func (e *Engine) unitCost(u requestUnit) float64 {
	var cost float64
	if p, ok := e.pricer.Price(u.Model, TokenKindInput); ok {
		cost += float64(u.Input) * p
	}
	if p, ok := e.pricer.Price(u.Model, TokenKindOutput); ok {
		cost += float64(u.Output) * p
	}
	return cost
}

// nearestRank returns the p-th percentile of sorted samples by the
// nearest-rank method: rank = ceil(p/100 × n), 1-based. No interpolation, so
// small fixtures produce exact assertable values.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
