package analytics

import (
	"sort"

	"github.com/vigil-ai/vigil/pkg/types"
)

// Token histogram bucket lower bounds; the final bucket is open-ended.
var tokenBucketBounds = []int64{0, 100, 500, 2000, 10000}

// agentModelBreakdown groups units by (agent, model) and classifies each
// pair: the model with the highest request count for an agent is that
// agent's primary model, all others are secondary. Distributions are
// attached on request.
func (e *Engine) agentModelBreakdown(units []requestUnit, q types.MetricsQuery) []types.BreakdownEntry {
	type pair struct{ agent, model string }
	groups := make(map[pair][]requestUnit)
	for _, u := range units {
		k := pair{u.AgentID, u.Model}
		groups[k] = append(groups[k], u)
	}

	pairs := make([]pair, 0, len(groups))
	for k := range groups {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].agent != pairs[j].agent {
			return pairs[i].agent < pairs[j].agent
		}
		return pairs[i].model < pairs[j].model
	})

	// Primary = highest request count per agent; ties go to the model name
	// that sorts first, keeping classification deterministic.
	primary := make(map[string]pair)
	for _, k := range pairs {
		best, ok := primary[k.agent]
		if !ok || len(groups[k]) > len(groups[best]) {
			primary[k.agent] = k
		}
	}

	out := make([]types.BreakdownEntry, 0, len(pairs))
	for _, k := range pairs {
		entry := types.BreakdownEntry{
			Key:          k.agent + "/" + k.model,
			Metrics:      e.computeMetrics(groups[k]),
			RelationType: types.RelationSecondary,
		}
		if primary[k.agent] == k {
			entry.RelationType = types.RelationPrimary
		}
		if q.IncludeDistributions {
			entry.TimeDistribution = timeSeries(groups[k], q.Granularity)
			entry.TokenDistribution = tokenHistogram(groups[k])
		}
		out = append(out, entry)
	}
	return out
}

// timeSeries emits per-bucket request and token counts over the group's
// observed span. Gaps are filled with zero points.
func timeSeries(units []requestUnit, g types.Granularity) []types.TimeBucketPoint {
	if len(units) == 0 {
		return nil
	}

	counts := make(map[int64]*types.TimeBucketPoint)
	first := bucketOf(units[0].Timestamp, g)
	last := first
	for _, u := range units {
		b := bucketOf(u.Timestamp, g)
		if b.Before(first) {
			first = b
		}
		if b.After(last) {
			last = b
		}
		pt, ok := counts[b.UnixNano()]
		if !ok {
			pt = &types.TimeBucketPoint{Bucket: b}
			counts[b.UnixNano()] = pt
		}
		pt.RequestCount++
		pt.TokenCountTotal += u.Total
	}

	var out []types.TimeBucketPoint
	for b := first; !b.After(last); b = nextBucket(b, g) {
		if pt, ok := counts[b.UnixNano()]; ok {
			out = append(out, *pt)
		} else {
			out = append(out, types.TimeBucketPoint{Bucket: b})
		}
	}
	return out
}

// tokenHistogram counts units into the fixed-boundary buckets by total
// token count. The final bucket is open-ended (Upper = -1).
func tokenHistogram(units []requestUnit) []types.TokenBucket {
	out := make([]types.TokenBucket, len(tokenBucketBounds))
	for i, lower := range tokenBucketBounds {
		out[i].Lower = lower
		if i+1 < len(tokenBucketBounds) {
			out[i].Upper = tokenBucketBounds[i+1]
		} else {
			out[i].Upper = -1
		}
	}
	for _, u := range units {
		for i := len(out) - 1; i >= 0; i-- {
			if u.Total >= out[i].Lower {
				out[i].Count++
				break
			}
		}
	}
	return out
}
