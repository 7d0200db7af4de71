package types

import "time"

// Granularity is the time-bucket width for time-dimension breakdowns.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay:
		return true
	}
	return false
}

// Duration returns the bucket width. Day buckets are truncated to calendar
// days in UTC by the aggregation engine; the 24h value here is only used for
// generating bucket sequences.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Dimension is the attribute by which aggregate metrics are grouped.
type Dimension string

const (
	DimensionNone       Dimension = "none"
	DimensionAgent      Dimension = "agent"
	DimensionModel      Dimension = "model"
	DimensionTime       Dimension = "time"
	DimensionAgentModel Dimension = "agent_model"
)

// Valid reports whether d is a supported breakdown dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionNone, DimensionAgent, DimensionModel, DimensionTime, DimensionAgentModel:
		return true
	}
	return false
}

// Relation classifications for agent×model breakdowns.
const (
	RelationPrimary   = "primary"
	RelationSecondary = "secondary"
)

// MetricsFilter narrows the row set an aggregation runs over. Zero values
// mean "no constraint"; the time window is half-open [From, To).
type MetricsFilter struct {
	AgentID string
	TraceID string
	Model   string
	From    *time.Time
	To      *time.Time
}

// MetricsQuery is the full input of one aggregation evaluation.
type MetricsQuery struct {
	Filter               MetricsFilter
	Granularity          Granularity
	Breakdown            Dimension
	IncludeDistributions bool
}

// Metrics is the per-group aggregate statistic block. Rates and averages
// over an empty group are zero; FirstSeen/LastSeen are nil for an empty
// group.
type Metrics struct {
	RequestCount     int        `json:"request_count"`
	ResponseTimeAvg  float64    `json:"response_time_avg"`
	ResponseTimeP95  float64    `json:"response_time_p95"`
	SuccessRate      float64    `json:"success_rate"`
	ErrorRate        float64    `json:"error_rate"`
	TokenCountInput  int64      `json:"token_count_input"`
	TokenCountOutput int64      `json:"token_count_output"`
	TokenCountTotal  int64      `json:"token_count_total"`
	EstimatedCost    float64    `json:"estimated_cost"`
	FirstSeen        *time.Time `json:"first_seen"`
	LastSeen         *time.Time `json:"last_seen"`
}

// TimeBucketPoint is one entry of a time-bucketed series.
type TimeBucketPoint struct {
	Bucket          time.Time `json:"bucket"`
	RequestCount    int       `json:"request_count"`
	TokenCountTotal int64     `json:"token_count_total"`
}

// TokenBucket is one bucket of the fixed-boundary token-count histogram.
// Upper < 0 marks the open-ended final bucket.
type TokenBucket struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
	Count int   `json:"count"`
}

// BreakdownEntry is one group of a broken-down aggregation result.
// RelationType and the distributions are populated only in agent×model mode.
type BreakdownEntry struct {
	Key               string            `json:"key"`
	Metrics           Metrics           `json:"metrics"`
	RelationType      string            `json:"relation_type,omitempty"`
	TimeDistribution  []TimeBucketPoint `json:"time_distribution,omitempty"`
	TokenDistribution []TokenBucket     `json:"token_distribution,omitempty"`
}

// AggregateResult pairs the ungrouped total with the per-group breakdown so
// the two are always consistent for the same filter.
type AggregateResult struct {
	Total     Metrics          `json:"total"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}
