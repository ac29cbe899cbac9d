package model

import "time"

// BucketMetrics aggregates one class of traces inside a bucket. Duration is
// in microseconds.
type BucketMetrics struct {
	Count    int64   `json:"count"`
	Duration float64 `json:"duration"`
	Cost     float64 `json:"cost"`
	Tokens   float64 `json:"tokens"`
}

// Bucket is one time slice of aggregated traces.
type Bucket struct {
	Timestamp time.Time     `json:"timestamp"`
	Window    int           `json:"window"`
	Total     BucketMetrics `json:"total"`
	Error     BucketMetrics `json:"error"`
}

// AnalyticsPoint is one bucket in the legacy analytics shape.
type AnalyticsPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	Cost         float64   `json:"cost"`
	LatencyMS    float64   `json:"latency"`
	TotalTokens  float64   `json:"total_tokens"`
}

// AnalyticsSummary is the legacy analytics response.
type AnalyticsSummary struct {
	Data        []AnalyticsPoint `json:"data"`
	TotalCount  int64            `json:"total_count"`
	FailureRate float64          `json:"failure_rate"`
	TotalCost   float64          `json:"total_cost"`
	AvgCost     float64          `json:"avg_cost"`
	AvgLatency  float64          `json:"avg_latency"`
	TotalTokens float64          `json:"total_tokens"`
	AvgTokens   float64          `json:"avg_tokens"`
}
