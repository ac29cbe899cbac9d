package query

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

const (
	hourInterval = 60
	dayInterval  = 1440
)

var timeRangePattern = regexp.MustCompile(`^(\d+)_(hours|days)$`)

// ParseTimeRange turns a legacy "<N>_hours" or "<N>_days" token into a
// window ending at the end of now's UTC day. Hours bucket by 60 minutes,
// days by 1440.
func ParseTimeRange(token string, now time.Time) (model.Windowing, error) {
	m := timeRangePattern.FindStringSubmatch(token)
	if m == nil {
		return model.Windowing{}, errs.Validation("time_range", "expected <N>_hours or <N>_days, got %q", token)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return model.Windowing{}, errs.Validation("time_range", "count must be a positive integer")
	}

	now = now.UTC()
	newest := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)

	var oldest time.Time
	var interval int
	switch m[2] {
	case "hours":
		oldest = newest.Add(-time.Duration(n) * time.Hour)
		interval = hourInterval
	default:
		oldest = newest.AddDate(0, 0, -n)
		interval = dayInterval
	}
	return model.Windowing{Oldest: &oldest, Newest: &newest, Interval: &interval}, nil
}

// BucketStart returns the start of the interval-minute bucket that contains
// t, with buckets aligned on oldest.
func BucketStart(t, oldest time.Time, interval int) time.Time {
	width := time.Duration(interval) * time.Minute
	return oldest.Add(t.Sub(oldest) / width * width)
}

// FillBuckets returns one bucket per interval between the window bounds,
// taking values from the given buckets and zeros elsewhere.
func FillBuckets(buckets []model.Bucket, w model.Windowing) []model.Bucket {
	if w.Oldest == nil || w.Newest == nil || w.Interval == nil {
		sort.Slice(buckets, func(i, j int) bool { return buckets[i].Timestamp.Before(buckets[j].Timestamp) })
		return buckets
	}
	byStart := make(map[int64]model.Bucket, len(buckets))
	for _, b := range buckets {
		byStart[b.Timestamp.Unix()] = b
	}
	width := time.Duration(*w.Interval) * time.Minute
	var out []model.Bucket
	for ts := w.Oldest.UTC(); !ts.After(*w.Newest); ts = ts.Add(width) {
		b, ok := byStart[ts.Unix()]
		if !ok {
			b = model.Bucket{Timestamp: ts, Window: *w.Interval}
		}
		out = append(out, b)
	}
	return out
}

// Summarize converts buckets to the legacy analytics shape. Durations in the
// buckets are microseconds; latency is reported in milliseconds.
func Summarize(buckets []model.Bucket) model.AnalyticsSummary {
	summary := model.AnalyticsSummary{Data: make([]model.AnalyticsPoint, 0, len(buckets))}

	var failures int64
	var weightedLatency float64
	for _, b := range buckets {
		var latency float64
		if b.Total.Count > 0 {
			latency = (b.Total.Duration / float64(b.Total.Count)) / 1000
		}
		summary.Data = append(summary.Data, model.AnalyticsPoint{
			Timestamp:    b.Timestamp,
			SuccessCount: b.Total.Count - b.Error.Count,
			FailureCount: b.Error.Count,
			Cost:         b.Total.Cost,
			LatencyMS:    latency,
			TotalTokens:  b.Total.Tokens,
		})
		summary.TotalCount += b.Total.Count
		summary.TotalCost += b.Total.Cost
		summary.TotalTokens += b.Total.Tokens
		failures += b.Error.Count
		weightedLatency += latency * float64(b.Total.Count)
	}

	if summary.TotalCount > 0 {
		total := float64(summary.TotalCount)
		summary.FailureRate = float64(failures) / total
		summary.AvgCost = summary.TotalCost / total
		summary.AvgLatency = weightedLatency / total
		summary.AvgTokens = summary.TotalTokens / total
	}
	return summary
}
