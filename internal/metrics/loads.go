package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// LoadStats aggregates inventory loads against one server.
type LoadStats struct {
	UpdatedAt         time.Time `json:"updated_at"`
	Total             int64     `json:"total"`
	Errors            int64     `json:"errors"`
	Timeouts          int64     `json:"timeouts"`
	LastTools         int       `json:"last_tools"`
	TotalLatencyMs    int64     `json:"total_latency_ms"`
	MaxLatencyMs      int64     `json:"max_latency_ms"`
	LastLatencyMs     int64     `json:"last_latency_ms"`
	P95ProxyLatencyMs int64     `json:"p95_proxy_latency_ms"`
	LastError         string    `json:"last_error,omitempty"`
}

// ErrorRatio returns errors/total in [0,1].
func (s LoadStats) ErrorRatio() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (s LoadStats) AvgLatencyMs() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.TotalLatencyMs) / float64(s.Total)
}

// LoadRecorder records inventory load outcomes. The zero value is not usable;
// a nil *LoadRecorder ignores every call.
type LoadRecorder struct {
	mu      sync.Mutex
	stats   LoadStats
	buckets []int64
}

func NewLoadRecorder() *LoadRecorder {
	return &LoadRecorder{buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1)}
}

// Stats returns the current aggregate.
func (r *LoadRecorder) Stats() LoadStats {
	if r == nil {
		return LoadStats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Record adds one load that took duration and returned tools tools or loadErr.
func (r *LoadRecorder) Record(duration time.Duration, tools int, loadErr error) LoadStats {
	if r == nil {
		return LoadStats{}
	}

	latencyMs := max(duration.Milliseconds(), 0)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.UpdatedAt = time.Now().UTC()
	r.stats.Total++
	r.stats.TotalLatencyMs += latencyMs
	r.stats.LastLatencyMs = latencyMs
	r.stats.MaxLatencyMs = max(r.stats.MaxLatencyMs, latencyMs)
	if loadErr != nil {
		r.stats.Errors++
		r.stats.LastError = loadErr.Error()
		if isTimeoutError(loadErr) {
			r.stats.Timeouts++
		}
	} else {
		r.stats.LastTools = tools
		r.stats.LastError = ""
	}

	r.buckets[latencyBucketIndex(latencyMs)]++
	r.stats.P95ProxyLatencyMs = p95ProxyFromBuckets(r.buckets, r.stats.Total)
	return r.stats
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := max(int64(float64(total)*0.95), 1)

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			break
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(err.Error())
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}
