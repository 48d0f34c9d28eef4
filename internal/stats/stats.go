// Package stats tracks counters for the compression service.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"imgpress/internal/sizefmt"
)

// Statistics contains counters for source loads and encode activity. Counter
// fields are updated atomically and may be read concurrently.
type Statistics struct {
	SourcesLoaded     int64
	SourcesRejected   int64
	EncodesIssued     int64
	EncodesCompleted  int64
	EncodesFailed     int64
	EncodesSuperseded int64
	BytesIn           int64
	BytesOut          int64

	StartTime time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// IncrementSourcesLoaded increases the count of loaded source images by 1.
func (s *Statistics) IncrementSourcesLoaded() {
	atomic.AddInt64(&s.SourcesLoaded, 1)
}

// IncrementSourcesRejected increases the count of rejected uploads by 1.
func (s *Statistics) IncrementSourcesRejected() {
	atomic.AddInt64(&s.SourcesRejected, 1)
}

// IncrementEncodesIssued increases the count of issued encode requests by 1.
func (s *Statistics) IncrementEncodesIssued() {
	atomic.AddInt64(&s.EncodesIssued, 1)
}

// IncrementEncodesCompleted increases the count of applied encode results by 1.
func (s *Statistics) IncrementEncodesCompleted() {
	atomic.AddInt64(&s.EncodesCompleted, 1)
}

// IncrementEncodesFailed increases the count of failed encodes by 1.
func (s *Statistics) IncrementEncodesFailed() {
	atomic.AddInt64(&s.EncodesFailed, 1)
}

// IncrementEncodesSuperseded increases the count of encode requests
// superseded before or after execution by 1.
func (s *Statistics) IncrementEncodesSuperseded() {
	atomic.AddInt64(&s.EncodesSuperseded, 1)
}

// AddBytesIn adds to the total bytes received as source images.
func (s *Statistics) AddBytesIn(n int64) {
	atomic.AddInt64(&s.BytesIn, n)
}

// AddBytesOut adds to the total bytes produced by applied encodes.
func (s *Statistics) AddBytesOut(n int64) {
	atomic.AddInt64(&s.BytesOut, n)
}

// Snapshot returns the counters as a map for API responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"sources_loaded":     atomic.LoadInt64(&s.SourcesLoaded),
		"sources_rejected":   atomic.LoadInt64(&s.SourcesRejected),
		"encodes_issued":     atomic.LoadInt64(&s.EncodesIssued),
		"encodes_completed":  atomic.LoadInt64(&s.EncodesCompleted),
		"encodes_failed":     atomic.LoadInt64(&s.EncodesFailed),
		"encodes_superseded": atomic.LoadInt64(&s.EncodesSuperseded),
		"bytes_in":           atomic.LoadInt64(&s.BytesIn),
		"bytes_out":          atomic.LoadInt64(&s.BytesOut),
		"uptime_seconds":     int64(time.Since(s.StartTime).Seconds()),
	}
}

// GetSummary returns a formatted summary of all counters.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`ImgPress Statistics:

Sources:
		Loaded: %d
		Rejected: %d

Encodes:
		Issued: %d
		Completed: %d
		Failed: %d
		Superseded: %d

Throughput:
		Bytes In: %s
		Bytes Out: %s
		Uptime: %v`,
		atomic.LoadInt64(&s.SourcesLoaded),
		atomic.LoadInt64(&s.SourcesRejected),
		atomic.LoadInt64(&s.EncodesIssued),
		atomic.LoadInt64(&s.EncodesCompleted),
		atomic.LoadInt64(&s.EncodesFailed),
		atomic.LoadInt64(&s.EncodesSuperseded),
		sizefmt.FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		sizefmt.FormatBytes(atomic.LoadInt64(&s.BytesOut)),
		time.Since(s.StartTime).Round(time.Second))
}
