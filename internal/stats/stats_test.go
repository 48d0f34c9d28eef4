package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersAndSnapshot(t *testing.T) {
	s := NewStatistics()

	s.IncrementSourcesLoaded()
	s.IncrementSourcesRejected()
	s.IncrementEncodesIssued()
	s.IncrementEncodesIssued()
	s.IncrementEncodesCompleted()
	s.IncrementEncodesFailed()
	s.IncrementEncodesSuperseded()
	s.AddBytesIn(1536)
	s.AddBytesOut(1024)

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap["sources_loaded"])
	assert.Equal(t, int64(1), snap["sources_rejected"])
	assert.Equal(t, int64(2), snap["encodes_issued"])
	assert.Equal(t, int64(1), snap["encodes_completed"])
	assert.Equal(t, int64(1), snap["encodes_failed"])
	assert.Equal(t, int64(1), snap["encodes_superseded"])
	assert.Equal(t, int64(1536), snap["bytes_in"])
	assert.Equal(t, int64(1024), snap["bytes_out"])
}

func TestGetSummary(t *testing.T) {
	s := NewStatistics()
	s.AddBytesIn(1536)
	s.AddBytesOut(1048576)

	summary := s.GetSummary()
	assert.Contains(t, summary, "1.5 KB")
	assert.Contains(t, summary, "1 MB")
	assert.Contains(t, summary, "Encodes:")
}
