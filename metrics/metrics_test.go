package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsReportResets(t *testing.T) {
	s := NewStats()
	s.RecordDuration(ScopeDAL, "find_one", 10*time.Millisecond)
	s.RecordDuration(ScopeDAL, "find_one", 30*time.Millisecond)
	s.RecordDuration(ScopeDAL, "update", 5*time.Millisecond)
	s.RecordDuration(ScopeRedis, "get", time.Millisecond)

	assert.Equal(t, int64(2), s.Count(ScopeDAL, "find_one"))

	report := s.Report(ScopeDAL)
	assert.Equal(t,
		"STAT-dal-exec count:[find_one:2 update:1] - cost:[find_one:0.040s update:0.005s] - average:[find_one:0.020s update:0.005s]",
		report)

	assert.Empty(t, s.Report(ScopeDAL), "report should reset the scope")
	assert.Equal(t, int64(1), s.Count(ScopeRedis, "get"), "other scopes are untouched")
}

func TestTrack(t *testing.T) {
	s := NewStats()
	done := Track(s, ScopeRedis, "set")
	done()
	assert.Equal(t, int64(1), s.Count(ScopeRedis, "set"))

	// nil collector is tolerated
	Track(nil, ScopeRedis, "set")()
}

func TestFanoutAndPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	s := NewStats()
	f := Fanout{s, p, Nop{}, nil}
	f.RecordDuration(ScopeDAL, "find", 2*time.Millisecond)

	assert.Equal(t, int64(1), s.Count(ScopeDAL, "find"))
	assert.Equal(t, 1, testutil.CollectAndCount(p.durations))
}
