// Package metrics records how long tablecache operations take.
//
// Components receive a Collector at construction time and report every public
// operation through it. Stats keeps per-operation call counts and cumulative
// durations in memory and renders a one-line report that resets the counters;
// Prometheus exports the same observations as a histogram.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scopes used by tablecache components.
const (
	ScopeDAL   = "dal"
	ScopeRedis = "redis"
)

// Collector receives operation timings.
type Collector interface {
	RecordDuration(scope, op string, elapsed time.Duration)
}

// Track starts timing op and returns a function that records the elapsed time.
//
//	defer metrics.Track(c, metrics.ScopeDAL, "find_one")()
func Track(c Collector, scope, op string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		c.RecordDuration(scope, op, time.Since(start))
	}
}

// Nop discards every observation.
type Nop struct{}

// RecordDuration implements Collector.
func (Nop) RecordDuration(string, string, time.Duration) {}

// Fanout forwards observations to several collectors.
type Fanout []Collector

// RecordDuration implements Collector.
func (f Fanout) RecordDuration(scope, op string, elapsed time.Duration) {
	for _, c := range f {
		if c != nil {
			c.RecordDuration(scope, op, elapsed)
		}
	}
}

type opStat struct {
	count int64
	cost  time.Duration
}

// Stats accumulates call counts and durations per scope and operation.
type Stats struct {
	mu     sync.Mutex
	scopes map[string]map[string]*opStat
}

// NewStats creates an empty Stats collector.
func NewStats() *Stats {
	return &Stats{scopes: make(map[string]map[string]*opStat)}
}

// RecordDuration implements Collector.
func (s *Stats) RecordDuration(scope, op string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, ok := s.scopes[scope]
	if !ok {
		ops = make(map[string]*opStat)
		s.scopes[scope] = ops
	}
	st, ok := ops[op]
	if !ok {
		st = &opStat{}
		ops[op] = st
	}
	st.count++
	st.cost += elapsed
}

// Count returns how many times op was recorded in scope since the last report.
func (s *Stats) Count(scope, op string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.scopes[scope][op]; ok {
		return st.count
	}
	return 0
}

// Report renders the counters of scope and resets them. It returns an empty
// string when nothing was recorded.
//
//	STAT-dal-exec count:[find_one:3] - cost:[find_one:0.012s] - average:[find_one:0.004s]
func (s *Stats) Report(scope string) string {
	s.mu.Lock()
	ops := s.scopes[scope]
	delete(s.scopes, scope)
	s.mu.Unlock()

	if len(ops) == 0 {
		return ""
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make([]string, 0, len(names))
	costs := make([]string, 0, len(names))
	averages := make([]string, 0, len(names))
	for _, name := range names {
		st := ops[name]
		counts = append(counts, fmt.Sprintf("%s:%d", name, st.count))
		costs = append(costs, fmt.Sprintf("%s:%.3fs", name, st.cost.Seconds()))
		averages = append(averages, fmt.Sprintf("%s:%.3fs", name, st.cost.Seconds()/float64(st.count)))
	}

	return fmt.Sprintf("STAT-%s-exec count:[%s] - cost:[%s] - average:[%s]",
		scope, strings.Join(counts, " "), strings.Join(costs, " "), strings.Join(averages, " "))
}
