package wtlfu

import "sync/atomic"

// StatsSnapshot is an immutable point-in-time copy of the counters a
// StatsCounter tracks (spec.md §6).
type StatsSnapshot struct {
	Hits         int64
	Misses       int64
	LoadSuccess  int64
	LoadFailure  int64
	TotalLoadNS  int64
	Evictions    int64
	EvictedWeight int64
}

// StatsCounter is the narrow external collaborator interface spec.md §6
// names; recordStats() installs atomicStatsCounter, otherwise the cache uses
// noopStatsCounter (spec.md §9: "provide zero-sized default implementations"
// instead of a global disabled-singleton).
type StatsCounter interface {
	RecordHits(count int)
	RecordMisses(count int)
	RecordLoadSuccess(loadNS int64)
	RecordLoadFailure(loadNS int64)
	RecordEviction(weight int)
	Snapshot() StatsSnapshot
}

type noopStatsCounter struct{}

func (noopStatsCounter) RecordHits(int)          {}
func (noopStatsCounter) RecordMisses(int)        {}
func (noopStatsCounter) RecordLoadSuccess(int64) {}
func (noopStatsCounter) RecordLoadFailure(int64) {}
func (noopStatsCounter) RecordEviction(int)      {}
func (noopStatsCounter) Snapshot() StatsSnapshot { return StatsSnapshot{} }

// atomicStatsCounter is the default recordStats() implementation: plain
// atomic counters, no locking, safe for concurrent increment from readers,
// writers, and maintenance alike.
type atomicStatsCounter struct {
	hits          atomic.Int64
	misses        atomic.Int64
	loadSuccess   atomic.Int64
	loadFailure   atomic.Int64
	totalLoadNS   atomic.Int64
	evictions     atomic.Int64
	evictedWeight atomic.Int64
}

func newAtomicStatsCounter() *atomicStatsCounter { return &atomicStatsCounter{} }

func (s *atomicStatsCounter) RecordHits(count int)   { s.hits.Add(int64(count)) }
func (s *atomicStatsCounter) RecordMisses(count int) { s.misses.Add(int64(count)) }

func (s *atomicStatsCounter) RecordLoadSuccess(loadNS int64) {
	s.loadSuccess.Add(1)
	s.totalLoadNS.Add(loadNS)
}

func (s *atomicStatsCounter) RecordLoadFailure(loadNS int64) {
	s.loadFailure.Add(1)
	s.totalLoadNS.Add(loadNS)
}

func (s *atomicStatsCounter) RecordEviction(weight int) {
	s.evictions.Add(1)
	s.evictedWeight.Add(int64(weight))
}

func (s *atomicStatsCounter) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		LoadSuccess:   s.loadSuccess.Load(),
		LoadFailure:   s.loadFailure.Load(),
		TotalLoadNS:   s.totalLoadNS.Load(),
		Evictions:     s.evictions.Load(),
		EvictedWeight: s.evictedWeight.Load(),
	}
}
