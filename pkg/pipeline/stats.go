package pipeline

import "sync/atomic"

// StageStats holds the per-stage atomic counters described in §5: monotone,
// relaxed-atomic, read lock-free by the Monitor.
type StageStats struct {
	Enqueued  atomic.Int64
	Processed atomic.Int64
	Retried   atomic.Int64
	Dropped   atomic.Int64
}

func (s *StageStats) snapshot() stageSnapshot {
	return stageSnapshot{
		Enqueued:  s.Enqueued.Load(),
		Processed: s.Processed.Load(),
		Retried:   s.Retried.Load(),
		Dropped:   s.Dropped.Load(),
	}
}

type stageSnapshot struct {
	Enqueued  int64
	Processed int64
	Retried   int64
	Dropped   int64
}

// Stats aggregates the stats for every stage plus the shared "total rows
// known" gauge and the committed counter, which the Monitor bounds
// against observer.Processed per the monotone-progress invariant.
type Stats struct {
	Observer   StageStats
	Receiver   StageStats
	Storer     StageStats
	Committer  StageStats
	Committed  atomic.Int64
	TotalKnown atomic.Int64

	shutdownFlag atomic.Bool
	fatalErr     atomic.Value // stores error
}

// NewStats returns a zeroed Stats block.
func NewStats() *Stats {
	return &Stats{}
}

// RequestShutdown sets the process-wide shutdown flag. Idempotent. All
// stages poll this between queue operations (§9).
func (s *Stats) RequestShutdown() {
	s.shutdownFlag.Store(true)
}

// ShuttingDown reports whether a shutdown has been requested, either by
// interrupt or by a fatal error in another stage.
func (s *Stats) ShuttingDown() bool {
	return s.shutdownFlag.Load()
}

// SetFatal records the first fatal error and raises the shutdown flag. Only
// the first call has effect; later calls are no-ops so the original cause
// is preserved.
func (s *Stats) SetFatal(err error) {
	if err == nil {
		return
	}
	if s.fatalErr.CompareAndSwap(nil, fatalBox{err}) {
		s.shutdownFlag.Store(true)
	}
}

// Fatal returns the first fatal error recorded, or nil.
func (s *Stats) Fatal() error {
	v := s.fatalErr.Load()
	if v == nil {
		return nil
	}
	return v.(fatalBox).err
}

// fatalBox wraps an error so atomic.Value (which rejects nil and requires
// a single concrete type) can store it.
type fatalBox struct{ err error }
