package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Monitor periodically snapshots the pipeline's atomic counters and queue
// depths and writes a human-readable status block to its writer. It never
// blocks the pipeline and never mutates shared state — it only reads.
type Monitor struct {
	stats          *Stats
	qr, qs, qc     *Queue
	interval       time.Duration
	out            io.Writer
	start          time.Time
	prev           monitorSample
	prevQueueDepth struct{ qr, qs, qc int64 }
	metrics        *Metrics
}

// WithMetrics attaches a Prometheus sampler, updated on every tick
// alongside the printed status block. Optional; nil is a no-op.
func (m *Monitor) WithMetrics(metrics *Metrics) *Monitor {
	m.metrics = metrics
	return m
}

type monitorSample struct {
	observer, receiver, storer, committer int64
}

// NewMonitor constructs a Monitor writing status blocks to out every
// interval.
func NewMonitor(stats *Stats, qr, qs, qc *Queue, interval time.Duration, out io.Writer) *Monitor {
	return &Monitor{stats: stats, qr: qr, qs: qs, qc: qc, interval: interval, out: out}
}

// Run samples on a fixed tick until ctx is cancelled by the caller, then
// prints one final summary and returns. The caller is responsible for
// cancelling ctx only after every worker stage has exited, so the final
// summary reflects the completed run.
func (m *Monitor) Run(ctx context.Context) error {
	m.start = time.Now()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.print(time.Since(m.start))
			return nil
		case <-ticker.C:
			m.print(m.interval)
		}
	}
}

func (m *Monitor) print(elapsedSinceLastSample time.Duration) {
	if m.metrics != nil {
		m.metrics.Sample(m.stats, m.qr, m.qs, m.qc)
	}

	now := time.Now()
	sample := monitorSample{
		observer:  m.stats.Observer.Processed.Load(),
		receiver:  m.stats.Receiver.Processed.Load(),
		storer:    m.stats.Storer.Processed.Load(),
		committer: m.stats.Committer.Processed.Load(),
	}

	dt := elapsedSinceLastSample.Seconds()
	if dt <= 0 {
		dt = m.interval.Seconds()
	}
	sinceStart := now.Sub(m.start).Seconds()
	if sinceStart <= 0 {
		sinceStart = 1
	}

	committed := m.stats.Committed.Load()
	totalKnown := m.stats.TotalKnown.Load()
	pct := 0.0
	if totalKnown > 0 {
		pct = 100 * float64(committed) / float64(totalKnown)
	}

	qrDepth, qsDepth, qcDepth := m.qr.Depth(), m.qs.Depth(), m.qc.Depth()

	fmt.Fprintf(m.out, "****************************************\n")
	fmt.Fprintf(m.out, "%s  (updated every %ds)\n", now.Format(time.RFC3339), int(m.interval.Seconds()))
	fmt.Fprintf(m.out, "progress: %d/%d committed (%.1f%%)\n", committed, totalKnown, pct)

	fmt.Fprintf(m.out, "observer : processed=%-8d speed=%.1f/s avg=%.1f/s\n",
		sample.observer, float64(sample.observer-m.prev.observer)/dt, float64(sample.observer)/sinceStart)
	fmt.Fprintf(m.out, "receiver : processed=%-8d speed=%.1f/s avg=%.1f/s retried=%d dropped=%d\n",
		sample.receiver, float64(sample.receiver-m.prev.receiver)/dt, float64(sample.receiver)/sinceStart,
		m.stats.Receiver.Retried.Load(), m.stats.Receiver.Dropped.Load())
	fmt.Fprintf(m.out, "storer   : processed=%-8d speed=%.1f/s avg=%.1f/s dropped=%d\n",
		sample.storer, float64(sample.storer-m.prev.storer)/dt, float64(sample.storer)/sinceStart,
		m.stats.Storer.Dropped.Load())
	fmt.Fprintf(m.out, "committer: processed=%-8d speed=%.1f/s avg=%.1f/s committed=%d\n",
		sample.committer, float64(sample.committer-m.prev.committer)/dt, float64(sample.committer)/sinceStart, committed)

	fmt.Fprintf(m.out, "Qr: %d/%d (%.0f%% full) Δ%+d\n", qrDepth, m.qr.Cap(), fullPct(qrDepth, m.qr.Cap()), qrDepth-m.prevQueueDepth.qr)
	fmt.Fprintf(m.out, "Qs: %d/%d (%.0f%% full) Δ%+d\n", qsDepth, m.qs.Cap(), fullPct(qsDepth, m.qs.Cap()), qsDepth-m.prevQueueDepth.qs)
	fmt.Fprintf(m.out, "Qc: %d/%d (%.0f%% full) Δ%+d\n", qcDepth, m.qc.Cap(), fullPct(qcDepth, m.qc.Cap()), qcDepth-m.prevQueueDepth.qc)
	fmt.Fprintf(m.out, "****************************************\n")

	m.prev = sample
	m.prevQueueDepth.qr, m.prevQueueDepth.qs, m.prevQueueDepth.qc = qrDepth, qsDepth, qcDepth
}

func fullPct(depth int64, cap int) float64 {
	if cap <= 0 {
		return 0
	}
	return 100 * float64(depth) / float64(cap)
}
