package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgerber/lo-migrate/internal/logger"
)

// Metrics mirrors the atomic Stats counters as Prometheus series, additive
// over the same data the Monitor already reads — it is never the source of
// truth, and a run completes identically whether or not it is started.
//
// Sample is only ever called from the Monitor's single goroutine, so the
// last-seen absolute values below need no synchronization of their own.
type Metrics struct {
	reg        *prometheus.Registry
	processed  *prometheus.CounterVec
	retried    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	committed  prometheus.Counter

	lastProcessed map[string]int64
	lastRetried   map[string]int64
	lastDropped   map[string]int64
	lastCommitted int64
}

// NewMetrics registers the lo-migrate series on a private registry (never
// the global default, so tests can construct one freely without collisions).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		reg: reg,
		processed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lomigrate_rows_processed_total",
				Help: "Total rows processed by stage.",
			},
			[]string{"stage"},
		),
		retried: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lomigrate_retries_total",
				Help: "Total per-row retries by stage.",
			},
			[]string{"stage"},
		),
		dropped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lomigrate_rows_dropped_total",
				Help: "Total rows dropped by stage after validation failure or retry exhaustion.",
			},
			[]string{"stage"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lomigrate_queue_depth",
				Help: "Current number of descriptors buffered in a queue.",
			},
			[]string{"queue"},
		),
		committed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "lomigrate_committed_total",
				Help: "Total rows whose sha2 has been durably committed.",
			},
		),
		lastProcessed: map[string]int64{},
		lastRetried:   map[string]int64{},
		lastDropped:   map[string]int64{},
	}
}

// Sample refreshes every gauge/counter from the live Stats and queues. It is
// cheap enough to call once per Monitor tick.
func (m *Metrics) Sample(stats *Stats, qr, qs, qc *Queue) {
	m.addDelta(m.processed, m.lastProcessed, "observer", stats.Observer.Processed.Load())
	m.addDelta(m.processed, m.lastProcessed, "receiver", stats.Receiver.Processed.Load())
	m.addDelta(m.processed, m.lastProcessed, "storer", stats.Storer.Processed.Load())
	m.addDelta(m.processed, m.lastProcessed, "committer", stats.Committer.Processed.Load())

	m.addDelta(m.retried, m.lastRetried, "receiver", stats.Receiver.Retried.Load())

	m.addDelta(m.dropped, m.lastDropped, "observer", stats.Observer.Dropped.Load())
	m.addDelta(m.dropped, m.lastDropped, "receiver", stats.Receiver.Dropped.Load())
	m.addDelta(m.dropped, m.lastDropped, "storer", stats.Storer.Dropped.Load())
	m.addDelta(m.dropped, m.lastDropped, "committer", stats.Committer.Dropped.Load())

	m.queueDepth.WithLabelValues("qr").Set(float64(qr.Depth()))
	m.queueDepth.WithLabelValues("qs").Set(float64(qs.Depth()))
	m.queueDepth.WithLabelValues("qc").Set(float64(qc.Depth()))

	if delta := stats.Committed.Load() - m.lastCommitted; delta > 0 {
		m.committed.Add(float64(delta))
		m.lastCommitted += delta
	}
}

// addDelta advances a CounterVec label by however much value has grown
// since the last sample, the only direction Prometheus counters support.
func (m *Metrics) addDelta(vec *prometheus.CounterVec, last map[string]int64, label string, value int64) {
	if delta := value - last[label]; delta > 0 {
		vec.WithLabelValues(label).Add(float64(delta))
		last[label] = value
	}
}

// ServeHTTP starts the /metrics endpoint on addr and runs until ctx is
// cancelled, at which point it shuts down gracefully. A listen failure is a
// Configuration error and is returned immediately.
func (m *Metrics) ServeHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", logger.KeyError, err)
		}
		return nil
	}
}
