// Package pipeline implements the five-stage migration pipeline described
// in the system's component design: Observer -> Qr -> Receiver -> Qs ->
// Storer -> Qc -> Committer, sampled throughout by a Monitor. Stages are
// decoupled from their concrete Postgres/S3 collaborators through the
// RowSource/ObjectStore interfaces in collaborators.go; the pipeline uses
// pgsource only for its row/commit types and error classifier, and
// objectstore only for its error classifier.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pgerber/lo-migrate/internal/logger"
)

// Config carries every tunable the orchestrator needs to size queues and
// worker pools; it is deliberately narrower than internal/config.Config so
// this package stays independent of the CLI's flag surface.
type Config struct {
	ReceiverThreads, StorerThreads, CommitterThreads int
	ReceiverQueue, StorerQueue, CommitterQueue       int
	CommitChunk                                      int
	InMemMax                                         int64
	Interval                                         time.Duration
	MaxRetries                                       int
	ScratchDir                                        string
	MetricsAddr                                       string
}

// Result summarizes a completed (or aborted) run for the caller to report
// and to derive the process exit code from.
type Result struct {
	Interrupted bool
	Fatal       error
	Stats       *Stats
}

// Run wires the five stages together and blocks until the pipeline reaches
// one of its three terminal states (§5): normal completion, user
// interrupt, or a stage-reported fatal error. SIGINT/SIGTERM are handled
// internally; the caller's ctx is only for a parent-imposed timeout or an
// already-cancelled shutdown, not for everyday interrupt handling.
func Run(ctx context.Context, source RowSource, store ObjectStore, cfg Config, statusOut io.Writer) (*Result, error) {
	stats := NewStats()

	qr := NewQueue(cfg.ReceiverQueue)
	qs := NewQueue(cfg.StorerQueue)
	qc := NewQueue(cfg.CommitterQueue)

	observer := NewObserver(source, qr, stats)
	receiver := NewReceiver(source, qr, qs, stats, cfg.ReceiverThreads, cfg.InMemMax, cfg.MaxRetries, cfg.ScratchDir)
	storer := NewStorer(store, qs, qc, stats, cfg.StorerThreads)
	committer := NewCommitter(source, qc, stats, cfg.CommitterThreads, cfg.CommitChunk)
	monitor := NewMonitor(stats, qr, qs, qc, cfg.Interval, statusOut)

	var metrics *Metrics
	if cfg.MetricsAddr != "" {
		metrics = NewMetrics()
		monitor.WithMetrics(metrics)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var interrupted atomic.Bool
	go func() {
		select {
		case <-sigCh:
			logger.Warn("shutdown signal received, draining in-flight work")
			interrupted.Store(true)
			stats.RequestShutdown()
		case <-runCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return observer.Run(gctx) })
	g.Go(func() error { return receiver.Run(gctx) })
	g.Go(func() error { return storer.Run(gctx) })
	g.Go(func() error { return committer.Run(gctx) })

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		_ = monitor.Run(monitorCtx)
	}()

	metricsDone := make(chan struct{})
	if metrics != nil {
		go func() {
			defer close(metricsDone)
			if err := metrics.ServeHTTP(monitorCtx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server failed", logger.KeyError, err)
			}
		}()
	} else {
		close(metricsDone)
	}

	workErr := g.Wait()
	stopMonitor()
	<-monitorDone
	<-metricsDone

	fatal := stats.Fatal()
	if fatal == nil {
		fatal = workErr
	}

	result := &Result{Interrupted: interrupted.Load(), Fatal: fatal, Stats: stats}
	if fatal != nil {
		return result, fmt.Errorf("pipeline aborted: %w", fatal)
	}
	return result, nil
}
