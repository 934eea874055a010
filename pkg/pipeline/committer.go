package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// batchIdleTimeout bounds how long a Committer worker waits for a batch to
// fill before flushing whatever it already holds, so a quiet upstream never
// stalls a partially-filled batch indefinitely.
const batchIdleTimeout = 2 * time.Second

// Committer is a pool of N workers, each accumulating descriptors from Qc
// into batches and writing their sha2 values back to the source table.
type Committer struct {
	source     RowSource
	qc         *Queue
	stats      *Stats
	workers    int
	commitSize int
}

// NewCommitter constructs a Committer pool.
func NewCommitter(source RowSource, qc *Queue, stats *Stats, workers, commitSize int) *Committer {
	return &Committer{source: source, qc: qc, stats: stats, workers: workers, commitSize: commitSize}
}

// Run starts the worker pool and blocks until every worker has exited.
func (c *Committer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (c *Committer) worker(ctx context.Context, id int) {
	log := logger.With(logger.KeyComponent, "committer", logger.KeyWorker, id)
	ch := c.qc.Chan()

	batch := make([]*lo.Descriptor, 0, c.commitSize)
	timer := time.NewTimer(batchIdleTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.commit(ctx, log, batch)
		batch = batch[:0]
	}

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(batchIdleTimeout)

		select {
		case d, ok := <-ch:
			if !ok {
				flush()
				return
			}
			c.qc.depth.Add(-1)
			c.qc.dequeued.Add(1)
			batch = append(batch, d)
			if len(batch) >= c.commitSize {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (c *Committer) commit(ctx context.Context, log *slog.Logger, batch []*lo.Descriptor) {
	items := make([]pgsource.CommitItem, len(batch))
	for i, d := range batch {
		items[i] = pgsource.CommitItem{Sha1: d.Sha1, Sha2: d.Sha2}
	}

	committed, skipped, err := c.source.CommitBatch(ctx, items)
	if err != nil {
		log.Error("batch commit failed, dropping batch", logger.KeyBatchSize, len(batch), logger.KeyError, err)
		c.stats.Committer.Dropped.Add(int64(len(batch)))
		c.stats.SetFatal(err)
		return
	}

	c.stats.Committer.Processed.Add(int64(len(batch)))
	c.stats.Committed.Add(int64(committed))
	if skipped > 0 {
		log.Debug("batch contained already-committed rows", "skipped", skipped)
	}
}
