package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// Receiver is a pool of N workers, each pulling descriptors off Qr,
// materializing the blob's bytes and SHA-256 digest, and forwarding the
// enriched descriptor onto Qs.
type Receiver struct {
	source     RowSource
	qr, qs     *Queue
	stats      *Stats
	workers    int
	inMemMax   int64
	maxRetries int
	scratchDir string
}

// NewReceiver constructs a Receiver pool.
func NewReceiver(source RowSource, qr, qs *Queue, stats *Stats, workers int, inMemMax int64, maxRetries int, scratchDir string) *Receiver {
	return &Receiver{
		source: source, qr: qr, qs: qs, stats: stats,
		workers: workers, inMemMax: inMemMax, maxRetries: maxRetries, scratchDir: scratchDir,
	}
}

// Run starts the worker pool and blocks until every worker has exited:
// each drains Qr until it is closed and empty, and once every worker has
// exited Run closes Qs, propagating end-of-input downstream to the Storers.
func (r *Receiver) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	r.qs.Close()
	return nil
}

func (r *Receiver) worker(ctx context.Context, id int) {
	log := logger.With(logger.KeyComponent, "receiver", logger.KeyWorker, id)

	for {
		d, ok := r.qr.Recv()
		if !ok {
			return
		}
		if r.stats.ShuttingDown() {
			// Per the interrupt shutdown tier, descriptors still queued at
			// shutdown time are dropped rather than fetched: their source
			// rows simply remain sha2 IS NULL for a later run.
			log.Debug("dropping queued row on shutdown", logger.KeySha1, d.Sha1)
			r.stats.Receiver.Dropped.Add(1)
			continue
		}
		r.process(ctx, log, d)
	}
}

func (r *Receiver) process(ctx context.Context, log *slog.Logger, d *lo.Descriptor) {
	for {
		sha2, payload, actualSize, err := r.source.FetchAndDigest(ctx, d.Oid, r.inMemMax, r.scratchDir)
		if err == nil {
			d.Sha2 = sha2
			d.Payload = payload
			d.ActualSize = actualSize
			d.Attempt = 0

			if actualSize != d.Size {
				// The declared size is advisory only (§4.2): the
				// migration trusts the bytes it actually read and
				// completes normally on a mismatch.
				log.Debug("declared size disagrees with observed byte count",
					logger.KeySha1, d.Sha1, "declared_size", d.Size, "actual_size", actualSize)
			}

			r.qs.Send(d)
			r.stats.Receiver.Processed.Add(1)
			return
		}

		ce := pgsource.Classify(err, "fetch large object")
		if ce.Code == pgsource.ErrNotFound {
			log.Warn("large object missing, dropping row", logger.KeySha1, d.Sha1, logger.KeyOid, d.Oid)
			r.stats.Receiver.Dropped.Add(1)
			return
		}

		if ce.Code == pgsource.ErrTransient && d.Attempt < r.maxRetries {
			d.Attempt++
			r.stats.Receiver.Retried.Add(1)
			log.Debug("retrying transient fetch error", logger.KeySha1, d.Sha1, logger.KeyAttempt, d.Attempt, logger.KeyError, err)
			continue
		}

		log.Error("dropping row after fetch failure", logger.KeySha1, d.Sha1, logger.KeyError, err)
		r.stats.Receiver.Dropped.Add(1)
		return
	}
}
