package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/objectstore"
)

// Storer is a pool of N workers, each pulling enriched descriptors off Qs,
// uploading the payload to the object store under its SHA-256 key, and
// forwarding the now-payload-free descriptor onto Qc.
type Storer struct {
	store  ObjectStore
	qs, qc *Queue
	stats  *Stats
	workers int
}

// NewStorer constructs a Storer pool.
func NewStorer(store ObjectStore, qs, qc *Queue, stats *Stats, workers int) *Storer {
	return &Storer{store: store, qs: qs, qc: qc, stats: stats, workers: workers}
}

// Run starts the worker pool and blocks until every worker has exited, then
// closes Qc exactly once to signal end-of-input to the Committers.
func (s *Storer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	s.qc.Close()
	return nil
}

func (s *Storer) worker(ctx context.Context, id int) {
	log := logger.With(logger.KeyComponent, "storer", logger.KeyWorker, id)

	for {
		d, ok := s.qs.Recv()
		if !ok {
			return
		}
		if s.stats.ShuttingDown() {
			log.Debug("dropping queued row on shutdown", logger.KeySha1, d.Sha1, logger.KeySha2, d.Sha2)
			d.Release()
			s.stats.Storer.Dropped.Add(1)
			continue
		}
		s.process(ctx, log, d)
	}
}

func (s *Storer) process(ctx context.Context, log *slog.Logger, d *lo.Descriptor) {
	key := d.Sha2
	var err error

	switch d.Payload.Kind {
	case lo.PayloadInMemory:
		err = s.store.PutIdempotent(ctx, key, d.MimeType, d.Sha1, d.Payload.Bytes)
	case lo.PayloadOnDisk:
		err = s.store.PutIdempotentFile(ctx, key, d.MimeType, d.Sha1, d.Payload.File, d.ActualSize)
	default:
		// An enriched descriptor with no payload is a programming error
		// upstream, not a transient condition; treat it the same as an
		// upload failure rather than panicking a worker.
		log.Error("descriptor reached storer with no payload", logger.KeySha1, d.Sha1, logger.KeySha2, d.Sha2)
		d.Release()
		s.stats.Storer.Dropped.Add(1)
		return
	}

	d.Release()

	if err != nil {
		log.Error("upload failed, dropping row", logger.KeySha1, d.Sha1, logger.KeySha2, d.Sha2, logger.KeyError, err)
		s.stats.Storer.Dropped.Add(1)
		if !objectstore.IsTransient(err) {
			// Auth/bucket errors (e.g. revoked credentials) end the run.
			s.stats.SetFatal(err)
		}
		return
	}

	s.qc.Send(d)
	s.stats.Storer.Processed.Add(1)
}
