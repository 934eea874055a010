package pipeline

import (
	"context"

	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// Observer is the single long-lived worker that scans the source table
// and emits a descriptor for every not-yet-migrated row.
type Observer struct {
	source RowSource
	qr     *Queue
	stats  *Stats
}

// NewObserver constructs an Observer writing onto qr.
func NewObserver(source RowSource, qr *Queue, stats *Stats) *Observer {
	return &Observer{source: source, qr: qr, stats: stats}
}

// Run scans rows where sha2 IS NULL via a server-side streaming cursor,
// validates each row, and emits a descriptor onto Qr for every row that
// passes. Malformed rows are logged and skipped, not fatal. After the
// cursor is exhausted — or after a fatal scan error — Qr is closed exactly
// once, signalling end-of-input to the Receivers.
func (o *Observer) Run(ctx context.Context) error {
	defer o.qr.Close()

	log := logger.With(logger.KeyComponent, "observer")

	err := o.source.ScanPending(ctx, func(row pgsource.Row) error {
		if o.stats.ShuttingDown() {
			// Interrupt: abort the cursor immediately rather than
			// continuing to enumerate work nobody will drain.
			return errShutdownRequested
		}

		o.stats.TotalKnown.Add(1)

		if verr := lo.Validate(row.Sha1, row.HasOid, row.Size); verr != nil {
			log.Warn("rejecting malformed row", logger.KeySha1, row.Sha1, logger.KeyError, verr)
			o.stats.Observer.Dropped.Add(1)
			return nil
		}

		d := &lo.Descriptor{
			Sha1:     row.Sha1,
			Oid:      row.Oid,
			Size:     row.Size,
			MimeType: row.MimeType,
		}
		o.qr.Send(d)
		o.stats.Observer.Enqueued.Add(1)
		o.stats.Observer.Processed.Add(1)
		return nil
	})

	if err == errShutdownRequested {
		log.Info("scan aborted by shutdown request")
		return nil
	}
	if err != nil {
		log.Error("fatal scan error", logger.KeyError, err)
		o.stats.SetFatal(err)
		return err
	}

	log.Info("scan complete", "rows_processed", o.stats.Observer.Processed.Load())
	return nil
}

// errShutdownRequested is a sentinel ScanPending's callback returns to
// stop the scan early; Run translates it back into a clean (non-fatal)
// return.
var errShutdownRequested = &shutdownSignal{}

type shutdownSignal struct{}

func (*shutdownSignal) Error() string { return "shutdown requested" }
