package pipeline

import (
	"context"
	"io"

	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// RowSource is the Postgres-side contract the pipeline depends on. Both
// *pgsource.Source and test fakes satisfy it.
type RowSource interface {
	ScanPending(ctx context.Context, fn func(pgsource.Row) error) error
	FetchAndDigest(ctx context.Context, oid uint32, inMemMax int64, scratchDir string) (sha2 string, payload lo.Payload, actualSize int64, err error)
	CommitBatch(ctx context.Context, items []pgsource.CommitItem) (committed, skipped int, err error)
}

// ObjectStore is the S3-side contract the pipeline depends on.
type ObjectStore interface {
	PutIdempotent(ctx context.Context, key, contentType, legacySha1 string, data []byte) error
	PutIdempotentFile(ctx context.Context, key, contentType, legacySha1 string, body io.ReadSeeker, size int64) error
}
