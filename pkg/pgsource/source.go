// Package pgsource wraps the Postgres collaborator: the server-side
// streaming cursor scan over _nice_binary, the Large Object streaming
// read, and the transactional batch commit of new sha2 values.
package pgsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgerber/lo-migrate/internal/logger"
	"github.com/pgerber/lo-migrate/pkg/lo"
)

// readChunkSize bounds the memory used per Large Object read, per the
// streaming-reads design note in SPEC_FULL.md §9.
const readChunkSize = 256 * 1024

// Row is a single scanned _nice_binary row, before validation.
type Row struct {
	Sha1     string
	Oid      uint32
	HasOid   bool
	Size     int64
	MimeType string
}

// Source wraps a pgx connection pool bound to one _nice_binary table.
type Source struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against pgURL (USER:PASS@HOST/DB, per the CLI
// contract — a value without a scheme is prefixed with "postgres://").
func Connect(ctx context.Context, pgURL string) (*Source, error) {
	dsn := pgURL
	if !hasScheme(dsn) {
		dsn = "postgres://" + dsn
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Source{pool: pool}, nil
}

func hasScheme(s string) bool {
	return strings.Contains(s, "://")
}

// Close releases the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// ScanPending opens a single read-only transaction and streams every
// `sha2 IS NULL` row through fn using a server-side cursor (pgx streams
// rows off the wire one at a time rather than materializing the result
// set, so memory is bounded regardless of table size). If fn returns an
// error, the scan stops and that error is returned; a scan-level failure
// (connection drop mid-stream) is returned as-is for the caller to treat
// as the fatal scan error described in §4.1.
func (s *Source) ScanPending(ctx context.Context, fn func(Row) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin scan transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT hash, data, size, mime_type
		FROM _nice_binary
		WHERE sha2 IS NULL
	`)
	if err != nil {
		return fmt.Errorf("query pending rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hash     string
			oid      *uint32
			size     int64
			mimeType string
		)
		if err := rows.Scan(&hash, &oid, &size, &mimeType); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		row := Row{Sha1: hash, Size: size, MimeType: mimeType}
		if oid != nil {
			row.Oid = *oid
			row.HasOid = true
		}

		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan pending rows: %w", err)
	}

	return nil
}

// FetchAndDigest streams the Large Object identified by oid exactly once
// through a SHA-256 digest and, in parallel, into a staging sink chosen by
// size: bytes stay in memory up to inMemMax, after which already-buffered
// bytes are flushed to a scratch file and the rest is appended there.
//
// The declared size is not used here at all: staging is decided by the
// running byte count, and the actual byte count read is what is digested
// and what is later reported as content length.
func (s *Source) FetchAndDigest(ctx context.Context, oid uint32, inMemMax int64, scratchDir string) (sha2 string, payload lo.Payload, actualSize int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", lo.Payload{}, 0, fmt.Errorf("begin large object read: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	los := tx.LargeObjects()
	obj, err := los.Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		return "", lo.Payload{}, 0, fmt.Errorf("open large object %d: %w", oid, err)
	}

	digest := sha256.New()
	var mem []byte
	var scratch *os.File
	var scratchPath string
	buf := make([]byte, readChunkSize)

	cleanup := func() {
		if scratch != nil {
			_ = scratch.Close()
			_ = os.Remove(scratchPath)
		}
	}

	for {
		n, readErr := obj.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			digest.Write(chunk)
			actualSize += int64(n)

			switch {
			case scratch != nil:
				if _, werr := scratch.Write(chunk); werr != nil {
					cleanup()
					return "", lo.Payload{}, 0, fmt.Errorf("write scratch file: %w", werr)
				}
			case int64(len(mem))+int64(n) > inMemMax:
				f, path, cerr := createScratchFile(scratchDir)
				if cerr != nil {
					cleanup()
					return "", lo.Payload{}, 0, cerr
				}
				scratch, scratchPath = f, path
				if len(mem) > 0 {
					if _, werr := scratch.Write(mem); werr != nil {
						cleanup()
						return "", lo.Payload{}, 0, fmt.Errorf("flush buffered bytes to scratch file: %w", werr)
					}
					mem = nil
				}
				if _, werr := scratch.Write(chunk); werr != nil {
					cleanup()
					return "", lo.Payload{}, 0, fmt.Errorf("write scratch file: %w", werr)
				}
			default:
				mem = append(mem, chunk...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return "", lo.Payload{}, 0, Classify(readErr, "read large object")
		}
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		cleanup()
		return "", lo.Payload{}, 0, fmt.Errorf("commit large object read: %w", err)
	}

	sha2 = hex.EncodeToString(digest.Sum(nil))

	if scratch != nil {
		if _, err := scratch.Seek(0, io.SeekStart); err != nil {
			cleanup()
			return "", lo.Payload{}, 0, fmt.Errorf("rewind scratch file: %w", err)
		}
		return sha2, lo.Payload{Kind: lo.PayloadOnDisk, Path: scratchPath, File: scratch}, actualSize, nil
	}
	return sha2, lo.Payload{Kind: lo.PayloadInMemory, Bytes: mem}, actualSize, nil
}

// createScratchFile creates a uniquely-named scratch file in dir (the
// system temp area when dir is ""). The name carries a UUID rather than
// relying solely on os.CreateTemp's own randomness, so names stay unique
// even if two Receiver workers race to stage large payloads in the same
// instant.
func createScratchFile(dir string) (*os.File, string, error) {
	name := fmt.Sprintf("lo-migrate-%s.tmp", uuid.New().String())
	path := name
	if dir != "" {
		path = dir + string(os.PathSeparator) + name
	} else {
		path = os.TempDir() + string(os.PathSeparator) + name
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("create scratch file: %w", err)
	}
	return f, path, nil
}

// CommitItem is a descriptor ready to be written back to the source row.
type CommitItem struct {
	Sha1 string
	Sha2 string
}

// CommitBatch opens a single transaction and issues one guarded UPDATE per
// item: `WHERE hash = $1 AND sha2 IS NULL`. The guard ensures a concurrent
// committer or a replayed batch after a crash cannot overwrite an
// already-committed row. Returns how many rows were actually updated
// (committed) versus already-committed (skipped, not an error).
func (s *Source) CommitBatch(ctx context.Context, items []CommitItem) (committed, skipped int, err error) {
	if len(items) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin commit batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		tag, err := tx.Exec(ctx, `
			UPDATE _nice_binary SET sha2 = $1 WHERE hash = $2 AND sha2 IS NULL
		`, item.Sha2, item.Sha1)
		if err != nil {
			return 0, 0, Classify(err, "commit row")
		}
		if tag.RowsAffected() == 0 {
			skipped++
			logger.Debug("row already committed, skipping", logger.KeySha1, item.Sha1)
			continue
		}
		committed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit batch transaction: %w", err)
	}

	return committed, skipped, nil
}
