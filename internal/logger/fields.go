package logger

import "log/slog"

// Standard field keys for structured logging across the pipeline stages.
// Use these consistently so the Monitor's human-readable summary and any
// downstream log aggregation agree on vocabulary.
const (
	// Component identifies which stage or collaborator emitted the line:
	// observer, receiver, storer, committer, monitor, pgsource, objectstore.
	KeyComponent = "component"
	KeyWorker    = "worker"

	// Descriptor identity.
	KeySha1 = "sha1"
	KeySha2 = "sha2"
	KeyOid  = "oid"
	KeySize = "size"

	KeyBucket    = "bucket"
	KeyKey       = "key"
	KeyAttempt   = "attempt"
	KeyMaxRetry  = "max_retries"
	KeyBatchSize = "batch_size"
	KeyQueue     = "queue"
	KeyDepth     = "depth"
	KeyCapacity  = "capacity"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Sha1 returns a slog.Attr for the legacy hash.
func Sha1(h string) slog.Attr { return slog.String(KeySha1, h) }

// Sha2 returns a slog.Attr for the freshly computed hash.
func Sha2(h string) slog.Attr { return slog.String(KeySha2, h) }

// Oid returns a slog.Attr for a Large Object identifier.
func Oid(oid uint32) slog.Attr { return slog.Uint64(KeyOid, uint64(oid)) }

// Component returns a slog.Attr naming the emitting stage.
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }
