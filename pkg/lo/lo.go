// Package lo defines the blob descriptor that flows through the migration
// pipeline, along with its tagged payload variant.
package lo

import (
	"fmt"
	"os"
	"regexp"
)

// sha1Pattern matches a 40-char lowercase hex SHA-1 digest.
var sha1Pattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// sha2Pattern matches a 64-char lowercase hex SHA-256 digest.
var sha2Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// PayloadKind tags which variant of Payload is live on a Descriptor.
type PayloadKind int

const (
	// PayloadNone means no payload is currently held.
	PayloadNone PayloadKind = iota
	// PayloadInMemory means the payload lives entirely in Bytes.
	PayloadInMemory
	// PayloadOnDisk means the payload lives in a scratch file on disk.
	PayloadOnDisk
)

// Payload is the tagged variant described in the data model: a blob is
// staged either entirely in memory, or spilled to a unique scratch file,
// or (once released) held nowhere.
type Payload struct {
	Kind PayloadKind

	// Bytes holds the payload when Kind == PayloadInMemory.
	Bytes []byte

	// Path and File hold the scratch file when Kind == PayloadOnDisk.
	// File is kept open (positioned at 0 after staging) so the Storer can
	// stream it without a second open/stat round trip.
	Path string
	File *os.File
}

// Release frees whatever the payload currently holds. It is idempotent
// and safe to call multiple times, and is always safe to call even if the
// payload was never staged (PayloadNone). Every exit path of a Descriptor
// — success, per-row error, retry exhaustion, or shutdown — must route
// through Release so scratch files never leak.
func (p *Payload) Release() {
	if p == nil {
		return
	}
	switch p.Kind {
	case PayloadOnDisk:
		if p.File != nil {
			_ = p.File.Close()
		}
		if p.Path != "" {
			_ = os.Remove(p.Path)
		}
		p.File = nil
		p.Path = ""
	case PayloadInMemory:
		p.Bytes = nil
	}
	p.Kind = PayloadNone
}

// Descriptor is the per-row record ("Lo") that accompanies one source row
// through the pipeline.
type Descriptor struct {
	// Sha1 is the legacy 40-char lowercase hex hash from the source row.
	// Opaque to the pipeline beyond logging and locating the row on commit.
	Sha1 string

	// Oid is the Large Object identifier within Postgres.
	Oid uint32

	// Size is the declared byte size of the blob, as read from the source
	// row. Advisory only — see Receiver staging policy.
	Size int64

	// MimeType is the content type string stored on the source row.
	MimeType string

	// Sha2 is set exactly once, by the Receiver, after the entire payload
	// has been read and digested.
	Sha2 string

	// Payload is present iff the descriptor is between Receiver-exit and
	// Storer-entry inclusive.
	Payload Payload

	// ActualSize is the byte count actually read by the Receiver, which
	// may disagree with Size. S3 content-length and the digest are both
	// derived from this, never from Size.
	ActualSize int64

	// Attempt counts retries already spent on this descriptor within the
	// current stage, reset to zero when the descriptor crosses a stage
	// boundary.
	Attempt int
}

// Release cleans up the descriptor's payload. Call on every exit path.
func (d *Descriptor) Release() {
	if d == nil {
		return
	}
	d.Payload.Release()
}

// ValidSha1 reports whether s is a well-formed 40-char lowercase hex SHA-1.
func ValidSha1(s string) bool {
	return sha1Pattern.MatchString(s)
}

// ValidSha2 reports whether s is a well-formed 64-char lowercase hex SHA-256.
func ValidSha2(s string) bool {
	return sha2Pattern.MatchString(s)
}

// Validate checks the three row-level acceptance conditions the Observer
// enforces before emitting a descriptor: a well-formed sha1, a present oid,
// and a non-negative declared size.
func Validate(sha1 string, oidValid bool, size int64) error {
	switch {
	case !ValidSha1(sha1):
		return fmt.Errorf("malformed sha1 %q: want 40-char lowercase hex", sha1)
	case !oidValid:
		return fmt.Errorf("missing large object oid")
	case size < 0:
		return fmt.Errorf("negative size %d", size)
	}
	return nil
}
