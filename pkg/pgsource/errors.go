package pgsource

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCode classifies a Postgres-originated error per the error taxonomy in
// SPEC_FULL.md §7, mirroring the teacher's mapPgError/StoreError pattern.
type ErrCode int

const (
	ErrUnknown ErrCode = iota
	ErrNotFound
	ErrTransient
	ErrFatal
)

// ClassifiedError pairs a classification with the underlying cause.
type ClassifiedError struct {
	Code ErrCode
	Op   string
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify maps a Postgres error to a ClassifiedError. Connection-class
// codes and a handful of retryable conditions classify as transient;
// everything else not explicitly recognized classifies as fatal, since an
// unrecognized database error mid-scan or mid-commit should not be
// silently swallowed.
func Classify(err error, op string) *ClassifiedError {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &ClassifiedError{Code: ErrNotFound, Op: op, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42704": // undefined_object (e.g. a Large Object oid with no backing object)
			return &ClassifiedError{Code: ErrNotFound, Op: op, Err: err}
		case "57014": // query_canceled
			return &ClassifiedError{Code: ErrTransient, Op: op, Err: err}
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &ClassifiedError{Code: ErrTransient, Op: op, Err: err}
		case "08000", "08003", "08006": // connection errors
			return &ClassifiedError{Code: ErrTransient, Op: op, Err: err}
		default:
			return &ClassifiedError{Code: ErrFatal, Op: op, Err: err}
		}
	}

	// Unrecognized shape (network reset, context deadline, etc.): treat as
	// transient so the bounded retry loop in Receiver/Storer gets a chance
	// before giving up, per §7's "Transient I/O errors" category.
	return &ClassifiedError{Code: ErrTransient, Op: op, Err: err}
}
