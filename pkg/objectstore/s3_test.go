package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string       { return e.code }
func (e fakeAPIError) ErrorCode() string   { return e.code }
func (e fakeAPIError) ErrorMessage() string { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestIsTransientClassifiesServerErrorsAsTransient(t *testing.T) {
	assert.True(t, IsTransient(fakeAPIError{"InternalError"}))
	assert.True(t, IsTransient(fakeAPIError{"SlowDown"}))
	assert.True(t, IsTransient(fakeAPIError{"Throttling"}))
}

func TestIsTransientClassifiesAuthErrorsAsFatal(t *testing.T) {
	assert.False(t, IsTransient(fakeAPIError{"AccessDenied"}))
	assert.False(t, IsTransient(fakeAPIError{"InvalidAccessKeyId"}))
}

func TestIsTransientHandlesContextAndIOErrors(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(io.ErrUnexpectedEOF))
}

func TestIsTransientNilIsFalse(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(fakeAPIError{"NoSuchKey"}))
	assert.True(t, isNotFoundError(fakeAPIError{"NotFound"}))
	assert.False(t, isNotFoundError(fakeAPIError{"AccessDenied"}))
	assert.False(t, isNotFoundError(errors.New("boom")))
}

func TestCalculateBackoffIsBoundedAndGrows(t *testing.T) {
	cfg := DefaultRetryConfig(3)

	b0 := calculateBackoff(cfg, 0)
	b5 := calculateBackoff(cfg, 5)

	assert.GreaterOrEqual(t, b0, time.Duration(0))
	assert.LessOrEqual(t, b5, cfg.MaxBackoff)
	// b0 is at most 100ms; b5 is at least half of min(100ms*2^5, 5s).
	assert.Greater(t, b5, b0)
}
