package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// fakeRowSource is a minimal RowSource fake, scripted per-oid.
type fakeRowSource struct {
	mu        sync.Mutex
	fetchErrs map[uint32][]error // errors to return, in order, before succeeding
	calls     map[uint32]int
}

func newFakeRowSource() *fakeRowSource {
	return &fakeRowSource{fetchErrs: map[uint32][]error{}, calls: map[uint32]int{}}
}

func (f *fakeRowSource) ScanPending(ctx context.Context, fn func(pgsource.Row) error) error {
	return nil
}

func (f *fakeRowSource) FetchAndDigest(ctx context.Context, oid uint32, inMemMax int64, scratchDir string) (string, lo.Payload, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls[oid]
	f.calls[oid]++

	errs := f.fetchErrs[oid]
	if n < len(errs) {
		return "", lo.Payload{}, 0, errs[n]
	}
	return "deadbeef", lo.Payload{Kind: lo.PayloadInMemory, Bytes: []byte("data")}, 4, nil
}

func (f *fakeRowSource) CommitBatch(ctx context.Context, items []pgsource.CommitItem) (int, int, error) {
	return len(items), 0, nil
}

func newTestReceiver(source RowSource, qr, qs *Queue, stats *Stats, maxRetries int) *Receiver {
	return NewReceiver(source, qr, qs, stats, 1, 1<<20, maxRetries, "")
}

func TestReceiverForwardsSuccessfullyFetchedDescriptor(t *testing.T) {
	source := newFakeRowSource()
	qr, qs := NewQueue(4), NewQueue(4)
	stats := NewStats()
	r := newTestReceiver(source, qr, qs, stats, 2)

	qr.Send(&lo.Descriptor{Sha1: "a", Oid: 1, Size: 4})
	qr.Close()

	require.NoError(t, r.Run(context.Background()))

	got, ok := qs.Recv()
	require.True(t, ok)
	assert.Equal(t, "deadbeef", got.Sha2)
	assert.EqualValues(t, lo.PayloadInMemory, got.Payload.Kind)
	assert.EqualValues(t, 1, stats.Receiver.Processed.Load())
	assert.EqualValues(t, 0, stats.Receiver.Dropped.Load())
}

func TestReceiverDropsOnMissingLargeObject(t *testing.T) {
	source := newFakeRowSource()
	source.fetchErrs[1] = []error{pgErrNoRowsEquivalent()}
	qr, qs := NewQueue(4), NewQueue(4)
	stats := NewStats()
	r := newTestReceiver(source, qr, qs, stats, 2)

	qr.Send(&lo.Descriptor{Sha1: "a", Oid: 1, Size: 4})
	qr.Close()

	require.NoError(t, r.Run(context.Background()))

	_, ok := qs.Recv()
	assert.False(t, ok, "a dropped descriptor must not reach Qs")
	assert.EqualValues(t, 1, stats.Receiver.Dropped.Load())
	assert.EqualValues(t, 0, stats.Receiver.Retried.Load())
}

func TestReceiverRetriesTransientErrorsUpToMaxThenDrops(t *testing.T) {
	source := newFakeRowSource()
	source.fetchErrs[1] = []error{
		errors.New("connection reset by peer"),
		errors.New("connection reset by peer"),
		errors.New("connection reset by peer"),
	}
	qr, qs := NewQueue(4), NewQueue(4)
	stats := NewStats()
	r := newTestReceiver(source, qr, qs, stats, 2)

	qr.Send(&lo.Descriptor{Sha1: "a", Oid: 1, Size: 4})
	qr.Close()

	require.NoError(t, r.Run(context.Background()))

	_, ok := qs.Recv()
	assert.False(t, ok)
	assert.EqualValues(t, 2, stats.Receiver.Retried.Load())
	assert.EqualValues(t, 1, stats.Receiver.Dropped.Load())
}

func TestReceiverRecoversAfterTransientRetry(t *testing.T) {
	source := newFakeRowSource()
	source.fetchErrs[1] = []error{errors.New("connection reset by peer")}
	qr, qs := NewQueue(4), NewQueue(4)
	stats := NewStats()
	r := newTestReceiver(source, qr, qs, stats, 2)

	qr.Send(&lo.Descriptor{Sha1: "a", Oid: 1, Size: 4})
	qr.Close()

	require.NoError(t, r.Run(context.Background()))

	got, ok := qs.Recv()
	require.True(t, ok)
	assert.Equal(t, "deadbeef", got.Sha2)
	assert.EqualValues(t, 1, stats.Receiver.Retried.Load())
	assert.EqualValues(t, 1, stats.Receiver.Processed.Load())
}

func TestReceiverClosesQsAfterAllWorkersExit(t *testing.T) {
	source := newFakeRowSource()
	qr, qs := NewQueue(4), NewQueue(4)
	stats := NewStats()
	r := NewReceiver(source, qr, qs, stats, 3, 1<<20, 1, "")

	for i := uint32(1); i <= 5; i++ {
		qr.Send(&lo.Descriptor{Sha1: "a", Oid: i, Size: 4})
	}
	qr.Close()

	require.NoError(t, r.Run(context.Background()))

	count := 0
	for {
		_, ok := qs.Recv()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 5, count)
}

func pgErrNoRowsEquivalent() error {
	return pgx.ErrNoRows
}
