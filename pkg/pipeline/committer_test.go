package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgerber/lo-migrate/pkg/lo"
	"github.com/pgerber/lo-migrate/pkg/pgsource"
)

// fakeCommitSource is a RowSource fake that only implements CommitBatch
// meaningfully; ScanPending/FetchAndDigest are unused by the Committer.
type fakeCommitSource struct {
	mu      sync.Mutex
	batches [][]pgsource.CommitItem
	failing bool
	skipAll bool
}

func (f *fakeCommitSource) ScanPending(ctx context.Context, fn func(pgsource.Row) error) error {
	return nil
}

func (f *fakeCommitSource) FetchAndDigest(ctx context.Context, oid uint32, inMemMax int64, scratchDir string) (string, lo.Payload, int64, error) {
	return "", lo.Payload{}, 0, nil
}

func (f *fakeCommitSource) CommitBatch(ctx context.Context, items []pgsource.CommitItem) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, items)
	if f.failing {
		return 0, 0, errors.New("db unreachable")
	}
	if f.skipAll {
		return 0, len(items), nil
	}
	return len(items), 0, nil
}

func TestCommitterFlushesOnChunkSize(t *testing.T) {
	source := &fakeCommitSource{}
	qc := NewQueue(16)
	stats := NewStats()
	c := NewCommitter(source, qc, stats, 1, 3)

	for i := 0; i < 7; i++ {
		qc.Send(&lo.Descriptor{Sha1: "a", Sha2: "h"})
	}
	qc.Close()

	require.NoError(t, c.Run(context.Background()))

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.batches, 3, "7 items at chunk size 3 should commit as 3,3,1")
	assert.Len(t, source.batches[0], 3)
	assert.Len(t, source.batches[1], 3)
	assert.Len(t, source.batches[2], 1)
	assert.EqualValues(t, 7, stats.Committed.Load())
}

func TestCommitterFlushesPartialBatchOnClose(t *testing.T) {
	source := &fakeCommitSource{}
	qc := NewQueue(16)
	stats := NewStats()
	c := NewCommitter(source, qc, stats, 1, 100)

	qc.Send(&lo.Descriptor{Sha1: "a", Sha2: "h"})
	qc.Send(&lo.Descriptor{Sha1: "b", Sha2: "h2"})
	qc.Close()

	require.NoError(t, c.Run(context.Background()))

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.batches, 1)
	assert.Len(t, source.batches[0], 2)
	assert.EqualValues(t, 2, stats.Committed.Load())
}

func TestCommitterFlushesOnIdleTimeoutWithoutReachingChunkSize(t *testing.T) {
	source := &fakeCommitSource{}
	qc := NewQueue(16)
	stats := NewStats()
	c := NewCommitter(source, qc, stats, 1, 100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(context.Background())
	}()

	qc.Send(&lo.Descriptor{Sha1: "a", Sha2: "h"})

	require.Eventually(t, func() bool {
		return stats.Committed.Load() == 1
	}, 4*time.Second, 20*time.Millisecond, "idle timer should flush the lone descriptor without a full batch")

	qc.Close()
	<-done
}

func TestCommitterSetsFatalAndDropsOnCommitError(t *testing.T) {
	source := &fakeCommitSource{failing: true}
	qc := NewQueue(16)
	stats := NewStats()
	c := NewCommitter(source, qc, stats, 1, 2)

	qc.Send(&lo.Descriptor{Sha1: "a", Sha2: "h"})
	qc.Send(&lo.Descriptor{Sha1: "b", Sha2: "h2"})
	qc.Close()

	require.NoError(t, c.Run(context.Background()))

	assert.EqualValues(t, 0, stats.Committed.Load())
	assert.EqualValues(t, 2, stats.Committer.Dropped.Load())
	assert.Error(t, stats.Fatal())
}

func TestCommitterCountsSkippedRowsAsProcessedNotCommitted(t *testing.T) {
	source := &fakeCommitSource{skipAll: true}
	qc := NewQueue(16)
	stats := NewStats()
	c := NewCommitter(source, qc, stats, 1, 2)

	qc.Send(&lo.Descriptor{Sha1: "a", Sha2: "h"})
	qc.Close()

	require.NoError(t, c.Run(context.Background()))

	assert.EqualValues(t, 0, stats.Committed.Load())
	assert.EqualValues(t, 1, stats.Committer.Processed.Load())
}
