package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/tierlist/internal/metrics"
)

func TestSink_PreservesOrderPerKey(t *testing.T) {
	s := New(WithWorkers(4), WithQueueSize(8))

	var mu sync.Mutex
	got := map[string][]int{}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("user-%d", i%5)
		seq := i
		require.NoError(t, s.Enqueue(ctx, Job{Key: key, Kind: KindSaveTier, Run: func(context.Context) error {
			mu.Lock()
			got[key] = append(got[key], seq)
			mu.Unlock()
			return nil
		}}))
	}
	require.NoError(t, s.Close(ctx))

	require.Len(t, got, 5)
	for key, seqs := range got {
		assert.Len(t, seqs, 40, key)
		for i := 1; i < len(seqs); i++ {
			assert.Less(t, seqs[i-1], seqs[i], key)
		}
	}
}

func TestSink_FailuresAreCountedNotRetried(t *testing.T) {
	metrics.PersistJobsTotal.Reset()
	boom := errors.New("constraint violation")
	s := New(WithWorkers(1))

	var runs int32
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, Job{Key: "tt1", Kind: KindSaveRating, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return boom
	}}))
	require.NoError(t, s.Enqueue(ctx, Job{Key: "tt1", Kind: KindSaveRating, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}))
	require.NoError(t, s.Close(ctx))

	assert.EqualValues(t, 2, atomic.LoadInt32(&runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistJobsTotal.WithLabelValues(KindSaveRating, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistJobsTotal.WithLabelValues(KindSaveRating, "ok")))
}

func TestSink_PanickingJobDoesNotKillWorker(t *testing.T) {
	metrics.PersistJobsTotal.Reset()
	s := New(WithWorkers(1))

	done := make(chan struct{})
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, Job{Key: "k", Kind: KindSaveTitle, Run: func(context.Context) error {
		panic("nil row")
	}}))
	require.NoError(t, s.Enqueue(ctx, Job{Key: "k", Kind: KindSaveTitle, Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after panic")
	}
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistJobsTotal.WithLabelValues(KindSaveTitle, "failed")))
}

func TestSink_EnqueueAfterClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Close(context.Background()))
	err := s.Enqueue(context.Background(), Job{Key: "k", Kind: KindDeleteTitle, Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.NoError(t, s.Close(context.Background()))
}

func TestSink_RejectsJobWithoutRun(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	assert.Error(t, s.Enqueue(context.Background(), Job{Key: "k", Kind: KindSaveTitle}))
}

func TestSink_EnqueueHonoursContextWhenFull(t *testing.T) {
	s := New(WithWorkers(1), WithQueueSize(1))
	release := make(chan struct{})
	block := Job{Key: "k", Kind: KindSaveTier, Run: func(context.Context) error {
		<-release
		return nil
	}}

	bg := context.Background()
	require.NoError(t, s.Enqueue(bg, block))
	// Wait for the worker to pick the first job up so the buffer is empty.
	require.Eventually(t, func() bool { return testutil.ToFloat64(metrics.PersistQueueDepth) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Enqueue(bg, block))

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	err := s.Enqueue(ctx, block)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Close(bg))
}

func TestSink_FullQueueDropsAfterEnqueueTimeout(t *testing.T) {
	metrics.PersistJobsTotal.Reset()
	s := New(WithWorkers(1), WithQueueSize(1), WithEnqueueTimeout(30*time.Millisecond))
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	block := Job{Key: "k", Kind: KindSaveTier, Run: func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}

	bg := context.Background()
	require.NoError(t, s.Enqueue(bg, block))
	<-started
	require.NoError(t, s.Enqueue(bg, block))

	begin := time.Now()
	err := s.Enqueue(bg, block)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(begin), time.Second, "a full queue must not stall the caller")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistJobsTotal.WithLabelValues(KindSaveTier, "dropped")))

	close(release)
	require.NoError(t, s.Close(bg))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PersistJobsTotal.WithLabelValues(KindSaveTier, "ok")))
}

func TestSink_CloseTimesOutAndCancelsJobs(t *testing.T) {
	s := New(WithWorkers(1), WithJobTimeout(time.Minute))
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(context.Background(), Job{Key: "k", Kind: KindSaveTier, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
