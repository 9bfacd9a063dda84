package syncsched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rscodex/rscodex/internal/pipeline"
)

type fakeReindexer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeReindexer) Reindex(_ context.Context, root string, _ bool) (pipeline.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, root)
	return pipeline.Stats{}, f.err
}

func (f *fakeReindexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestTrackUntrack(t *testing.T) {
	s := New(&fakeReindexer{}, nil)
	s.Track("/a")
	s.Track("/b")
	assert.ElementsMatch(t, []string{"/a", "/b"}, s.Tracked())

	s.Untrack("/a")
	assert.Equal(t, []string{"/b"}, s.Tracked())
}

func TestRunExecutesCycleOnTick(t *testing.T) {
	reindexer := &fakeReindexer{}
	s := New(reindexer, nil, WithInitialDelay(time.Millisecond), WithInterval(10*time.Millisecond))
	s.Track("/root")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, reindexer.callCount(), 2)
}

func TestSyncNowTriggersBeforeNextTick(t *testing.T) {
	reindexer := &fakeReindexer{}
	s := New(reindexer, nil, WithInitialDelay(time.Millisecond), WithInterval(time.Hour))
	s.Track("/root")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.SyncNow("/root")
	}()

	_ = s.Run(ctx)
	assert.GreaterOrEqual(t, reindexer.callCount(), 1)
}

func TestRunContinuesAfterPerRootError(t *testing.T) {
	reindexer := &fakeReindexer{err: assertError{}}
	s := New(reindexer, nil, WithInitialDelay(time.Millisecond), WithInterval(10*time.Millisecond))
	s.Track("/root")

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)
	assert.GreaterOrEqual(t, reindexer.callCount(), 2)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
