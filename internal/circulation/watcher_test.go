package circulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeFeed struct {
	ch     chan *pq.Notification
	closed atomic.Bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan *pq.Notification, 4)}
}

func (f *fakeFeed) Changes() <-chan *pq.Notification { return f.ch }

func (f *fakeFeed) Close() error {
	f.closed.Store(true)
	return nil
}

func countingLoad(calls *atomic.Int32) LoadFunc {
	return func(context.Context) ([]*EnrichedRecord, error) {
		n := calls.Add(1)
		return []*EnrichedRecord{{BorrowRecord: BorrowRecord{Renewals: int(n)}}}, nil
	}
}

func TestWatcher_ReloadsOnEveryNotification(t *testing.T) {
	defer goleak.VerifyNone(t)

	feed := newFakeFeed()
	var calls atomic.Int32
	w := NewWatcher(feed, countingLoad(&calls), NewHub())
	w.fallbackAfter = time.Hour

	updates, unsubscribe := w.Subscribe()
	defer unsubscribe()

	w.Start(context.Background())
	feed.ch <- &pq.Notification{Channel: "borrowed_books_changed"}

	select {
	case snap := <-updates:
		require.Len(t, snap, 1)
		assert.Equal(t, 1, snap[0].Renewals)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after notification")
	}

	feed.ch <- nil
	select {
	case snap := <-updates:
		assert.Equal(t, 2, snap[0].Renewals)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after reconnect")
	}

	got, loaded := w.Snapshot()
	assert.True(t, loaded)
	assert.Equal(t, 2, got[0].Renewals)

	require.NoError(t, w.Close())
	assert.True(t, feed.closed.Load())
}

func TestWatcher_FallbackLoadWithoutNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	w := NewWatcher(newFakeFeed(), countingLoad(&calls), NewHub())
	w.fallbackAfter = 10 * time.Millisecond

	_, loaded := w.Snapshot()
	assert.False(t, loaded)

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		_, loaded := w.Snapshot()
		return loaded
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Close())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHub_SlowSubscriberGetsLatestSnapshot(t *testing.T) {
	h := NewHub()
	slow, unsubscribe := h.Subscribe()
	assert.Equal(t, 1, h.Len())

	first := []*EnrichedRecord{{BorrowRecord: BorrowRecord{BookTitle: "first"}}}
	second := []*EnrichedRecord{{BorrowRecord: BorrowRecord{BookTitle: "second"}}}
	h.Broadcast(first)
	h.Broadcast(second)

	got := <-slow
	assert.Equal(t, "second", got[0].BookTitle)
	select {
	case extra := <-slow:
		t.Fatalf("unexpected extra snapshot %q", extra[0].BookTitle)
	default:
	}

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, h.Len())
	h.Broadcast(second)
}
