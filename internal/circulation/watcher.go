// internal/circulation/watcher.go
package circulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"

	"readhub/internal/observability"
)

const (
	fallbackLoadAfter = 2 * time.Second
	reloadAttempts    = 3
)

// ChangeFeed delivers a notification whenever borrowed_books changes. A nil
// notification means the connection was re-established and changes may
// have been missed.
type ChangeFeed interface {
	Changes() <-chan *pq.Notification
	Close() error
}

type pqFeed struct {
	listener *pq.Listener
}

// ListenForChanges opens a LISTEN connection on channel. Reconnects are
// handled by the listener between minReconnect and maxReconnect.
func ListenForChanges(dsn, channel string, minReconnect, maxReconnect time.Duration) (ChangeFeed, error) {
	listener := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			observability.LoggerFromContext(context.Background()).Warn().Err(err).Int("event", int(ev)).Msg("change listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return &pqFeed{listener: listener}, nil
}

func (f *pqFeed) Changes() <-chan *pq.Notification {
	return f.listener.Notify
}

func (f *pqFeed) Close() error {
	return f.listener.Close()
}

// LoadFunc produces a full, enriched copy of the borrowed_books collection.
type LoadFunc func(ctx context.Context) ([]*EnrichedRecord, error)

// Watcher keeps an enriched snapshot of every loan current by reloading the
// whole collection on each change and fanning it out through a Hub.
type Watcher struct {
	feed          ChangeFeed
	load          LoadFunc
	hub           *Hub
	fallbackAfter time.Duration

	mu       sync.RWMutex
	snapshot []*EnrichedRecord
	loaded   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher. Call Start to begin consuming feed.
func NewWatcher(feed ChangeFeed, load LoadFunc, hub *Hub) *Watcher {
	return &Watcher{
		feed:          feed,
		load:          load,
		hub:           hub,
		fallbackAfter: fallbackLoadAfter,
		done:          make(chan struct{}),
	}
}

// Start runs the watch loop until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	fallback := time.NewTimer(w.fallbackAfter)
	defer fallback.Stop()

	changes := w.feed.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			w.reload(ctx)
		case <-fallback.C:
			if !w.hasSnapshot() {
				observability.LoggerFromContext(ctx).Info().Msg("no change notification yet, loading borrowed books")
				w.reload(ctx)
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	records, err := backoff.Retry(ctx, func() ([]*EnrichedRecord, error) {
		return w.load(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(reloadAttempts))
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).Msg("failed to reload borrowed books")
		return
	}

	w.mu.Lock()
	w.snapshot = records
	w.loaded = true
	w.mu.Unlock()

	w.hub.Broadcast(records)
}

func (w *Watcher) hasSnapshot() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded
}

// Snapshot returns the latest enriched collection and whether one has been
// loaded yet.
func (w *Watcher) Snapshot() ([]*EnrichedRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot, w.loaded
}

// Subscribe registers for every snapshot loaded after this call.
func (w *Watcher) Subscribe() (<-chan []*EnrichedRecord, func()) {
	return w.hub.Subscribe()
}

// Close stops the loop and releases the change feed.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return w.feed.Close()
}

// Hub fans snapshots out to stream subscribers. Subscribers that are not
// keeping up miss intermediate snapshots but always end on the latest one.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []*EnrichedRecord]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []*EnrichedRecord]struct{})}
}

// Subscribe registers a subscriber. The returned func unregisters it and
// must be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan []*EnrichedRecord, func()) {
	ch := make(chan []*EnrichedRecord, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Broadcast offers snapshot to every subscriber without blocking. A
// snapshot still waiting in a subscriber's slot is replaced.
func (h *Hub) Broadcast(snapshot []*EnrichedRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Len reports the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
