// Package reconcile owns the client-side bookmark collection for one
// signed-in owner. Three independent update channels land here — the
// bulk fetch, the server's change feed, and the cross-instance signal —
// and are merged by keeping every identifier-keyed operation idempotent
// and treating the bulk fetch as ground truth.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/signal"
)

// State describes the collection lifecycle.
type State string

const (
	// StateLoading holds before the first bulk fetch completes.
	StateLoading State = "loading"
	// StateReady holds once a bulk fetch has populated the collection,
	// possibly with zero entries. Refreshes while ready replace data in
	// place without re-entering loading.
	StateReady State = "ready"
	// StateLoadFailed holds when the first bulk fetch failed and no
	// collection exists yet. A later Refresh is the retry affordance.
	StateLoadFailed State = "load_failed"
)

var (
	errMissingStore = errors.New("reconcile: store client required")
	// ErrFeedClosed indicates the change feed ended; the reconciler does
	// not reconnect on its own.
	ErrFeedClosed = errors.New("reconcile: change feed closed")
	// ErrNotTracked indicates a delete was requested for an identifier
	// absent from the local collection.
	ErrNotTracked = errors.New("reconcile: bookmark not in collection")
)

// Store is the slice of the data-access client the reconciler consumes.
type Store interface {
	SelectAll(ctx context.Context) ([]bookmarks.Bookmark, error)
	DeleteByID(ctx context.Context, bookmarkID string) error
	SubscribeChanges(ctx context.Context) (<-chan bookmarks.ChangeEvent, error)
}

// Config bundles the reconciler's dependencies. Signals may be nil when
// the instance runs without siblings.
type Config struct {
	Store   Store
	Signals signal.Broadcaster
	Logger  *zap.Logger
}

// Reconciler holds the authoritative local collection, newest first and
// unique by identifier.
type Reconciler struct {
	store   Store
	signals signal.Broadcaster
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	items       []bookmarks.Bookmark
	subscribers map[int64]func()
	nextSubID   int64
}

// New validates the configuration and constructs a Reconciler in the
// loading state.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:       cfg.Store,
		signals:     cfg.Signals,
		logger:      logger,
		state:       StateLoading,
		subscribers: make(map[int64]func()),
	}, nil
}

// Run subscribes to the change feed and the cross-instance signal, does
// the initial bulk fetch, and merges both channels until ctx is
// canceled or the feed closes. Both subscriptions are released on every
// exit path.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.store.SubscribeChanges(ctx)
	if err != nil {
		r.logger.Error("change feed subscription failed", zap.Error(err))
		return fmt.Errorf("reconcile: subscribe changes: %w", err)
	}

	var markers <-chan signal.Marker
	if r.signals != nil {
		var cleanup func()
		markers, cleanup = r.signals.Subscribe(ctx)
		defer cleanup()
	}

	// First-fetch failure leaves the reconciler in load_failed; a later
	// signal or an explicit Refresh retries.
	_ = r.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, open := <-events:
			if !open {
				return ErrFeedClosed
			}
			r.Apply(event)
		case _, open := <-markers:
			if !open {
				markers = nil
				continue
			}
			// The marker carries no payload semantics: always resync fully.
			_ = r.Refresh(ctx)
		}
	}
}

// Refresh performs the bulk fetch and replaces the entire collection
// with the result. This is the sole consistency-repair mechanism: it
// heals divergence from missed or duplicated incremental events. On
// failure the prior collection is untouched.
func (r *Reconciler) Refresh(ctx context.Context) error {
	listed, err := r.store.SelectAll(ctx)
	if err != nil {
		r.logger.Error("bookmark bulk fetch failed", zap.Error(err))
		r.mu.Lock()
		if r.state == StateLoading {
			r.state = StateLoadFailed
		}
		callbacks := r.snapshotSubscribersLocked()
		r.mu.Unlock()
		notify(callbacks)
		return fmt.Errorf("reconcile: bulk fetch: %w", err)
	}

	replacement := make([]bookmarks.Bookmark, len(listed))
	copy(replacement, listed)

	r.mu.Lock()
	r.items = replacement
	r.state = StateReady
	callbacks := r.snapshotSubscribersLocked()
	r.mu.Unlock()
	notify(callbacks)
	return nil
}

// Apply folds one change-feed event into the collection. Inserts
// prepend only when the identifier is absent, so the optimistic path
// and the feed racing never produce duplicates. Updates replace in
// place without resorting. Deletes of absent identifiers are no-ops.
func (r *Reconciler) Apply(event bookmarks.ChangeEvent) {
	r.mu.Lock()
	changed := false
	switch event.Kind {
	case bookmarks.ChangeKindInsert:
		if r.indexOfLocked(event.Bookmark.ID) < 0 {
			r.items = append([]bookmarks.Bookmark{event.Bookmark}, r.items...)
			changed = true
		}
	case bookmarks.ChangeKindUpdate:
		if index := r.indexOfLocked(event.Bookmark.ID); index >= 0 {
			r.items[index] = event.Bookmark
			changed = true
		}
	case bookmarks.ChangeKindDelete:
		if index := r.indexOfLocked(event.BookmarkID); index >= 0 {
			r.items = append(r.items[:index], r.items[index+1:]...)
			changed = true
		}
	}
	callbacks := r.snapshotSubscribersLocked()
	r.mu.Unlock()
	if changed {
		notify(callbacks)
	}
}

// Delete removes the bookmark locally first, then issues the store
// call. The later feed event for the same deletion finds nothing and is
// a no-op. If the store call fails the optimistic removal is rolled
// back, so the view converges with the store without waiting for the
// next bulk fetch.
func (r *Reconciler) Delete(ctx context.Context, bookmarkID string) error {
	r.mu.Lock()
	index := r.indexOfLocked(bookmarkID)
	if index < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTracked, bookmarkID)
	}
	removed := r.items[index]
	r.items = append(r.items[:index], r.items[index+1:]...)
	callbacks := r.snapshotSubscribersLocked()
	r.mu.Unlock()
	notify(callbacks)

	if err := r.store.DeleteByID(ctx, bookmarkID); err != nil {
		r.logger.Error("bookmark delete failed", zap.Error(err), zap.String("bookmark_id", bookmarkID))
		r.restore(removed, index)
		return fmt.Errorf("reconcile: delete %s: %w", bookmarkID, err)
	}

	if r.signals != nil {
		if err := r.signals.Announce(ctx); err != nil {
			r.logger.Warn("change marker announce failed", zap.Error(err))
		}
	}
	return nil
}

// restore reinserts a rolled-back bookmark near its prior position. The
// feed may have shifted the collection meanwhile, so the index is
// clamped and the insert skipped when the identifier reappeared.
func (r *Reconciler) restore(record bookmarks.Bookmark, index int) {
	r.mu.Lock()
	if r.indexOfLocked(record.ID) >= 0 {
		r.mu.Unlock()
		return
	}
	if index > len(r.items) {
		index = len(r.items)
	}
	r.items = append(r.items[:index], append([]bookmarks.Bookmark{record}, r.items[index:]...)...)
	callbacks := r.snapshotSubscribersLocked()
	r.mu.Unlock()
	notify(callbacks)
}

// Snapshot returns a copy of the current collection, newest first.
func (r *Reconciler) Snapshot() []bookmarks.Bookmark {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]bookmarks.Bookmark, len(r.items))
	copy(copied, r.items)
	return copied
}

// State reports the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnChange registers a callback invoked after every visible collection
// or state change. The returned function unsubscribes.
func (r *Reconciler) OnChange(callback func()) func() {
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subscribers[id] = callback
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) indexOfLocked(bookmarkID string) int {
	for index, item := range r.items {
		if item.ID == bookmarkID {
			return index
		}
	}
	return -1
}

func (r *Reconciler) snapshotSubscribersLocked() []func() {
	callbacks := make([]func(), 0, len(r.subscribers))
	for _, callback := range r.subscribers {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}

func notify(callbacks []func()) {
	for _, callback := range callbacks {
		callback()
	}
}
