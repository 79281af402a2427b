// Package engine is the calendar temporal engine: a month-partitioned cache
// of dated items, a fetch coordinator that collapses concurrent requests for
// the same month into one backend call, and a mutation router that keeps the
// cache consistent as items are created, edited, moved and deleted.
//
// One Engine is built per authenticated session and holds that session's
// cache; ResetAll discards everything on sign-out.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tempocal/storage"
)

// fetchHandle is the shared handle for one in-flight month fetch. Callers
// that find a handle in the in-flight map wait on done instead of issuing a
// duplicate request; err is valid once done is closed.
type fetchHandle struct {
	done chan struct{}
	err  error
}

// Engine coordinates fetches and mutations against the backing store on
// behalf of one user session.
type Engine struct {
	store  storage.Storage
	cfg    Config
	logger *slog.Logger
	userID uuid.UUID

	cache *MonthCache
	subs  *subscribers

	mu               sync.Mutex
	inflight         map[string]*fetchHandle
	partitions       []uuid.UUID
	partitionsLoaded bool
	partitionsFetch  *fetchHandle
}

// New creates an Engine for the given user session. A nil logger discards
// log output.
func New(store storage.Storage, userID uuid.UUID, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		userID:   userID,
		cache:    NewMonthCache(cfg.MaxCachedMonths),
		subs:     newSubscribers(),
		inflight: make(map[string]*fetchHandle),
	}
}

// Cache exposes the month cache for read access.
func (e *Engine) Cache() *MonthCache {
	return e.cache
}

// Subscribe registers a change-notification channel. Sends never block; a
// slow consumer misses events and should re-read the cache. The returned
// cancel func must be called to release the subscription.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.subs.subscribe()
}

// GetCachedMonth returns a copy of the month's cached items, or (nil, false)
// if the month was never fetched.
func (e *Engine) GetCachedMonth(year int, month time.Month) ([]storage.Item, bool) {
	return e.cache.Get(year, month)
}

// Unscheduled returns the cached backlog items (date == nil).
func (e *Engine) Unscheduled() []storage.Item {
	return e.cache.Unscheduled()
}

// CachedMonths returns the keys of every cached month bucket.
func (e *Engine) CachedMonths() []string {
	return e.cache.Keys()
}

// EnsureMonth guarantees the month's bucket is populated, fetching it from
// the backing store if needed. Concurrent calls for the same month collapse
// into a single backend request; later callers share the first request's
// outcome.
//
// On failure the bucket is left absent so a retry can succeed; the error is
// returned to every caller sharing the request. A caller whose ctx is
// cancelled stops waiting, but the fetch itself runs to completion and still
// populates the cache. A ResetAll during the fetch deregisters its handle;
// the result is then dropped instead of cached, so rows fetched under the
// old session never land in the fresh cache.
func (e *Engine) EnsureMonth(ctx context.Context, year int, month time.Month) error {
	if e.cache.Has(year, month) {
		return nil
	}
	key := Key(year, month)

	e.mu.Lock()
	if h, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return e.await(ctx, h)
	}
	if e.cache.Has(year, month) {
		// A fetch we never saw in flight completed between the Has check
		// above and taking the lock.
		e.mu.Unlock()
		return nil
	}
	h := &fetchHandle{done: make(chan struct{})}
	e.inflight[key] = h
	e.mu.Unlock()

	e.cache.Pin(key)
	// The fetch deliberately survives the caller: a cancelled foreground
	// request still usefully populates the cache for a later visit.
	items, err := e.fetchMonth(context.WithoutCancel(ctx), year, month)

	// The handle is still registered unless ResetAll swapped the map out
	// from under us; checking and caching under one lock section keeps
	// ResetAll from interleaving between the two.
	e.mu.Lock()
	current := e.inflight[key] == h
	if current {
		delete(e.inflight, key)
		if err == nil {
			e.cache.Set(year, month, items)
		}
	}
	e.mu.Unlock()
	e.cache.Unpin(key)

	switch {
	case err == nil && current:
		e.publishMonthLoaded(year, month, len(items))
	case err == nil && !current:
		err = &storage.Error{
			Type:    storage.ErrTransient,
			Message: fmt.Sprintf("session reset while fetching %s", key),
		}
	}

	h.err = err
	close(h.done)

	return err
}

// await blocks until the shared fetch settles or the caller's context is
// cancelled.
func (e *Engine) await(ctx context.Context, h *fetchHandle) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchMonth resolves partitions and queries the month's rows. It never
// touches the cache; EnsureMonth decides whether the result still belongs
// there.
func (e *Engine) fetchMonth(ctx context.Context, year int, month time.Month) ([]storage.Item, error) {
	partitions, err := e.partitionIDs(ctx)
	if err != nil {
		return nil, err
	}

	// No authorized partitions is a normal state during initial load, not
	// an error: the month caches as empty without a query.
	if len(partitions) == 0 {
		return nil, nil
	}

	start, end := storage.MonthRange(year, month)
	items, err := e.store.QueryItems(ctx, partitions, start, end)
	if err != nil {
		e.logger.Warn("month fetch failed",
			"month", Key(year, month),
			"error", err)
		return nil, &storage.Error{
			Type:    storage.ErrTransient,
			Message: fmt.Sprintf("fetching items for %s", Key(year, month)),
			Err:     err,
		}
	}
	return items, nil
}

func (e *Engine) publishMonthLoaded(year int, month time.Month, count int) {
	e.logger.Debug("month loaded", "month", Key(year, month), "items", count)
	e.subs.publish(Event{Type: EventMonthLoaded, MonthKeys: []string{Key(year, month)}})
}

// PrefetchAdjacent warms the months immediately before and after the given
// one. Fire and forget: it returns immediately, skips months already cached
// or in flight, and swallows failures (prefetching is an optimization, never
// a correctness requirement).
func (e *Engine) PrefetchAdjacent(year int, month time.Month) {
	if !e.cfg.PrefetchEnabled {
		return
	}

	prev := time.Date(year, month-1, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)

	for _, m := range []time.Time{prev, next} {
		y, mon := m.Year(), m.Month()
		if e.cache.Has(y, mon) || e.isInflight(Key(y, mon)) {
			continue
		}
		go func() {
			if err := e.EnsureMonth(context.Background(), y, mon); err != nil {
				e.logger.Debug("prefetch failed", "month", Key(y, mon), "error", err)
			}
		}()
	}
}

func (e *Engine) isInflight(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[key]
	return ok
}

// partitionIDs resolves and caches the user's authorized partition list.
// Concurrent first fetches for different months collapse into a single
// ListAuthorizedPartitions call, same handle pattern as EnsureMonth.
func (e *Engine) partitionIDs(ctx context.Context) ([]uuid.UUID, error) {
	e.mu.Lock()
	for {
		if e.partitionsLoaded {
			ids := e.partitions
			e.mu.Unlock()
			return ids, nil
		}
		h := e.partitionsFetch
		if h == nil {
			break
		}
		e.mu.Unlock()
		if err := e.await(ctx, h); err != nil {
			return nil, err
		}
		// The owner may have had its result dropped by an invalidation;
		// loop and re-check, becoming the new owner if needed.
		e.mu.Lock()
	}
	h := &fetchHandle{done: make(chan struct{})}
	e.partitionsFetch = h
	e.mu.Unlock()

	ids, err := e.store.ListAuthorizedPartitions(ctx, e.userID)
	if err != nil {
		err = &storage.Error{
			Type:    storage.ErrTransient,
			Message: "listing authorized partitions",
			Err:     err,
		}
	}

	e.mu.Lock()
	if e.partitionsFetch == h {
		e.partitionsFetch = nil
		if err == nil {
			e.partitions = ids
			e.partitionsLoaded = true
		}
	}
	e.mu.Unlock()

	h.err = err
	close(h.done)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// InvalidatePartitions drops the cached partition list so the next fetch
// re-resolves it. Call after calendar membership changes. An in-flight
// resolve is deregistered; its result is discarded.
func (e *Engine) InvalidatePartitions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidatePartitionsLocked()
}

func (e *Engine) invalidatePartitionsLocked() {
	e.partitions = nil
	e.partitionsLoaded = false
	e.partitionsFetch = nil
}

// ResetAll clears the entire session state: every bucket, the unscheduled
// list, the in-flight map and the partition cache. Fetches in flight at
// reset time finish against the backend, but their handles are no longer
// registered, so their results are dropped rather than cached; the fresh
// cache only ever holds rows fetched after the reset.
func (e *Engine) ResetAll() {
	e.mu.Lock()
	e.inflight = make(map[string]*fetchHandle)
	e.invalidatePartitionsLocked()
	e.cache.ResetAll()
	e.mu.Unlock()

	e.subs.publish(Event{Type: EventReset})
	e.logger.Info("engine reset")
}
