package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"tempocal/storage"
)

// The mutation router patches the cache only from confirmed backend results,
// never optimistically: if the backend call fails, the cache is untouched and
// the error propagates unchanged to the caller. This trades a little
// responsiveness for never having to reconcile a rejected optimistic write.

// CreateItem persists a new item and patches it into the cache. If the
// item's month bucket was never fetched, the cache is deliberately left
// untouched; a later EnsureMonth picks the row up from the backend.
// Unscheduled items (no date) go to the backlog list instead.
func (e *Engine) CreateItem(ctx context.Context, draft storage.ItemDraft) (*storage.Item, error) {
	item, err := e.store.InsertItem(ctx, draft)
	if err != nil {
		return nil, err
	}

	e.cache.PatchAdd(*item)
	e.publishItemEvent(EventItemCreated, item, item.Date)
	return item, nil
}

// UpdateItem persists an edit and re-buckets the item if its date moved to a
// different month, or to/from the unscheduled backlog. previous is the
// pre-edit row as last seen by the caller; its date locates the bucket the
// item must leave. A nil previous treats the item as previously unscheduled.
func (e *Engine) UpdateItem(ctx context.Context, id uuid.UUID, draft storage.ItemDraft, previous *storage.Item) (*storage.Item, error) {
	item, err := e.store.UpdateItem(ctx, id, draft)
	if err != nil {
		return nil, err
	}

	previousDate := mo.None[storage.Date]()
	if previous != nil {
		previousDate = previous.Date
	}

	e.cache.PatchUpdate(*item, previousDate)
	e.publishItemEvent(EventItemUpdated, item, item.Date, previousDate)
	return item, nil
}

// DeleteItem removes the item from the backend, then from whichever bucket
// its last known date maps to (or the backlog list). A no-op on the cache if
// that bucket was never fetched.
func (e *Engine) DeleteItem(ctx context.Context, item storage.Item) error {
	if err := e.store.DeleteItem(ctx, item.ID); err != nil {
		return err
	}

	e.cache.PatchRemove(item.ID, item.Date)
	e.publishItemEvent(EventItemDeleted, &item, item.Date)
	return nil
}

// publishItemEvent notifies subscribers, listing every month-key the
// mutation touched.
func (e *Engine) publishItemEvent(t EventType, item *storage.Item, dates ...mo.Option[storage.Date]) {
	var keys []string
	seen := make(map[string]struct{})
	for _, d := range dates {
		key, ok := bucketKey(d)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	e.logger.Debug("item mutation", "type", string(t), "item", item.ID, "months", keys)
	e.subs.publish(Event{Type: t, MonthKeys: keys, Item: item})
}
