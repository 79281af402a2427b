// Package memory is a map-backed Storage implementation for examples and
// testing purposes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tempocal/storage"
)

// Store implements storage.Storage using in-memory maps
type Store struct {
	mu          sync.RWMutex
	calendars   map[uuid.UUID]*storage.Calendar
	memberships map[uuid.UUID][]uuid.UUID // userID -> calendarIDs
	items       map[uuid.UUID]*storage.Item
	clock       func() time.Time
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		calendars:   make(map[uuid.UUID]*storage.Calendar),
		memberships: make(map[uuid.UUID][]uuid.UUID),
		items:       make(map[uuid.UUID]*storage.Item),
		clock:       time.Now,
	}
}

// AddCalendar registers a calendar partition and grants the listed users
// access to it. The owner is always granted access.
func (s *Store) AddCalendar(cal storage.Calendar, members ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cal
	s.calendars[cal.ID] = &c

	grant := func(userID uuid.UUID) {
		for _, id := range s.memberships[userID] {
			if id == cal.ID {
				return
			}
		}
		s.memberships[userID] = append(s.memberships[userID], cal.ID)
	}

	grant(cal.OwnerID)
	for _, m := range members {
		grant(m)
	}
}

// SeedItem inserts an item row verbatim, keeping its id and timestamps.
func (s *Store) SeedItem(item storage.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := item
	s.items[item.ID] = &it
}

func (s *Store) ListAuthorizedPartitions(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.memberships[userID]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *Store) QueryItems(_ context.Context, partitionIDs []uuid.UUID, start, end storage.Date) ([]storage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[uuid.UUID]struct{}, len(partitionIDs))
	for _, id := range partitionIDs {
		allowed[id] = struct{}{}
	}

	var out []storage.Item
	for _, item := range s.items {
		if _, ok := allowed[item.CalendarID]; !ok {
			continue
		}
		date, ok := item.Date.Get()
		if !ok {
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Store) InsertItem(_ context.Context, draft storage.ItemDraft) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.Title == "" {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "item title is required",
		}
	}
	if _, ok := s.calendars[draft.CalendarID]; !ok {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "unknown calendar " + draft.CalendarID.String(),
		}
	}

	now := s.clock()
	status := draft.Status
	if status == "" {
		status = storage.StatusPending
	}

	item := &storage.Item{
		ID:          uuid.New(),
		CalendarID:  draft.CalendarID,
		CreatedBy:   s.calendars[draft.CalendarID].OwnerID,
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Date:        draft.Date,
		ScheduledAt: draft.ScheduledAt,
		RRule:       draft.RRule,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.items[item.ID] = item

	row := *item
	return &row, nil
}

func (s *Store) UpdateItem(_ context.Context, id uuid.UUID, draft storage.ItemDraft) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "item not found",
		}
	}

	item.Title = draft.Title
	item.Description = draft.Description
	item.Location = draft.Location
	item.Date = draft.Date
	item.ScheduledAt = draft.ScheduledAt
	item.RRule = draft.RRule
	if draft.Status != "" {
		item.Status = draft.Status
	}
	if draft.CalendarID != uuid.Nil {
		item.CalendarID = draft.CalendarID
	}
	item.UpdatedAt = s.clock()

	row := *item
	return &row, nil
}

func (s *Store) DeleteItem(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "item not found",
		}
	}
	delete(s.items, id)
	return nil
}
