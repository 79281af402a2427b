package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

// ListAuthorizedPartitions implements the Storage interface
func (m *MockStorage) ListAuthorizedPartitions(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// QueryItems implements the Storage interface
func (m *MockStorage) QueryItems(ctx context.Context, partitionIDs []uuid.UUID, start, end Date) ([]Item, error) {
	args := m.Called(ctx, partitionIDs, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Item), args.Error(1)
}

// InsertItem implements the Storage interface
func (m *MockStorage) InsertItem(ctx context.Context, draft ItemDraft) (*Item, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Item), args.Error(1)
}

// UpdateItem implements the Storage interface
func (m *MockStorage) UpdateItem(ctx context.Context, id uuid.UUID, draft ItemDraft) (*Item, error) {
	args := m.Called(ctx, id, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Item), args.Error(1)
}

// DeleteItem implements the Storage interface
func (m *MockStorage) DeleteItem(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Helper methods for creating test data ---

// NewMockItem creates a test Item scheduled on the given ISO date; an empty
// date yields an unscheduled item.
func NewMockItem(calendarID uuid.UUID, title, isoDate string) Item {
	item := Item{
		ID:         uuid.New(),
		CalendarID: calendarID,
		CreatedBy:  uuid.New(),
		Title:      title,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if isoDate != "" {
		d, err := ParseDate(isoDate)
		if err != nil {
			panic(err)
		}
		item.Date = mo.Some(d)
	}
	return item
}

// NewMockCalendar creates a test Calendar owned by a fresh user.
func NewMockCalendar(name string, shared bool) Calendar {
	return Calendar{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      name,
		IsShared:  shared,
		CreatedAt: time.Now(),
	}
}
