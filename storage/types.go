// Package storage defines the row-oriented interface of the backing store
// this engine consumes, together with the row types and error taxonomy shared
// across the module. The store itself (query transport, authentication,
// realtime channels) is an external collaborator; implement Storage to
// connect it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Error types
type ErrorType string

const (
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound ErrorType = "not_found"
	// ErrConflict means the backend rejected a mutation, e.g. a stale id.
	ErrConflict ErrorType = "conflict"
	// ErrTransient means a network or backend failure that may succeed on retry.
	ErrTransient ErrorType = "transient"
	// ErrInvalidInput means the payload failed backend validation.
	ErrInvalidInput ErrorType = "invalid_input"
)

// Error represents a storage-related error. Please use the error types
// provided when implementing Storage.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsType reports whether any error in err's chain is a storage Error of the
// given type.
func IsType(err error, t ErrorType) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == t
}

// ItemStatus tracks task completion. Events leave it at StatusPending.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusCompleted ItemStatus = "completed"
)

// Item is a dated event or task row. An absent Date marks an
// unscheduled/backlog item; those are never bucketed by month.
type Item struct {
	ID          uuid.UUID
	CalendarID  uuid.UUID
	CreatedBy   uuid.UUID
	Title       string
	Description string
	Location    string
	Date        mo.Option[Date]
	ScheduledAt mo.Option[TimeOfDay]
	// RRule holds an optional iCalendar recurrence rule (without the
	// "RRULE:" prefix), expanded at query time; see the recurrence package.
	RRule     string
	Status    ItemStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemDraft is the mutable payload of an insert or update. The backend fills
// in identity and timestamps and returns the authoritative row.
type ItemDraft struct {
	CalendarID  uuid.UUID
	Title       string
	Description string
	Location    string
	Date        mo.Option[Date]
	ScheduledAt mo.Option[TimeOfDay]
	RRule       string
	Status      ItemStatus
}

// Calendar is a data partition: a personal or shared calendar whose id gates
// which items a user may query.
type Calendar struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	IsShared  bool
	CreatedAt time.Time
}

// Storage is the interface the backing-store collaborator must implement.
type Storage interface {
	// ListAuthorizedPartitions returns the calendar ids the user may read.
	// An empty list is a normal state ("nothing to fetch"), not an error.
	ListAuthorizedPartitions(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// QueryItems returns every item in the given partitions whose date falls
	// within [start, end] inclusive. Unscheduled items are never returned.
	QueryItems(ctx context.Context, partitionIDs []uuid.UUID, start, end Date) ([]Item, error)
	// InsertItem persists a new item and returns the authoritative row.
	InsertItem(ctx context.Context, draft ItemDraft) (*Item, error)
	// UpdateItem applies draft to the item with the given id and returns the
	// authoritative row. Returns ErrNotFound if the id is unknown.
	UpdateItem(ctx context.Context, id uuid.UUID, draft ItemDraft) (*Item, error)
	// DeleteItem removes an item. Returns ErrNotFound if the id is unknown.
	DeleteItem(ctx context.Context, id uuid.UUID) error
}
