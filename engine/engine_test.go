package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempocal/storage"
)

var testUser = uuid.MustParse("0b83b2c0-0000-4000-8000-000000000001")

func newTestEngine(t *testing.T, store storage.Storage) *Engine {
	t.Helper()
	cfg := DefaultConfig
	cfg.MaxCachedMonths = 0 // most tests don't want eviction in the way
	return New(store, testUser, cfg, nil)
}

func stubPartitions(m *storage.MockStorage, ids ...uuid.UUID) {
	m.On("ListAuthorizedPartitions", mock.Anything, testUser).Return(ids, nil)
}

func TestEnsureMonth_FetchesAndCaches(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	items := []storage.Item{
		storage.NewMockItem(partition, "a", "2025-06-01"),
		storage.NewMockItem(partition, "b", "2025-06-15"),
		storage.NewMockItem(partition, "c", "2025-06-30"),
	}
	start, end := storage.MonthRange(2025, time.June)
	store.On("QueryItems", mock.Anything, []uuid.UUID{partition}, start, end).Return(items, nil)

	e := newTestEngine(t, store)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))

	cached, ok := e.GetCachedMonth(2025, time.June)
	require.True(t, ok)
	assert.Len(t, cached, 3)

	// Second call is a cache hit: zero additional backend calls.
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	store.AssertNumberOfCalls(t, "QueryItems", 1)
}

func TestEnsureMonth_ConcurrentCallsCollapse(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	gate := make(chan struct{})
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.EnsureMonth(context.Background(), 2025, time.June)
		}()
	}

	// Give every caller time to either own or attach to the in-flight
	// request, then release the backend.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	store.AssertNumberOfCalls(t, "QueryItems", 1)
	assert.True(t, e.Cache().Has(2025, time.June))
}

func TestEnsureMonth_FailureLeavesBucketAbsent(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	boom := errors.New("connection reset")
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, boom).Once()
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil).Once()

	e := newTestEngine(t, store)

	err := e.EnsureMonth(context.Background(), 2025, time.June)
	require.Error(t, err)
	assert.True(t, storage.IsType(err, storage.ErrTransient))
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.Cache().Has(2025, time.June), "failed fetch must not cache a bucket")

	// The absent bucket means a retry issues a fresh request and succeeds.
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	assert.True(t, e.Cache().Has(2025, time.June))
	store.AssertNumberOfCalls(t, "QueryItems", 2)
}

func TestEnsureMonth_EmptyPartitionListIsEmptyMonth(t *testing.T) {
	store := &storage.MockStorage{}
	stubPartitions(store) // no authorized partitions

	e := newTestEngine(t, store)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))

	cached, ok := e.GetCachedMonth(2025, time.June)
	assert.True(t, ok)
	assert.Empty(t, cached)
	store.AssertNotCalled(t, "QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureMonth_PartitionListCachedAcrossFetches(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.July))
	store.AssertNumberOfCalls(t, "ListAuthorizedPartitions", 1)

	e.InvalidatePartitions()
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.August))
	store.AssertNumberOfCalls(t, "ListAuthorizedPartitions", 2)
}

func TestEnsureMonth_WaiterContextCancellation(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	gate := make(chan struct{})
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	ownerDone := make(chan error, 1)
	go func() { ownerDone <- e.EnsureMonth(context.Background(), 2025, time.June) }()

	// Wait for the owner to register its in-flight handle.
	require.Eventually(t, func() bool { return e.isInflight(Key(2025, time.June)) },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() { waiterDone <- e.EnsureMonth(ctx, 2025, time.June) }()

	cancel()
	err := <-waiterDone
	assert.ErrorIs(t, err, context.Canceled)

	// The fetch itself was not cancelled; it completes and populates the
	// cache for later visits.
	close(gate)
	require.NoError(t, <-ownerDone)
	assert.True(t, e.Cache().Has(2025, time.June))
	store.AssertNumberOfCalls(t, "QueryItems", 1)
}

func TestPrefetchAdjacent(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	e.PrefetchAdjacent(2025, time.June)

	require.Eventually(t, func() bool {
		return e.Cache().Has(2025, time.May) && e.Cache().Has(2025, time.July)
	}, time.Second, time.Millisecond)

	// June was cached, May and July were prefetched: exactly 3 queries.
	store.AssertNumberOfCalls(t, "QueryItems", 3)

	// Prefetching again is a no-op: everything is cached.
	e.PrefetchAdjacent(2025, time.June)
	time.Sleep(20 * time.Millisecond)
	store.AssertNumberOfCalls(t, "QueryItems", 3)
}

func TestPrefetchAdjacent_YearBoundary(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	e.PrefetchAdjacent(2025, time.January)

	require.Eventually(t, func() bool {
		return e.Cache().Has(2024, time.December) && e.Cache().Has(2025, time.February)
	}, time.Second, time.Millisecond)
}

func TestPrefetchAdjacent_FailuresAreSwallowed(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("backend down"))

	e := newTestEngine(t, store)

	// Must not panic or surface anywhere; buckets simply stay absent.
	e.PrefetchAdjacent(2025, time.June)

	require.Eventually(t, func() bool {
		return !e.isInflight(Key(2025, time.May)) && !e.isInflight(Key(2025, time.July))
	}, time.Second, time.Millisecond)
	assert.False(t, e.Cache().Has(2025, time.May))
	assert.False(t, e.Cache().Has(2025, time.July))
}

func TestPrefetchDisabled(t *testing.T) {
	store := &storage.MockStorage{}
	cfg := DefaultConfig
	cfg.PrefetchEnabled = false

	e := New(store, testUser, cfg, nil)
	e.PrefetchAdjacent(2025, time.June)

	time.Sleep(20 * time.Millisecond)
	store.AssertNotCalled(t, "QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestScenario_FetchPrefetchThenCacheHit(t *testing.T) {
	// The end-to-end flow: empty cache, EnsureMonth resolves 3 items,
	// PrefetchAdjacent triggers exactly 2 further calls, and a second
	// EnsureMonth makes zero additional backend calls.
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	items := []storage.Item{
		storage.NewMockItem(partition, "a", "2025-06-01"),
		storage.NewMockItem(partition, "b", "2025-06-15"),
		storage.NewMockItem(partition, "c", "2025-06-30"),
	}
	juneStart, juneEnd := storage.MonthRange(2025, time.June)
	mayStart, mayEnd := storage.MonthRange(2025, time.May)
	julyStart, julyEnd := storage.MonthRange(2025, time.July)

	store.On("QueryItems", mock.Anything, mock.Anything, juneStart, juneEnd).Return(items, nil)
	store.On("QueryItems", mock.Anything, mock.Anything, mayStart, mayEnd).Return([]storage.Item{}, nil)
	store.On("QueryItems", mock.Anything, mock.Anything, julyStart, julyEnd).Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	june, ok := e.GetCachedMonth(2025, time.June)
	require.True(t, ok)
	assert.Len(t, june, 3)

	e.PrefetchAdjacent(2025, time.June)
	require.Eventually(t, func() bool {
		return e.Cache().Has(2025, time.May) && e.Cache().Has(2025, time.July)
	}, time.Second, time.Millisecond)

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	store.AssertNumberOfCalls(t, "QueryItems", 3)
}

func TestResetAll(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))

	e.ResetAll()

	assert.False(t, e.Cache().Has(2025, time.June))
	assert.Empty(t, e.Unscheduled())

	// The partition list is re-resolved on the next fetch.
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	store.AssertNumberOfCalls(t, "ListAuthorizedPartitions", 2)
}

func TestResetAll_DropsInFlightFetchResult(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	gate := make(chan struct{})
	preSignout := []storage.Item{storage.NewMockItem(partition, "pre-signout row", "2025-06-15")}
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return(preSignout, nil)

	e := newTestEngine(t, store)

	ownerDone := make(chan error, 1)
	go func() { ownerDone <- e.EnsureMonth(context.Background(), 2025, time.June) }()

	require.Eventually(t, func() bool { return e.isInflight(Key(2025, time.June)) },
		time.Second, time.Millisecond)

	// Sign out while the June fetch is still against the backend, then let
	// it finish.
	e.ResetAll()
	close(gate)

	err := <-ownerDone
	require.Error(t, err)
	assert.True(t, storage.IsType(err, storage.ErrTransient))

	// The rows were fetched under the old session's partition list; they
	// must not appear in the post-reset cache.
	assert.False(t, e.Cache().Has(2025, time.June))
	assert.Empty(t, e.CachedMonths())

	// A fresh fetch re-resolves partitions and populates the new session.
	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))
	assert.True(t, e.Cache().Has(2025, time.June))
	store.AssertNumberOfCalls(t, "ListAuthorizedPartitions", 2)
}

func TestResetAll_ClearsInFlightMap(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()
	stubPartitions(store, partition)

	gate := make(chan struct{})
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	done := make(chan error, 1)
	go func() { done <- e.EnsureMonth(context.Background(), 2025, time.June) }()
	require.Eventually(t, func() bool { return e.isInflight(Key(2025, time.June)) },
		time.Second, time.Millisecond)

	e.ResetAll()
	assert.False(t, e.isInflight(Key(2025, time.June)),
		"reset must deregister in-flight handles")

	close(gate)
	<-done
}

func TestPartitionList_ConcurrentResolutionCollapses(t *testing.T) {
	store := &storage.MockStorage{}
	partition := uuid.New()

	gate := make(chan struct{})
	store.On("ListAuthorizedPartitions", mock.Anything, testUser).
		Run(func(mock.Arguments) { <-gate }).
		Return([]uuid.UUID{partition}, nil)
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)

	// First fetches for six different months race to resolve the
	// partition list; only one backend call may go out.
	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.EnsureMonth(context.Background(), 2025, time.Month(i+1))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	store.AssertNumberOfCalls(t, "ListAuthorizedPartitions", 1)
	store.AssertNumberOfCalls(t, "QueryItems", callers)
}

func TestSubscribe_MonthLoadedAndReset(t *testing.T) {
	store := &storage.MockStorage{}
	stubPartitions(store, uuid.New())
	store.On("QueryItems", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]storage.Item{}, nil)

	e := newTestEngine(t, store)
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.EnsureMonth(context.Background(), 2025, time.June))

	ev := <-ch
	assert.Equal(t, EventMonthLoaded, ev.Type)
	assert.Equal(t, []string{"2025-5"}, ev.MonthKeys)

	e.ResetAll()
	ev = <-ch
	assert.Equal(t, EventReset, ev.Type)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	e := newTestEngine(t, &storage.MockStorage{})

	ch, cancel := e.Subscribe()
	assert.Equal(t, 1, e.subs.len())

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, e.subs.len())

	cancel() // second cancel is a no-op
}
