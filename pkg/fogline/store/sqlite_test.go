package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertEvent_NewAndDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	evt := event.New(event.TypeCrowdGathering, "cam-1", 62,
		event.WithExtra("zone", "north"))
	now := time.Now()

	inserted, err := s.InsertEvent(ctx, evt, now)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same event ID is a clean duplicate, not an error.
	inserted, err = s.InsertEvent(ctx, evt, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, inserted)

	rec, err := s.GetEvent(ctx, evt.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeCrowdGathering, rec.EventType)
	assert.Equal(t, "cam-1", rec.SourceID)
	assert.Equal(t, 62, rec.MetricCount)
	assert.Equal(t, map[string]string{"zone": "north"}, rec.Extra)
}

func TestInsertEvent_RollupMovesOncePerEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := event.New(event.TypeRoutineUpdate, "cam-1", 10)
	second := event.New(event.TypeSuddenSpike, "cam-1", 35)

	_, err := s.InsertEvent(ctx, first, now)
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, second, now)
	require.NoError(t, err)

	// The duplicate insert must leave the rollup untouched.
	_, err = s.InsertEvent(ctx, second, now)
	require.NoError(t, err)

	st, err := s.GetSourceState(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.EventCount)
	assert.Equal(t, second.EventID, st.LastEventID)
	assert.Equal(t, event.TypeSuddenSpike, st.LastEventType)
	assert.Equal(t, 35, st.LastMetricCount)
}

func TestInsertEvent_ConcurrentSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	evt := event.New(event.TypeRoutineUpdate, "cam-1", 5)

	const workers = 8
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.InsertEvent(ctx, evt, time.Now())
			assert.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	var insertedCount int
	for ok := range results {
		if ok {
			insertedCount++
		}
	}
	// Exactly one attempt wins regardless of interleaving.
	assert.Equal(t, 1, insertedCount)

	st, err := s.GetSourceState(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.EventCount)
}

func TestGetEvent_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetSourceState(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()
	evt := event.New(event.TypeCameraOffline, "cam-7", 0)

	s1, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s1.InsertEvent(ctx, evt, time.Now())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.GetEvent(ctx, evt.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeCameraOffline, rec.EventType)

	// Reopen still sees the ID as processed.
	inserted, err := s2.InsertEvent(ctx, evt, time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
