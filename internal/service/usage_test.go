package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageRecorder_Record(t *testing.T) {
	ctx := context.Background()
	today := domain.CalendarDate(testNow, time.UTC)

	store := newMemStore(testNow)
	u := store.addUser(repository.User{Email: "trader@example.com", LastResetDate: today})
	rec := NewUsageRecorder(store, time.UTC, testLogger())

	for want := 1; want <= 3; want++ {
		used, err := rec.Record(ctx, u.ID, 3, testNow)
		require.NoError(t, err)
		assert.Equal(t, want, used)
	}

	_, err := rec.Record(ctx, u.ID, 3, testNow)
	require.Error(t, err)
	decision, ok := domain.QuotaDecisionFrom(err)
	require.True(t, ok, "expected a quota error, got %v", err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, int(store.user(u.ID).AnalysesUsed), "a refused reservation leaves the counter alone")
}

func TestUsageRecorder_Record_RestartsOnNewDay(t *testing.T) {
	ctx := context.Background()
	yesterday := domain.CalendarDate(testNow.AddDate(0, 0, -1), time.UTC)

	store := newMemStore(testNow)
	u := store.addUser(repository.User{
		Email:         "trader@example.com",
		AnalysesUsed:  3,
		LastResetDate: yesterday,
	})
	rec := NewUsageRecorder(store, time.UTC, testLogger())

	used, err := rec.Record(ctx, u.ID, 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.True(t, store.user(u.ID).LastResetDate.Equal(domain.CalendarDate(testNow, time.UTC)))
}

func TestUsageRecorder_Record_Uncapped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	u := store.addUser(repository.User{Email: "pro@example.com", IsPremium: true})
	rec := NewUsageRecorder(store, time.UTC, testLogger())

	for range 20 {
		_, err := rec.Record(ctx, u.ID, 0, testNow)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, int(store.user(u.ID).AnalysesUsed))

	_, err := rec.Record(ctx, uuid.New(), 0, testNow)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestUsageRecorder_Release(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	u := store.addUser(repository.User{Email: "trader@example.com"})
	rec := NewUsageRecorder(store, time.UTC, testLogger())

	_, err := rec.Record(ctx, u.ID, 3, testNow)
	require.NoError(t, err)
	require.NoError(t, rec.Release(ctx, u.ID, testNow))
	assert.Zero(t, store.user(u.ID).AnalysesUsed)

	// Floored at zero.
	require.NoError(t, rec.Release(ctx, u.ID, testNow))
	assert.Zero(t, store.user(u.ID).AnalysesUsed)

	// A release for yesterday must not touch today's counter.
	_, err = rec.Record(ctx, u.ID, 3, testNow)
	require.NoError(t, err)
	require.NoError(t, rec.Release(ctx, u.ID, testNow.AddDate(0, 0, -1)))
	assert.Equal(t, 1, int(store.user(u.ID).AnalysesUsed))
}

func TestUsageRecorder_Record_ConcurrentCallersRespectCap(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	u := store.addUser(repository.User{Email: "trader@example.com"})
	rec := NewUsageRecorder(store, time.UTC, testLogger())

	var (
		wg       sync.WaitGroup
		granted  atomic.Int32
		refused  atomic.Int32
		requests = 25
	)
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rec.Record(ctx, u.ID, 3, testNow); err != nil {
				refused.Add(1)
				return
			}
			granted.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), granted.Load())
	assert.Equal(t, int32(requests-3), refused.Load())
	assert.Equal(t, 3, int(store.user(u.ID).AnalysesUsed))
}
