package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/testutil"
)

func newHold(idem string, createdAt time.Time) domain.Hold {
	return domain.Hold{
		ID:             uuid.NewString(),
		IdempotencyKey: idem,
		Service:        domain.ServiceDaycare,
		Date:           monday,
		Slot:           domain.SlotAllDay,
		UserEmail:      "owner@pawstay.test",
		Status:         domain.HoldActive,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(10 * time.Minute),
	}
}

func TestHoldRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := repository.NewHoldRepository(pool)
	now := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)

	t.Run("InsertIfAbsent keeps the first hold for a key", func(t *testing.T) {
		testutil.TruncateAll(t, pool)
		ctx := context.Background()

		first := newHold("idem-1", now)
		first.DogID = "rex"
		stored, created, err := repo.InsertIfAbsent(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, first.ID, stored.ID)
		assert.Equal(t, "rex", stored.DogID)
		assert.True(t, monday.Equal(stored.Date))

		second := newHold("idem-1", now.Add(time.Minute))
		stored, created, err = repo.InsertIfAbsent(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, stored.ID, "the replay returns the original hold")

		missing, err := repo.FindByIdempotencyKey(ctx, "idem-2")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("InsertIfAbsent under concurrency creates once", func(t *testing.T) {
		testutil.TruncateAll(t, pool)
		ctx := context.Background()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			ids     = map[string]struct{}{}
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stored, ok, err := repo.InsertIfAbsent(ctx, newHold("same-key", now))
				if err != nil {
					t.Errorf("insert: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if ok {
					created++
				}
				ids[stored.ID] = struct{}{}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)
	})

	t.Run("Transition is guarded by the current status", func(t *testing.T) {
		testutil.TruncateAll(t, pool)
		ctx := context.Background()
		h, _, err := repo.InsertIfAbsent(ctx, newHold("idem-t", now))
		require.NoError(t, err)

		moved, err := repo.Transition(ctx, h.ID, domain.HoldActive, domain.HoldConfirmed, now)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = repo.Transition(ctx, h.ID, domain.HoldActive, domain.HoldExpired, now)
		require.NoError(t, err)
		assert.False(t, moved, "a confirmed hold cannot expire")

		moved, err = repo.Transition(ctx, h.ID, domain.HoldConfirmed, domain.HoldCancelled, now)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = repo.Transition(ctx, "not-a-uuid", domain.HoldActive, domain.HoldReleased, now)
		require.NoError(t, err)
		assert.False(t, moved)

		got, err := repo.GetByID(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldCancelled, got.Status)
	})

	t.Run("concurrent transitions move a hold once", func(t *testing.T) {
		testutil.TruncateAll(t, pool)
		ctx := context.Background()
		h, _, err := repo.InsertIfAbsent(ctx, newHold("idem-race", now))
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			moves int
		)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Transition(ctx, h.ID, domain.HoldActive, domain.HoldExpired, now)
				if err != nil {
					t.Errorf("transition: %v", err)
					return
				}
				if ok {
					mu.Lock()
					moves++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, moves)
	})

	t.Run("ListExpired and CountLive", func(t *testing.T) {
		testutil.TruncateAll(t, pool)
		ctx := context.Background()

		old, _, err := repo.InsertIfAbsent(ctx, newHold("old", now))
		require.NoError(t, err)
		fresh, _, err := repo.InsertIfAbsent(ctx, newHold("fresh", now.Add(8*time.Minute)))
		require.NoError(t, err)
		confirmed, _, err := repo.InsertIfAbsent(ctx, newHold("paid", now))
		require.NoError(t, err)
		_, err = repo.Transition(ctx, confirmed.ID, domain.HoldActive, domain.HoldConfirmed, now)
		require.NoError(t, err)

		expired, err := repo.ListExpired(ctx, now.Add(11*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, old.ID, expired[0].ID)

		live, err := repo.CountLive(ctx, monday)
		require.NoError(t, err)
		assert.Equal(t, 3, live[domain.NewCapacityKey(domain.ServiceDaycare, monday, "")])

		_, err = repo.Transition(ctx, fresh.ID, domain.HoldActive, domain.HoldReleased, now)
		require.NoError(t, err)
		live, err = repo.CountLive(ctx, monday)
		require.NoError(t, err)
		assert.Equal(t, 2, live[domain.NewCapacityKey(domain.ServiceDaycare, monday, "")])
	})
}
