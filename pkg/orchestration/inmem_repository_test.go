package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := NewInMemRepository()
		instance := Instance{ID: uuid.New(), Name: "demo", Status: StatusPending, Input: "payload"}

		require.NoError(t, repo.Create(ctx, instance))

		got, err := repo.Get(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.Name, got.Name)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, "payload", got.Input)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := NewInMemRepository()
		instance := Instance{ID: uuid.New(), Name: "demo", Status: StatusPending}

		require.NoError(t, repo.Create(ctx, instance))
		assert.Error(t, repo.Create(ctx, instance))
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := NewInMemRepository()
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewInMemRepository()
		instance := Instance{ID: uuid.New(), Name: "demo", Status: StatusPending}
		require.NoError(t, repo.Create(ctx, instance))

		instance.Status = StatusCompleted
		instance.Output = "done"
		require.NoError(t, repo.Update(ctx, instance))

		got, err := repo.Get(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "done", got.Output)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := NewInMemRepository()
		err := repo.Update(ctx, Instance{ID: uuid.New()})
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("ListResumable", func(t *testing.T) {
		repo := NewInMemRepository()
		now := time.Now().UTC()

		older := Instance{ID: uuid.New(), Name: "a", Status: StatusRunning, CreatedAt: now.Add(-time.Minute)}
		newer := Instance{ID: uuid.New(), Name: "b", Status: StatusPending, CreatedAt: now}
		done := Instance{ID: uuid.New(), Name: "c", Status: StatusCompleted, CreatedAt: now.Add(-time.Hour)}
		failed := Instance{ID: uuid.New(), Name: "d", Status: StatusFailed, CreatedAt: now.Add(-time.Hour)}

		for _, instance := range []Instance{older, newer, done, failed} {
			require.NoError(t, repo.Create(ctx, instance))
		}

		resumable, err := repo.ListResumable(ctx)
		require.NoError(t, err)
		require.Len(t, resumable, 2)
		assert.Equal(t, older.ID, resumable[0].ID)
		assert.Equal(t, newer.ID, resumable[1].ID)
	})

	t.Run("HistoryIsolation", func(t *testing.T) {
		repo := NewInMemRepository()
		instance := Instance{
			ID:      uuid.New(),
			Name:    "demo",
			Status:  StatusRunning,
			History: []StepResult{{Step: 0, Activity: "x", Output: "a"}},
		}
		require.NoError(t, repo.Create(ctx, instance))

		got, err := repo.Get(ctx, instance.ID)
		require.NoError(t, err)
		got.History[0].Output = "mutated"

		again, err := repo.Get(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", again.History[0].Output)
	})
}
