package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/iot-bridge/migrations" // Registers embedded schema
)

func setupRepo(t *testing.T) *SQLRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background()))
	return NewSQLRepository(db.DB, db.Driver())
}

func TestCreateFillsDefaults(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	entry := &Entry{DeviceID: "D1", EventType: EventDeviceCreated, Description: "registered"}
	require.NoError(t, repo.Create(ctx, entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, entry.ID, res.Entries[0].ID)
	assert.Equal(t, "D1", res.Entries[0].DeviceID)
	assert.Empty(t, res.Entries[0].RelatedID)
}

func TestCreateRequiresEventType(t *testing.T) {
	repo := setupRepo(t)
	assert.Error(t, repo.Create(context.Background(), &Entry{Description: "x"}))
	assert.Error(t, repo.Create(context.Background(), nil))
}

func TestListFiltersAndOrders(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{DeviceID: "D1", EventType: EventDeviceCreated, Description: "a", CreatedAt: base},
		{DeviceID: "D1", EventType: EventCommandCreated, Description: "b", RelatedID: "cmd-1", CreatedAt: base.Add(time.Minute)},
		{DeviceID: "D2", EventType: EventCommandCreated, Description: "c", RelatedID: "cmd-2", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	require.Len(t, all.Entries, 3)
	assert.Equal(t, "c", all.Entries[0].Description)
	assert.Equal(t, "a", all.Entries[2].Description)

	byDevice, err := repo.List(ctx, Filter{DeviceID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, 2, byDevice.Total)

	commands, err := repo.List(ctx, Filter{EventType: EventCommandCreated, DeviceID: "D2"})
	require.NoError(t, err)
	require.Len(t, commands.Entries, 1)
	assert.Equal(t, "cmd-2", commands.Entries[0].RelatedID)
}

func TestListPagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, repo.Create(ctx, &Entry{
			EventType:   EventDeviceCreated,
			Description: "entry",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 2, page.Offset)

	clamped, err := repo.List(ctx, Filter{Limit: 1000, Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, clamped.Limit)
	assert.Equal(t, 0, clamped.Offset)
}

func TestListOrdersWithinOneSecond(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &Entry{
		EventType: EventCommandCreated, Description: "older", CreatedAt: base.Add(120 * time.Millisecond),
	}))
	require.NoError(t, repo.Create(ctx, &Entry{
		EventType: EventCommandCreated, Description: "newer", CreatedAt: base.Add(123 * time.Millisecond),
	}))

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "newer", res.Entries[0].Description)
	assert.Equal(t, "older", res.Entries[1].Description)
}

func TestGetByIDAndDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	entry := &Entry{DeviceID: "D1", EventType: EventCommandCreated, Description: "feed", RelatedID: "cmd-1"}
	require.NoError(t, repo.Create(ctx, entry))

	got, err := repo.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", got.RelatedID)
	assert.True(t, got.CreatedAt.Equal(entry.CreatedAt))

	require.NoError(t, repo.Delete(ctx, entry.ID))

	_, err = repo.GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, entry.ID), ErrNotFound)
}
