package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-grow/internal/testutil"
)

func TestCreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(testutil.OpenDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entries := []*AuditLog{
		{Action: ActionCreate, EntityType: EntityRecipe, EntityID: "rec-1", UserID: "ag-1", CreatedAt: base},
		{Action: ActionPublish, EntityType: EntityRevision, EntityID: "rev-1", UserID: "ag-1", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"revision_number": 1}},
		{Action: ActionDispatch, EntityType: EntityCommand, EntityID: "cmd-1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, SourceEngine, e.Source)
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 50, all.Limit)
	require.Len(t, all.Logs, 3)
	assert.Equal(t, "cmd-1", all.Logs[0].EntityID, "most recent first")

	published, err := repo.List(ctx, Filter{Action: ActionPublish})
	require.NoError(t, err)
	require.Len(t, published.Logs, 1)
	assert.EqualValues(t, 1, published.Logs[0].Details["revision_number"])

	page, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "rev-1", page.Logs[0].EntityID)
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

type captureLogger struct{ warned []string }

func (c *captureLogger) Warn(msg string, _ ...any) { c.warned = append(c.warned, msg) }

func TestRecorder(t *testing.T) {
	t.Run("writes entry", func(t *testing.T) {
		repo := NewSQLiteRepository(testutil.OpenDB(t))
		rec := NewRecorder(repo, nil)

		rec.Record(context.Background(), ActionDeactivate, EntityOverride, "ovr-1", "op-1", nil)

		res, err := repo.List(context.Background(), Filter{EntityType: EntityOverride})
		require.NoError(t, err)
		require.Len(t, res.Logs, 1)
		assert.Equal(t, "op-1", res.Logs[0].UserID)
	})

	t.Run("logs failure without returning it", func(t *testing.T) {
		logger := &captureLogger{}
		NewRecorder(failingRepo{}, logger).Record(context.Background(), ActionCreate, EntityRecipe, "r", "a", nil)
		assert.Equal(t, []string{"audit write failed"}, logger.warned)
	})

	t.Run("nil recorder is a no-op", func(t *testing.T) {
		var rec *Recorder
		rec.Record(context.Background(), ActionCreate, EntityRecipe, "r", "a", nil)
	})
}
