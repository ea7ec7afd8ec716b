package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-bg-remover/internal/repository"
	"go-bg-remover/internal/workflow"
)

func newTestManager(ttl time.Duration) (*Manager, *repository.MemorySessionRepository, *int) {
	repo := repository.NewMemorySessionRepository()
	built := 0
	m := NewManager(repo, func(id string) *workflow.Controller {
		built++
		return workflow.New(id, nil, nil)
	}, ttl)
	return m, repo, &built
}

func TestManager_ResolveCreatesAndReuses(t *testing.T) {
	ctx := context.Background()
	m, _, built := newTestManager(time.Minute)

	s, created, err := m.Resolve(ctx, "", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "alice", s.UserID)
	assert.Equal(t, workflow.StateIdle, s.Controller.Snapshot().State)

	again, created, err := m.Resolve(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, 1, *built)
}

func TestManager_ResolveRejectsForeignOrUnknownSession(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(time.Minute)

	s, _, err := m.Resolve(ctx, "", "alice")
	require.NoError(t, err)

	other, created, err := m.Resolve(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, other.ID)

	unknown, created, err := m.Resolve(ctx, "does-not-exist", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "does-not-exist", unknown.ID)

	assert.Equal(t, 3, repo.Count(ctx))
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(30 * time.Minute)

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	stale, _, err := m.Resolve(ctx, "", "alice")
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	fresh, _, err := m.Resolve(ctx, "", "bob")
	require.NoError(t, err)

	clock = clock.Add(15 * time.Minute)
	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	_, err = repo.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestManager_Sweeper(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)

	assert.Error(t, m.StartSweeper("not a schedule"))

	require.NoError(t, m.StartSweeper("@every 1h"))
	assert.Error(t, m.StartSweeper("@every 1h"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.StopSweeper(ctx)
	m.StopSweeper(ctx)

	require.NoError(t, m.StartSweeper("@every 1h"))
	m.StopSweeper(ctx)
}
