package stash

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/partystash/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetReusesSession(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps(), Options{})
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	a, err := m.Get(ctx, party)
	require.NoError(t, err)
	b, err := m.Get(ctx, party)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := m.Get(ctx, party+1)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, m.Len())
}

func TestManager_CloseIdle(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps(), Options{})
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	s, err := m.Get(ctx, party)
	require.NoError(t, err)
	assert.Zero(t, m.CloseIdle(time.Hour))

	s.lastUsed.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	assert.Equal(t, 1, m.CloseIdle(time.Hour))
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, s.Refresh(ctx), ErrClosed)

	fresh, err := m.Get(ctx, party)
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
}

func TestManager_ReconcileAllPicksUpMissedChanges(t *testing.T) {
	e := newEnv(t)
	deps := e.deps()
	deps.Feed = nil
	m := NewManager(deps, Options{})
	t.Cleanup(m.Shutdown)
	ctx := context.Background()

	s, err := m.Get(ctx, party)
	require.NoError(t, err)
	e.seed(t, model.StashEntry{Name: "Gem", Quantity: 1})
	assert.Empty(t, s.Snapshot().Entries)

	m.ReconcileAll(ctx)
	assert.Len(t, s.Snapshot().Entries, 1)
}

func TestManager_CloseAndShutdown(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.deps(), Options{})
	ctx := context.Background()

	s, err := m.Get(ctx, party)
	require.NoError(t, err)
	m.Close(party)
	m.Close(party)
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, s.Refresh(ctx), ErrClosed)

	_, err = m.Get(ctx, party)
	require.NoError(t, err)
	m.Shutdown()
	assert.Zero(t, m.Len())
}
