package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
)

func remoteEntry(id string, ts time.Time) audit.Entry {
	return audit.Entry{
		ID:        id,
		Seq:       42,
		Timestamp: ts,
		Action:    audit.ActionAgentStop,
		Resource:  "agent:main",
		Result:    audit.ResultSuccess,
		Details:   "token: leaked-value",
	}
}

func TestIngestKeepsIDAndAssignsLocalSeq(t *testing.T) {
	ctx := context.Background()
	store, err := audit.NewStore(ctx)
	require.NoError(t, err)
	defer store.Close(ctx)

	local, err := store.Append(ctx, input("u", audit.ActionLogin, audit.ResultSuccess))
	require.NoError(t, err)

	ts := local.Timestamp.Add(-time.Hour)
	e, ok, err := store.Ingest(ctx, remoteEntry("remote-1", ts))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "remote-1", e.ID)
	assert.Equal(t, local.Seq+1, e.Seq)
	assert.False(t, e.Timestamp.Before(local.Timestamp))
	assert.NotContains(t, e.Details, "leaked-value")

	// Повтор того же ID не дублирует запись
	_, ok, err = store.Ingest(ctx, remoteEntry("remote-1", ts))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, store.Count())

	_, _, err = store.Ingest(ctx, audit.Entry{})
	assert.Error(t, err)
}

func TestIngestPersistsOnlyToLocalBackend(t *testing.T) {
	ctx := context.Background()
	cfg := audit.BufferConfig{BatchSize: 10, FlushInterval: time.Hour}

	local := &fakeBackend{}
	store := newDurableStore(t, local, cfg)
	_, _, err := store.Ingest(ctx, remoteEntry("remote-1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx))
	assert.Len(t, local.snapshot(), 1)

	shared := &fakeBackend{}
	sharedStore := newDurableStore(t, shared, cfg, audit.WithSharedBackend())
	_, _, err = sharedStore.Ingest(ctx, remoteEntry("remote-1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, sharedStore.Flush(ctx))
	assert.Empty(t, shared.snapshot())
	assert.Equal(t, 1, sharedStore.Count())
}

func TestMirrorBroadcastsAfterIngest(t *testing.T) {
	ctx := context.Background()
	store, err := audit.NewStore(ctx)
	require.NoError(t, err)
	defer store.Close(ctx)

	var visible []int
	bc := &captureBroadcaster{onEntry: func(e audit.Entry) {
		p, err := store.Query(ctx, audit.Filter{})
		require.NoError(t, err)
		visible = append(visible, p.Total)
	}}
	m := audit.NewMirror(store, zap.NewNop(), bc)

	m.BroadcastEntry(remoteEntry("remote-1", time.Now()))
	m.BroadcastEntry(remoteEntry("remote-1", time.Now())) // дубль не рассылается

	require.Len(t, bc.received(), 1)
	assert.Equal(t, "remote-1", bc.received()[0].ID)
	assert.Equal(t, []int{1}, visible)
}
