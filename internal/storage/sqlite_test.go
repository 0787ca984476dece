package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/pkg/logx"
)

func openTestSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "relay.db")}, GuardConfig{}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx), "schema is idempotent")
	return st
}

func TestSQLiteChatRegistry(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.Chats.Upsert(ctx, Chat{ID: -1, Type: "group", Title: "A"}))
	require.NoError(t, st.Chats.Upsert(ctx, Chat{ID: -2, Type: "supergroup", Title: "B"}))
	require.NoError(t, st.Chats.Upsert(ctx, Chat{ID: 3, Type: "private"}))

	dests, err := st.Chats.ActiveDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, dests, 3)
	assert.Equal(t, int64(-2), dests[0].ID)
	assert.False(t, dests[0].AllowSelfSend)
	assert.False(t, dests[0].RegisteredAt.IsZero())

	require.NoError(t, st.Chats.Deactivate(ctx, -2))
	ok, err := st.Chats.IsActiveSource(ctx, -2)
	require.NoError(t, err)
	assert.False(t, ok)
	active, err := st.Chats.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// re-adding reactivates
	require.NoError(t, st.Chats.Upsert(ctx, Chat{ID: -2, Type: "supergroup", Title: "B2"}))
	c, err := st.Chats.Get(ctx, -2)
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, "B2", c.Title)

	require.NoError(t, st.Chats.RemapIdentity(ctx, -1, -1001))
	c, err = st.Chats.Get(ctx, -1001)
	require.NoError(t, err)
	assert.Equal(t, "supergroup", c.Type)
	_, err = st.Chats.Get(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Chats.SetAllowSelfSend(ctx, 3, true))
	c, err = st.Chats.Get(ctx, 3)
	require.NoError(t, err)
	assert.True(t, c.AllowSelfSend)
}

func TestSQLiteSendLog(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)

	require.NoError(t, st.SendLog.Record(ctx, SendRecord{SourceChatID: -1, SourceMessageID: 10, SourceUserID: 7, DestChatID: -2, DestMessageID: 500}))
	require.NoError(t, st.SendLog.Record(ctx, SendRecord{SourceChatID: -1, SourceMessageID: 9, DestChatID: -2, DestMessageID: 400, SentAt: old}))

	id, ok, err := st.SendLog.ResolveDest(ctx, -1, 10, -2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 500, id)

	chat, msg, ok, err := st.SendLog.ReverseLookup(ctx, -2, 500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(-1), chat)
	assert.Equal(t, 10, msg)

	n, err := st.SendLog.PruneBefore(ctx, time.Now().UTC().Add(-SendLogRetention))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err = st.SendLog.ResolveDest(ctx, -1, 9, -2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteSubscriptionsStack(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	first, err := st.Subscriptions.Grant(ctx, -5, 1, "week", 7, "c1")
	require.NoError(t, err)
	second, err := st.Subscriptions.Grant(ctx, -5, 1, "month", 30, "c2")
	require.NoError(t, err)
	assert.WithinDuration(t, first.ExpiresAt, second.StartsAt, time.Second)

	active, ok, err := st.Subscriptions.Active(ctx, -5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "month", active.Plan)

	revoked, err := st.Subscriptions.Revoke(ctx, -5)
	require.NoError(t, err)
	assert.True(t, revoked)
	_, ok, err = st.Subscriptions.Active(ctx, -5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteRestrictionsPreferBan(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, st.Restrictions.Restrict(ctx, 9, RestrictMute, 1, &past))
	_, ok, err := st.Restrictions.Active(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok, "expired mute is ignored")

	require.NoError(t, st.Restrictions.Restrict(ctx, 9, RestrictMute, 1, nil))
	require.NoError(t, st.Restrictions.Restrict(ctx, 9, RestrictBan, 1, nil))
	r, ok, err := st.Restrictions.Active(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RestrictBan, r.Kind)

	lifted, err := st.Restrictions.Lift(ctx, 9, RestrictBan)
	require.NoError(t, err)
	assert.True(t, lifted)
	r, ok, err = st.Restrictions.Active(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RestrictMute, r.Kind)
}

func TestSQLiteAliasesAndSettings(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	claimed, err := st.Aliases.Claim(ctx, 1, "calm_otter")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = st.Aliases.Claim(ctx, 2, "calm_otter")
	require.NoError(t, err)
	assert.False(t, claimed, "alias already owned")

	a, ok, err := st.Aliases.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "calm_otter", a)
	taken, err := st.Aliases.IsTaken(ctx, "calm_otter")
	require.NoError(t, err)
	assert.True(t, taken)

	require.NoError(t, st.Settings.Set(ctx, KeySignatureText, "hello"))
	require.NoError(t, st.Settings.Set(ctx, KeySignatureText, "bye"))
	v, ok, err := st.Settings.Get(ctx, KeySignatureText)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bye", v)

	all, err := st.Settings.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeySignatureText: "bye"}, all)
}
