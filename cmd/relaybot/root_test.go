package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	t.Setenv("BOT_TOKEN", "123:test")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", path)
	t.Setenv("REDIS_URL", "")
	return path
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "migrate", "chats", "grant", "revoke", "pause", "resume"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	assert.NotNil(t, root.Flags().Lookup("migrate"), "root runs the relay")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-1001234")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)

	_, err = parseChatID("abc")
	assert.Error(t, err)
}

func TestAdminCommandsAgainstSQLite(t *testing.T) {
	path := sqliteEnv(t)

	require.NoError(t, execute(t, "migrate"))
	require.NoError(t, execute(t, "pause"))
	require.NoError(t, execute(t, "grant", "-100", "--days", "7"))
	require.NoError(t, execute(t, "chats"))

	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", DSN: path}, storage.GuardConfig{}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.Settings.Get(ctx, storage.KeyPaused)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", v)

	sub, ok, err := st.Subscriptions.Active(ctx, -100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "manual", sub.Plan)

	require.NoError(t, execute(t, "revoke", "-100"))
	_, ok, err = st.Subscriptions.Active(ctx, -100)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, execute(t, "resume"))
	v, _, err = st.Settings.Get(ctx, storage.KeyPaused)
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}

func TestGrantRejectsBadInput(t *testing.T) {
	sqliteEnv(t)
	assert.Error(t, execute(t, "grant", "x"))
	assert.Error(t, execute(t, "grant", "-100", "--days", "0"))
}

func TestMissingTokenFails(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("BOT_TOKEN", "")
	assert.Error(t, execute(t, "migrate"))
}
