package alias

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/cache"
	"relaybot/pkg/logx"
)

type memRepo struct {
	byUser  map[int64]string
	byAlias map[string]int64
	gets    int
}

func newMemRepo() *memRepo {
	return &memRepo{byUser: map[int64]string{}, byAlias: map[string]int64{}}
}

func (m *memRepo) Get(_ context.Context, userID int64) (string, bool, error) {
	m.gets++
	a, ok := m.byUser[userID]
	return a, ok, nil
}

func (m *memRepo) Claim(_ context.Context, userID int64, a string) (bool, error) {
	if _, ok := m.byUser[userID]; ok {
		return false, nil
	}
	if _, ok := m.byAlias[a]; ok {
		return false, nil
	}
	m.byUser[userID] = a
	m.byAlias[a] = userID
	return true, nil
}

var readable = regexp.MustCompile(`^[a-z]+_[a-z0-9]+$`)

func TestAliasIsStable(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	r := New(cache.New(cache.NewMemory(), ""), repo, 0, logx.Nop())

	a1, err := r.Alias(ctx, 100)
	require.NoError(t, err)
	assert.Regexp(t, readable, a1)

	a2, err := r.Alias(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, repo.gets, "second lookup is served from cache")

	b, err := r.Alias(ctx, 200)
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestAliasFallsBackAfterCollisions(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	r := New(cache.New(cache.NewMemory(), ""), repo, 0, logx.Nop())
	r.pick = func(int) int { return 0 }
	repo.byAlias[adjectives[0]+"_"+nouns[0]] = 1

	a, err := r.Alias(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, adjectives[0]+"_2346", a)
}
