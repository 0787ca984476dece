package mediagroup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/cache"
	"relaybot/internal/message"
	"relaybot/pkg/logx"
)

type captureSink struct {
	mu  sync.Mutex
	got []*message.Message
}

func (s *captureSink) Distribute(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return nil
}

func (s *captureSink) snapshot() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.Message(nil), s.got...)
}

type countRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (r *countRecorder) GroupFlushed(n int) {
	r.mu.Lock()
	r.sizes = append(r.sizes, n)
	r.mu.Unlock()
}

func photoPart(group string, msgID int, unique string) *message.Message {
	return &message.Message{
		SourceChatID:    -100,
		SourceMessageID: msgID,
		SourceUserID:    7,
		MediaGroupID:    group,
		Content:         message.Photo{FileRef: message.FileRef{FileID: "f" + unique, FileUniqueID: unique}},
	}
}

func newTestBuffer(t *testing.T, now *time.Time) (*Buffer, *captureSink, *cache.Memory) {
	t.Helper()
	mem := cache.NewMemory()
	if now != nil {
		mem.WithClock(func() time.Time { return *now })
	}
	sink := &captureSink{}
	b := New(Config{}, cache.New(mem, ""), sink, logx.Nop())
	return b, sink, mem
}

func TestAddRequiresGroupID(t *testing.T) {
	b, _, _ := newTestBuffer(t, nil)
	err := b.Add(context.Background(), &message.Message{Content: message.Text{Body: "x"}})
	assert.ErrorIs(t, err, ErrNoGroup)
}

func TestFlushWaitsForQuietPeriod(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b, sink, _ := newTestBuffer(t, &now)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, photoPart("g1", 12, "c")))
	now = now.Add(300 * time.Millisecond)
	require.NoError(t, b.Add(ctx, photoPart("g1", 10, "a")))

	n, err := b.FlushReady(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lock still held")

	now = now.Add(300 * time.Millisecond)
	require.NoError(t, b.Add(ctx, photoPart("g1", 11, "b")))

	now = now.Add(DefaultLockTTL + 100*time.Millisecond)
	n, err = b.FlushReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := sink.snapshot()
	require.Len(t, got, 1)
	album := got[0]
	assert.Equal(t, message.KindMediaGroup, album.Kind())
	assert.Equal(t, "g1", album.MediaGroupID)
	assert.Equal(t, int64(-100), album.SourceChatID)
	assert.Equal(t, int64(7), album.SourceUserID)
	assert.Equal(t, 10, album.SourceMessageID)

	items := album.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []int{10, 11, 12}, []int{items[0].SourceMessageID, items[1].SourceMessageID, items[2].SourceMessageID})

	// a second pass finds nothing left
	n, err = b.FlushReady(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.snapshot(), 1)
}

func TestFlushEmptyPopIsNoop(t *testing.T) {
	b, sink, _ := newTestBuffer(t, nil)
	ok, err := b.flush(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, sink.snapshot())
}

func TestCompositeSortsWithoutMutatingInput(t *testing.T) {
	in := []*message.Message{photoPart("g", 3, "c"), photoPart("g", 1, "a"), photoPart("g", 2, "b")}
	out := Composite("g", in)

	assert.Equal(t, 3, in[0].SourceMessageID)
	items := out.Items()
	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].SourceMessageID)
	assert.Equal(t, 3, items[2].SourceMessageID)
	assert.Equal(t, 1, out.SourceMessageID)
}

func TestFlusherDeliversAlbumAfterBurst(t *testing.T) {
	mem := cache.NewMemory()
	sink := &captureSink{}
	rec := &countRecorder{}
	b := New(Config{LockTTL: 150 * time.Millisecond, BufferTTL: time.Second, PollInterval: 25 * time.Millisecond},
		cache.New(mem, "t:"), sink, logx.Nop(), WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer func() { _ = b.Stop(context.Background()) }()

	for i, u := range []string{"a", "b", "c"} {
		require.NoError(t, b.Add(ctx, photoPart("burst", 20+i, u)))
		time.Sleep(40 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, sink.snapshot()[0].Items(), 3)

	rec.mu.Lock()
	assert.Equal(t, []int{3}, rec.sizes)
	rec.mu.Unlock()
}
