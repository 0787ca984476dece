package distributor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/message"
	"relaybot/internal/sender"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type fakeRegistry struct {
	mu          sync.Mutex
	chats       []storage.Chat
	deactivated []int64
	remapped    [][2]int64
}

func (f *fakeRegistry) ActiveDestinations(context.Context) ([]storage.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Chat(nil), f.chats...), nil
}

func (f *fakeRegistry) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeRegistry) RemapIdentity(_ context.Context, oldID, newID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remapped = append(f.remapped, [2]int64{oldID, newID})
	return nil
}

type fakeSendLog struct {
	mu      sync.Mutex
	records []storage.SendRecord
	dest    map[[2]int64]int // (dest chat, src msg) -> dest msg
}

func (f *fakeSendLog) Record(_ context.Context, rec storage.SendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSendLog) ResolveDest(_ context.Context, _ int64, srcMsg int, destChat int64) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.dest[[2]int64{destChat, int64(srcMsg)}]
	return id, ok, nil
}

func (f *fakeSendLog) recorded() []storage.SendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.SendRecord(nil), f.records...)
}

type fakeEntitlements struct {
	mu       sync.Mutex
	denied   map[int64]bool
	err      error
	missed   map[int64]int64
	nudged   chan int64
	nudgeFor map[int64]bool
}

func (f *fakeEntitlements) IsEntitled(_ context.Context, c storage.Chat) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.denied[c.ID], nil
}

func (f *fakeEntitlements) RecordMissed(_ context.Context, id int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missed == nil {
		f.missed = map[int64]int64{}
		f.nudgeFor = map[int64]bool{}
	}
	f.missed[id]++
	first := !f.nudgeFor[id]
	f.nudgeFor[id] = true
	return f.missed[id], first, nil
}

func (f *fakeEntitlements) Nudge(_ context.Context, id int64, _ int64) error {
	if f.nudged != nil {
		f.nudged <- id
	}
	return nil
}

type fakeSettings struct {
	paused bool
	sig    string
}

func (f fakeSettings) Paused(context.Context) (bool, error)    { return f.paused, nil }
func (f fakeSettings) Signature(context.Context) (string, error) { return f.sig, nil }

type fakeAliases struct{}

func (fakeAliases) Alias(_ context.Context, userID int64) (string, error) {
	if userID == 0 {
		return "", errors.New("anonymous")
	}
	return "quiet_fox", nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	acquired  []int64
	successes int
	errors    []int64
	throttles []time.Duration
}

func (f *fakeLimiter) Acquire(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, id)
	return nil
}

func (f *fakeLimiter) ReportSuccess(int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeLimiter) ReportError(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, id)
}

func (f *fakeLimiter) Report429(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttles = append(f.throttles, d)
}

// scriptSender answers from a per-chat script, then succeeds.
type scriptSender struct {
	mu       sync.Mutex
	script   map[int64][]sender.Result
	requests []sender.Request
	nextID   int
	block    chan struct{}
}

func (s *scriptSender) Send(_ context.Context, req sender.Request) sender.Result {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if rs := s.script[req.ChatID]; len(rs) > 0 {
		s.script[req.ChatID] = rs[1:]
		return rs[0]
	}
	s.nextID++
	return sender.Success(1000 + s.nextID)
}

func (s *scriptSender) sent() []sender.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sender.Request(nil), s.requests...)
}

func (s *scriptSender) chats() []int64 {
	var out []int64
	for _, r := range s.sent() {
		out = append(out, r.ChatID)
	}
	return out
}

type harness struct {
	reg   *fakeRegistry
	log   *fakeSendLog
	ent   *fakeEntitlements
	lim   *fakeLimiter
	send  *scriptSender
	slept []time.Duration
	d     *Distributor
}

func newHarness(t *testing.T, chats []storage.Chat, settings fakeSettings) *harness {
	t.Helper()
	h := &harness{
		reg:  &fakeRegistry{chats: chats},
		log:  &fakeSendLog{dest: map[[2]int64]int{}},
		ent:  &fakeEntitlements{denied: map[int64]bool{}},
		lim:  &fakeLimiter{},
		send: &scriptSender{script: map[int64][]sender.Result{}},
	}
	var mu sync.Mutex
	h.d = New(Config{Workers: 2}, Deps{
		Registry:     h.reg,
		SendLog:      h.log,
		Entitlements: h.ent,
		Settings:     settings,
		Aliases:      fakeAliases{},
		Limiter:      h.lim,
		Sender:       h.send,
	}, logx.Nop(), WithSleep(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		h.slept = append(h.slept, d)
		return nil
	}))
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	h.d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.d.Stop(ctx)
	})
}

func textFrom(chat int64, msg int, user int64, body string) *message.Message {
	return &message.Message{SourceChatID: chat, SourceMessageID: msg, SourceUserID: user, Content: message.Text{Body: body}}
}

func group(id int64) storage.Chat {
	return storage.Chat{ID: id, Type: transport.ChatGroup, Active: true, IsDestination: true}
}

func TestDistributeSkipsSourceUnlessSelfSendAllowed(t *testing.T) {
	self := group(-1)
	h := newHarness(t, []storage.Chat{self, group(-2), group(-3)}, fakeSettings{})
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 10, 5, "hi")))
	require.Eventually(t, func() bool { return len(h.send.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []int64{-2, -3}, h.send.chats())

	self.AllowSelfSend = true
	h.reg.chats[0] = self
	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 11, 5, "again")))
	require.Eventually(t, func() bool { return len(h.send.sent()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.send.chats()[2:], int64(-1))
}

func TestDistributeWhilePausedQueuesNothing(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{paused: true})
	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	assert.Zero(t, h.d.QueueSize())
}

func TestUnentitledDestinationCountsMissedAndNudgesOnce(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2), group(-3)}, fakeSettings{})
	h.ent.denied[-3] = true
	h.ent.nudged = make(chan int64, 4)
	h.run(t)

	ctx := context.Background()
	require.NoError(t, h.d.Distribute(ctx, textFrom(-1, 1, 5, "a")))
	require.NoError(t, h.d.Distribute(ctx, textFrom(-1, 2, 5, "b")))

	require.Eventually(t, func() bool { return len(h.send.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{-2, -2}, h.send.chats())
	assert.Equal(t, int64(-3), <-h.ent.nudged)
	assert.Len(t, h.ent.nudged, 0)
	assert.Equal(t, int64(2), h.ent.missed[-3])
}

func TestEntitlementErrorDelivers(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.ent.err = errors.New("cache down")
	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	assert.Equal(t, 1, h.d.QueueSize())
}

func TestSuccessRecordsSendLogAndDecoration(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{sig: "via @relay"})
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 7, 42, "hello")))
	require.Eventually(t, func() bool { return len(h.log.recorded()) == 1 }, time.Second, 5*time.Millisecond)

	rec := h.log.recorded()[0]
	assert.Equal(t, int64(-1), rec.SourceChatID)
	assert.Equal(t, 7, rec.SourceMessageID)
	assert.Equal(t, int64(42), rec.SourceUserID)
	assert.Equal(t, int64(-2), rec.DestChatID)
	assert.Equal(t, 1001, rec.DestMessageID)

	req := h.send.sent()[0]
	assert.Equal(t, "via @relay", req.Signature)
	assert.Equal(t, "quiet_fox", req.Alias)
}

func TestReplyResolvedPerDestination(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2), group(-3)}, fakeSettings{})
	h.log.dest[[2]int64{-2, 50}] = 900
	h.run(t)

	m := textFrom(-1, 51, 5, "reply")
	require.True(t, m.SetReplySource(-1, 50))
	require.NoError(t, h.d.Distribute(context.Background(), m))
	require.Eventually(t, func() bool { return len(h.send.sent()) == 2 }, time.Second, 5*time.Millisecond)

	replies := map[int64]int{}
	for _, r := range h.send.sent() {
		replies[r.ChatID] = r.ReplyTo
	}
	assert.Equal(t, 900, replies[-2])
	assert.Zero(t, replies[-3])
}

func TestRetryAfterBacksOffAndRequeues(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.send.script[-2] = []sender.Result{sender.RetryAfter(4*time.Second, errors.New("429"))}
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool { return len(h.log.recorded()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Len(t, h.send.sent(), 2)
	assert.Equal(t, []time.Duration{4 * time.Second}, h.lim.throttles)
	assert.Equal(t, []time.Duration{5 * time.Second}, h.slept)
}

func TestRetryAfterGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	for i := 0; i < MaxRetries+2; i++ {
		h.send.script[-2] = append(h.send.script[-2], sender.RetryAfter(time.Second, nil))
	}
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool { return len(h.send.sent()) == MaxRetries+1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.send.sent(), MaxRetries+1)
	assert.Empty(t, h.log.recorded())
}

func TestGoneDeactivatesDestination(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.send.script[-2] = []sender.Result{sender.Gone(errors.New("bot was kicked"))}
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool {
		h.reg.mu.Lock()
		defer h.reg.mu.Unlock()
		return len(h.reg.deactivated) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(-2), h.reg.deactivated[0])
	assert.Empty(t, h.lim.errors)
}

func TestIdentityChangeRemapsAndRetriesNewChat(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.send.script[-2] = []sender.Result{sender.IdentityChanged(-1002, nil)}
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool { return len(h.log.recorded()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{-2, -1002}, h.send.chats())
	assert.Equal(t, [][2]int64{{-2, -1002}}, h.reg.remapped)
	assert.Equal(t, int64(-1002), h.log.recorded()[0].DestChatID)
}

// drain runs t and every task it requeues on the calling goroutine.
func (h *harness) drain(t *Task) {
	ctx := context.Background()
	h.d.process(ctx, t)
	for h.d.QueueSize() > 0 {
		h.d.process(ctx, h.d.q.pop())
	}
}

func TestIdentityChangeFollowsTwoMigrations(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.send.script[-2] = []sender.Result{sender.IdentityChanged(-1002, nil)}
	h.send.script[-1002] = []sender.Result{sender.IdentityChanged(-1003, nil)}

	task := &Task{Message: textFrom(-1, 1, 5, "x"), ChatID: -2, ChatType: transport.ChatGroup}
	h.drain(task)

	assert.Equal(t, []int64{-2, -1002, -1003}, h.send.chats())
	assert.Equal(t, [][2]int64{{-2, -1002}, {-1002, -1003}}, h.reg.remapped)
	require.Len(t, h.log.recorded(), 1)
	assert.Equal(t, int64(-1003), h.log.recorded()[0].DestChatID)
	assert.Equal(t, 2, task.Retry)
	assert.Equal(t, transport.ChatSupergroup, task.ChatType)
}

func TestIdentityChangeDropsAfterMaxRetries(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	hops := []int64{-2, -1002, -1003, -1004, -1005}
	for i := 0; i < len(hops)-1; i++ {
		h.send.script[hops[i]] = []sender.Result{sender.IdentityChanged(hops[i+1], nil)}
	}

	task := &Task{Message: textFrom(-1, 1, 5, "x"), ChatID: -2, ChatType: transport.ChatGroup}
	h.drain(task)

	assert.Equal(t, hops[:MaxRetries+1], h.send.chats(), "the last migration is not followed")
	assert.Len(t, h.reg.remapped, MaxRetries+1)
	assert.Empty(t, h.log.recorded())
	assert.Equal(t, MaxRetries, task.Retry)
	assert.Zero(t, h.d.QueueSize())
}

func TestTransientReportsError(t *testing.T) {
	h := newHarness(t, []storage.Chat{group(-2)}, fakeSettings{})
	h.send.script[-2] = []sender.Result{sender.Transient(errors.New("timeout"))}
	h.run(t)

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool {
		h.lim.mu.Lock()
		defer h.lim.mu.Unlock()
		return len(h.lim.errors) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.send.sent(), 1)
}

func TestStopDropsQueuedTasks(t *testing.T) {
	chats := []storage.Chat{group(-2), group(-3), group(-4), group(-5), group(-6)}
	h := newHarness(t, chats, fakeSettings{})
	h.send.block = make(chan struct{})
	h.d.Start(context.Background())

	require.NoError(t, h.d.Distribute(context.Background(), textFrom(-1, 1, 5, "x")))
	require.Eventually(t, func() bool { return h.d.QueueSize() == 3 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- h.d.Stop(ctx)
	}()
	require.Eventually(t, func() bool { return h.d.QueueSize() == 0 }, time.Second, 5*time.Millisecond)
	close(h.send.block)

	require.NoError(t, <-done)
	assert.Len(t, h.send.sent(), 2, "only the in-flight sends complete")
	assert.ErrorIs(t, h.d.Distribute(context.Background(), textFrom(-1, 2, 5, "late")), ErrNotRunning)
}
