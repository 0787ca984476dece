// Package mediagroup reassembles albums that arrive as separate updates.
//
// Parts are buffered in the shared cache under the album id. Every part
// renews a short activity lock; a poller flushes albums whose lock expired,
// i.e. no part arrived during the quiet period.
package mediagroup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"relaybot/internal/message"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

var ErrNoGroup = errors.New("mediagroup: message has no media group id")

const (
	DefaultBufferTTL    = 2 * time.Second
	DefaultLockTTL      = time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Store is the cache surface used by the buffer.
type Store interface {
	BufferGroupItem(ctx context.Context, groupID string, item []byte, bufferTTL, lockTTL time.Duration) error
	PendingGroups(ctx context.Context) ([]string, error)
	GroupActive(ctx context.Context, groupID string) (bool, error)
	PopGroup(ctx context.Context, groupID string) ([][]byte, error)
}

// Sink receives completed albums.
type Sink interface {
	Distribute(ctx context.Context, m *message.Message) error
}

// Recorder observes flushes.
type Recorder interface {
	GroupFlushed(items int)
}

type Config struct {
	BufferTTL    time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferTTL <= 0 {
		c.BufferTTL = DefaultBufferTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

type Buffer struct {
	cfg   Config
	store Store
	sink  Sink
	rec   Recorder
	log   logx.Logger

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

type Option func(*Buffer)

func WithRecorder(r Recorder) Option { return func(b *Buffer) { b.rec = r } }

func New(cfg Config, store Store, sink Sink, log logx.Logger, opts ...Option) *Buffer {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Buffer{cfg: cfg.withDefaults(), store: store, sink: sink, log: log}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Add buffers one album part. Safe for concurrent use by many callers.
func (b *Buffer) Add(ctx context.Context, m *message.Message) error {
	if m == nil || m.MediaGroupID == "" {
		return ErrNoGroup
	}
	raw, err := message.Encode(m)
	if err != nil {
		return err
	}
	return b.store.BufferGroupItem(ctx, m.MediaGroupID, raw, b.cfg.BufferTTL, b.cfg.LockTTL)
}

// Start runs the flusher until Stop or ctx cancellation.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup != nil {
		return
	}
	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log))
	b.sup.GoRestart("mediagroup.flusher", b.run,
		rtsup.WithRestartBackoff(time.Second, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	b.log.Info("flusher started", logx.Duration("poll", b.cfg.PollInterval), logx.Duration("quiet", b.cfg.LockTTL))
}

func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	b.log.Info("flusher stopped")
	return err
}

func (b *Buffer) run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := b.FlushReady(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("flush pass failed", logx.Err(err))
			}
		}
	}
}

// FlushReady flushes every buffered album whose activity lock expired and
// returns how many albums were handed to the sink.
func (b *Buffer) FlushReady(ctx context.Context) (int, error) {
	ids, err := b.store.PendingGroups(ctx)
	if err != nil {
		return 0, err
	}
	flushed := 0
	for _, id := range ids {
		active, err := b.store.GroupActive(ctx, id)
		if err != nil {
			b.log.Warn("group lock check failed", logx.String("group", id), logx.Err(err))
			continue
		}
		if active {
			continue
		}
		ok, err := b.flush(ctx, id)
		if err != nil {
			b.log.Error("group flush failed", logx.String("group", id), logx.Err(err))
			continue
		}
		if ok {
			flushed++
		}
	}
	return flushed, nil
}

func (b *Buffer) flush(ctx context.Context, groupID string) (bool, error) {
	raw, err := b.store.PopGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		// another flusher got there first
		return false, nil
	}

	items := make([]*message.Message, 0, len(raw))
	for _, r := range raw {
		m, err := message.Decode(r)
		if err != nil {
			b.log.Warn("dropping undecodable album part", logx.String("group", groupID), logx.Err(err))
			continue
		}
		items = append(items, m)
	}
	if len(items) == 0 {
		return false, nil
	}

	composite := Composite(groupID, items)
	b.log.Info("flushing media group", logx.String("group", groupID), logx.Int("items", len(items)))
	if b.rec != nil {
		b.rec.GroupFlushed(len(items))
	}
	return true, b.sink.Distribute(ctx, composite)
}

// Composite builds the album message. Items are sorted by source message id
// and the album takes its identity from the lowest one.
func Composite(groupID string, items []*message.Message) *message.Message {
	sorted := append([]*message.Message(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceMessageID < sorted[j].SourceMessageID })
	first := sorted[0]
	return &message.Message{
		SourceChatID:    first.SourceChatID,
		SourceMessageID: first.SourceMessageID,
		SourceUserID:    first.SourceUserID,
		MediaGroupID:    groupID,
		Content:         message.Group{Items: sorted},
	}
}
