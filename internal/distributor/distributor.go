// Package distributor fans one inbound message out to every eligible
// destination and drives the per-destination sends through a fixed worker
// pool.
package distributor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"relaybot/internal/message"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/sender"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

const (
	DefaultWorkers = 10
	MaxRetries     = 3
	nudgeTimeout   = 10 * time.Second
)

var ErrNotRunning = errors.New("distributor: not running")

type Deps struct {
	Registry     Registry
	SendLog      SendLog
	Entitlements Entitlements
	Settings     Settings
	Aliases      Aliases
	Limiter      Limiter
	Sender       sender.Sender
	Recorder     Recorder
}

type Config struct {
	Workers int
}

type Distributor struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	q       *queue
	sleep   func(ctx context.Context, d time.Duration) error
	nudgeWG sync.WaitGroup

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	running bool
}

type Option func(*Distributor)

// WithSleep replaces the post-throttle backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Distributor) { d.sleep = fn }
}

func New(cfg Config, deps Deps, log logx.Logger, opts ...Option) *Distributor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Distributor{cfg: cfg, deps: deps, log: log, q: newQueue(), sleep: sleepCtx}
	for _, o := range opts {
		o(d)
	}
	return d
}

// QueueSize is the number of tasks waiting for a worker.
func (d *Distributor) QueueSize() int { return d.q.pending() }

// Distribute resolves the destinations of m and enqueues one task per
// eligible destination. Per-destination failures only skip that destination.
func (d *Distributor) Distribute(ctx context.Context, m *message.Message) error {
	if m == nil {
		return nil
	}
	if paused, err := d.deps.Settings.Paused(ctx); err != nil {
		d.log.Warn("pause flag unavailable", logx.Err(err))
	} else if paused {
		d.log.Debug("distribution paused", logx.Int64("src_chat", m.SourceChatID), logx.Int("src_msg", m.SourceMessageID))
		return nil
	}

	dests, err := d.deps.Registry.ActiveDestinations(ctx)
	if err != nil {
		return err
	}

	srcChat, srcMsg, hasReply := m.ReplySource()
	queued := 0
	for _, dest := range dests {
		self := dest.ID == m.SourceChatID
		if self && !dest.AllowSelfSend {
			continue
		}
		if !self && !d.entitled(ctx, dest) {
			continue
		}

		t := &Task{Message: m, ChatID: dest.ID, ChatType: dest.Type}
		if hasReply {
			id, ok, err := d.deps.SendLog.ResolveDest(ctx, srcChat, srcMsg, dest.ID)
			if err != nil {
				d.log.Warn("reply lookup failed", logx.Int64("dest", dest.ID), logx.Err(err))
			} else if ok {
				t.ReplyTo = id
			}
		}
		if !d.q.push(t) {
			return ErrNotRunning
		}
		queued++
	}
	d.deps.Recorder.QueueSize(d.q.pending())
	d.log.Debug("message distributed",
		logx.Int64("src_chat", m.SourceChatID),
		logx.Int("src_msg", m.SourceMessageID),
		logx.String("kind", m.Kind().String()),
		logx.Int("destinations", len(dests)),
		logx.Int("queued", queued),
	)
	return nil
}

func (d *Distributor) entitled(ctx context.Context, dest storage.Chat) bool {
	ok, err := d.deps.Entitlements.IsEntitled(ctx, dest)
	if err != nil {
		// an unknown entitlement never withholds content
		d.log.Warn("entitlement check failed", logx.Int64("dest", dest.ID), logx.Err(err))
		return true
	}
	if ok {
		return true
	}
	missed, nudge, err := d.deps.Entitlements.RecordMissed(ctx, dest.ID)
	if err != nil {
		d.log.Warn("missed counter failed", logx.Int64("dest", dest.ID), logx.Err(err))
		return false
	}
	if nudge {
		d.nudgeWG.Add(1)
		go func(chatID, n int64) {
			defer d.nudgeWG.Done()
			nctx, cancel := context.WithTimeout(context.Background(), nudgeTimeout)
			defer cancel()
			if err := d.deps.Entitlements.Nudge(nctx, chatID, n); err != nil {
				d.log.Debug("nudge failed", logx.Int64("dest", chatID), logx.Err(err))
			}
		}(dest.ID, missed)
	}
	return false
}

// Start spawns the worker pool.
func (d *Distributor) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.q.reopen()
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
	for i := 0; i < d.cfg.Workers; i++ {
		d.sup.Go0("distributor.worker."+strconv.Itoa(i), d.work)
	}
	d.log.Info("workers started", logx.Int("workers", d.cfg.Workers))
}

// Stop discards queued tasks, lets in-flight sends finish and waits for the
// pool. When ctx ends first, workers are canceled.
func (d *Distributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	sup := d.sup
	d.sup = nil
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()
	if !wasRunning {
		return nil
	}

	dropped := d.q.close(d.cfg.Workers)
	d.deps.Recorder.QueueSize(0)
	d.log.Info("stopping workers", logx.Int("dropped", dropped))

	err := sup.Wait(ctx)
	if err != nil {
		sup.Cancel()
	}
	d.nudgeWG.Wait()
	return err
}

func (d *Distributor) work(ctx context.Context) {
	for {
		t := d.q.pop()
		if t == nil {
			return
		}
		d.deps.Recorder.QueueSize(d.q.pending())
		d.process(ctx, t)
	}
}

func (d *Distributor) process(ctx context.Context, t *Task) {
	if err := d.deps.Limiter.Acquire(ctx, t.ChatID, t.ChatType); err != nil {
		d.log.Debug("task abandoned", logx.Int64("dest", t.ChatID), logx.Err(err))
		return
	}

	req := sender.Request{
		Message:   t.Message,
		ChatID:    t.ChatID,
		ReplyTo:   t.ReplyTo,
		Signature: d.signature(ctx),
		Alias:     d.alias(ctx, t.Message.SourceUserID),
	}
	res := d.deps.Sender.Send(ctx, req)
	d.deps.Recorder.SendOutcome(res.Outcome.String())

	log := d.log.With(logx.Int64("dest", t.ChatID), logx.Int64("src_chat", t.Message.SourceChatID), logx.Int("src_msg", t.Message.SourceMessageID))
	switch res.Outcome {
	case sender.OutcomeSuccess:
		d.deps.Limiter.ReportSuccess(t.ChatID)
		if res.MessageID != 0 {
			d.recordSend(ctx, t, res.MessageID)
		}

	case sender.OutcomeRetryAfter:
		log.Warn("throttled by platform", logx.Duration("retry_after", res.RetryAfter), logx.Int("retry", t.Retry))
		d.deps.Limiter.Report429(res.RetryAfter)
		if err := d.sleep(ctx, res.RetryAfter+time.Second); err != nil {
			return
		}
		d.requeue(log, t)

	case sender.OutcomeGone:
		log.Warn("destination unreachable, deactivating", logx.Err(res.Err))
		if err := d.deps.Registry.Deactivate(ctx, t.ChatID); err != nil {
			log.Error("deactivate failed", logx.Err(err))
		}

	case sender.OutcomeIdentityChanged:
		log.Warn("destination migrated", logx.Int64("new_chat", res.NewChatID), logx.Int("retry", t.Retry))
		if err := d.deps.Registry.RemapIdentity(ctx, t.ChatID, res.NewChatID); err != nil {
			log.Error("remap failed", logx.Err(err))
		}
		t.ChatID = res.NewChatID
		t.ChatType = transport.ChatSupergroup
		d.requeue(log, t)

	default:
		log.Error("send failed", logx.Err(res.Err))
		d.deps.Limiter.ReportError(t.ChatID)
	}
}

func (d *Distributor) requeue(log logx.Logger, t *Task) {
	if t.Retry >= MaxRetries {
		log.Warn("retries exhausted, dropping", logx.Int("retry", t.Retry))
		return
	}
	t.Retry++
	if !d.q.push(t) {
		log.Debug("queue closed, retry dropped")
		return
	}
	d.deps.Recorder.QueueSize(d.q.pending())
}

func (d *Distributor) signature(ctx context.Context) string {
	sig, err := d.deps.Settings.Signature(ctx)
	if err != nil {
		d.log.Debug("signature unavailable", logx.Err(err))
		return ""
	}
	return sig
}

func (d *Distributor) alias(ctx context.Context, userID int64) string {
	if userID == 0 || d.deps.Aliases == nil {
		return ""
	}
	a, err := d.deps.Aliases.Alias(ctx, userID)
	if err != nil {
		d.log.Debug("alias unavailable", logx.Int64("user", userID), logx.Err(err))
		return ""
	}
	return a
}

func (d *Distributor) recordSend(ctx context.Context, t *Task, destMsgID int) {
	m := t.Message
	rec := storage.SendRecord{
		SourceChatID:    m.SourceChatID,
		SourceMessageID: m.SourceMessageID,
		SourceUserID:    m.SourceUserID,
		DestChatID:      t.ChatID,
		DestMessageID:   destMsgID,
		SentAt:          time.Now().UTC(),
	}
	if err := d.deps.SendLog.Record(ctx, rec); err != nil {
		d.log.Warn("send log write failed", logx.Int64("dest", t.ChatID), logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
