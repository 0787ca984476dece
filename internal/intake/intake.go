// Package intake turns inbound platform updates into distributor work:
// moderation, normalization, source checks, album buffering, dedup and
// reply threading for content; registry upkeep for membership and
// migration updates.
package intake

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"relaybot/internal/message"
	"relaybot/internal/moderation"
	"relaybot/internal/normalize"
	"relaybot/internal/sender"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Drop reasons reported to the Recorder.
const (
	DropRestricted  = "restricted"
	DropUnsupported = "unsupported"
	DropNotSource   = "not_source"
	DropDuplicate   = "duplicate"
	DropOwnMessage  = "own_message"
	DropEditsOff    = "edits_off"
	DropError       = "error"
)

const greeting = "Connected! This chat is now part of your network.\n\n" +
	"Messages sent here will sync to your other chats, and vice versa."

type Moderation interface {
	Restriction(ctx context.Context, userID int64) (moderation.State, error)
}

type Chats interface {
	IsActiveSource(ctx context.Context, chatID int64) (bool, error)
	Upsert(ctx context.Context, c storage.Chat) error
	Deactivate(ctx context.Context, chatID int64) error
	RemapIdentity(ctx context.Context, oldID, newID int64) error
}

type Dedup interface {
	IsDuplicate(ctx context.Context, m *message.Message) (bool, error)
	IsMediaGroupSeen(ctx context.Context, groupID string) (bool, error)
}

type Buffer interface {
	Add(ctx context.Context, m *message.Message) error
}

type SendLog interface {
	ReverseLookup(ctx context.Context, destChatID int64, destMessageID int) (int64, int, bool, error)
}

type Distributor interface {
	Distribute(ctx context.Context, m *message.Message) error
}

type Settings interface {
	EditResend(ctx context.Context) (bool, error)
}

type Recorder interface {
	Dropped(reason string)
}

type Deps struct {
	Moderation  Moderation
	Chats       Chats
	Dedup       Dedup
	Buffer      Buffer
	SendLog     SendLog
	Distributor Distributor
	Settings    Settings
	// Greeter sends the welcome text to newly registered chats. Optional.
	Greeter  sender.Text
	Recorder Recorder
}

type nopRecorder struct{}

func (nopRecorder) Dropped(string) {}

type Pipeline struct {
	deps  Deps
	log   logx.Logger
	botID atomic.Int64
}

func New(deps Deps, log logx.Logger) *Pipeline {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{deps: deps, log: log}
}

// SetBotID identifies the bot's own messages, known once the adapter is up.
func (p *Pipeline) SetBotID(id int64) { p.botID.Store(id) }

// Run consumes updates with a bounded pool of workers until ctx ends or
// updates is closed.
func (p *Pipeline) Run(ctx context.Context, updates <-chan transport.Update, workers int) error {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-updates:
					if !ok {
						return
					}
					p.safeHandle(ctx, idx, u)
				}
			}
		}(i)
	}
	p.log.Info("intake started", logx.Int("workers", workers))
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) safeHandle(ctx context.Context, worker int, u transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic in intake worker", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	p.Handle(ctx, u)
}

// Handle processes one update. Failures are logged and counted, never returned.
func (p *Pipeline) Handle(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.UpdateMessage:
		p.onMessage(ctx, u.Message, false)
	case transport.UpdateEdited:
		p.onMessage(ctx, u.Message, true)
	case transport.UpdateMembership:
		p.onMembership(ctx, u.Membership)
	case transport.UpdateMigration:
		p.onMigration(ctx, u.Migration)
	}
}

func (p *Pipeline) drop(reason string, in *transport.Message, fields ...logx.Field) {
	p.deps.Recorder.Dropped(reason)
	fields = append(fields, logx.String("reason", reason), logx.Int64("chat_id", in.Chat.ID), logx.Int("msg_id", in.ID))
	p.log.Debug("update dropped", fields...)
}

func (p *Pipeline) onMessage(ctx context.Context, in *transport.Message, edited bool) {
	if in == nil {
		return
	}
	if in.From != nil && in.From.ID == p.botID.Load() {
		p.drop(DropOwnMessage, in)
		return
	}
	if edited {
		resend, err := p.deps.Settings.EditResend(ctx)
		if err != nil {
			p.drop(DropError, in, logx.Err(err))
			return
		}
		if !resend {
			p.drop(DropEditsOff, in)
			return
		}
	}

	if in.From != nil {
		st, err := p.deps.Moderation.Restriction(ctx, in.From.ID)
		if err != nil {
			p.log.Warn("restriction check failed", logx.Int64("user_id", in.From.ID), logx.Err(err))
		} else if st.Blocked() {
			p.drop(DropRestricted, in, logx.String("state", string(st)))
			return
		}
	}

	m := normalize.Normalize(in)
	if m == nil {
		p.drop(DropUnsupported, in)
		return
	}

	src, err := p.deps.Chats.IsActiveSource(ctx, in.Chat.ID)
	if err != nil {
		p.drop(DropError, in, logx.Err(err))
		return
	}
	if !src {
		p.drop(DropNotSource, in)
		return
	}

	// edits are resent as they are, without album buffering or dedup
	if !edited && m.MediaGroupID != "" {
		if _, err := p.deps.Dedup.IsMediaGroupSeen(ctx, m.MediaGroupID); err != nil {
			p.log.Warn("album marker failed", logx.String("media_group_id", m.MediaGroupID), logx.Err(err))
		}
		if err := p.deps.Buffer.Add(ctx, m); err != nil {
			p.drop(DropError, in, logx.Err(err))
		}
		return
	}

	if !edited {
		dup, err := p.deps.Dedup.IsDuplicate(ctx, m)
		if err != nil {
			p.log.Warn("dedup check failed", logx.Err(err))
		} else if dup {
			p.drop(DropDuplicate, in)
			return
		}
		p.threadReply(ctx, in, m)
	}

	if err := p.deps.Distributor.Distribute(ctx, m); err != nil {
		p.drop(DropError, in, logx.Err(err))
		return
	}
	if edited {
		p.log.Info("edit redistributed", logx.Int64("chat_id", in.Chat.ID), logx.Int("msg_id", in.ID))
	}
}

// threadReply links a reply to one of the bot's copies back to the original.
func (p *Pipeline) threadReply(ctx context.Context, in *transport.Message, m *message.Message) {
	r := in.ReplyTo
	if r == nil || r.From == nil || r.From.ID != p.botID.Load() {
		return
	}
	chatID, msgID, ok, err := p.deps.SendLog.ReverseLookup(ctx, in.Chat.ID, r.ID)
	if err != nil {
		p.log.Warn("reverse lookup failed", logx.Int64("chat_id", in.Chat.ID), logx.Int("reply_to", r.ID), logx.Err(err))
		return
	}
	if ok && m.SetReplySource(chatID, msgID) {
		p.log.Debug("reply threaded", logx.Int("msg_id", in.ID), logx.Int64("src_chat", chatID), logx.Int("src_msg", msgID))
	}
}

func (p *Pipeline) onMembership(ctx context.Context, mb *transport.Membership) {
	if mb == nil {
		return
	}
	c := mb.Chat
	switch mb.Status {
	case transport.StatusMember, transport.StatusAdministrator:
		err := p.deps.Chats.Upsert(ctx, storage.Chat{
			ID:       c.ID,
			Type:     c.Type,
			Title:    c.Title,
			Username: c.Username,
		})
		if err != nil {
			p.log.Error("chat registration failed", logx.Int64("chat_id", c.ID), logx.Err(err))
			return
		}
		p.log.Info("chat registered", logx.Int64("chat_id", c.ID), logx.String("type", c.Type), logx.String("title", c.Title))
		if p.deps.Greeter != nil {
			if err := p.deps.Greeter.SendText(ctx, c.ID, greeting); err != nil {
				p.log.Debug("greeting failed", logx.Int64("chat_id", c.ID), logx.Err(err))
			}
		}
	case transport.StatusKicked, transport.StatusLeft:
		if err := p.deps.Chats.Deactivate(ctx, c.ID); err != nil {
			p.log.Error("chat deactivation failed", logx.Int64("chat_id", c.ID), logx.Err(err))
			return
		}
		p.log.Info("chat deactivated", logx.Int64("chat_id", c.ID), logx.String("status", mb.Status))
	}
}

func (p *Pipeline) onMigration(ctx context.Context, mg *transport.Migration) {
	if mg == nil || mg.From == 0 || mg.To == 0 {
		return
	}
	if err := p.deps.Chats.RemapIdentity(ctx, mg.From, mg.To); err != nil {
		p.log.Error("chat remap failed", logx.Int64("from", mg.From), logx.Int64("to", mg.To), logx.Err(err))
		return
	}
	p.log.Info("chat migrated", logx.Int64("from", mg.From), logx.Int64("to", mg.To))
}
