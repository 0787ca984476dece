// Package telegram connects the relay to the Telegram Bot API: long polling
// for inbound updates, plain text for notices, and the relay's Sender.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// allowedUpdates are the update types requested from getUpdates.
var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post", "my_chat_member"}

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

type Config struct {
	Token       string
	Mode        string // ModePolling (default) or ModeWebhook
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint, e.g. a local Bot API server.
	APIURL  string
	Webhook WebhookConfig
	// Drops counts webhook updates refused while the consumer is full.
	Drops DropRecorder
}

// DropRecorder counts updates the adapter could not hand over.
type DropRecorder interface {
	Dropped(reason string)
}

// dropBufferFull is the Dropped reason for updates refused by a full channel.
const dropBufferFull = "update_buffer_full"

type Adapter struct {
	cfg Config
	log logx.Logger

	bot    *tele.Bot
	sender *Sender
	out    atomic.Value // chan<- transport.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// updates dropped because the consumer fell behind; reported periodically
	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePolling
	case ModePolling:
	case ModeWebhook:
		if err := cfg.Webhook.validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown telegram mode %q", cfg.Mode)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Poller: &poller{a: a},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	a.sender = NewSender(b)
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	return a, nil
}

// BotID is the bot's own user id.
func (a *Adapter) BotID() int64 {
	if a.bot == nil || a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// Sender returns the relay sender bound to this bot.
func (a *Adapter) Sender() *Sender { return a.sender }

// deliverUpdate hands up to the consumer and waits while it is full. Polling
// uses it so a slow consumer delays the next getUpdates instead of losing
// updates. It gives up when stop closes.
func (a *Adapter) deliverUpdate(up transport.Update, stop <-chan struct{}) bool {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return false
	}
	select {
	case out <- up:
		return true
	case <-stop:
		return false
	}
}

// offerUpdate hands up to the consumer without waiting. Webhook requests
// must answer promptly, so a full channel drops the update and counts it.
func (a *Adapter) offerUpdate(up transport.Update) bool {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return false
	}
	select {
	case out <- up:
		return true
	default:
		a.droppedUpdates.Add(1)
		if a.cfg.Drops != nil {
			a.cfg.Drops.Dropped(dropBufferFull)
		}
		return false
	}
}

// Start begins receiving updates, by long polling or through the webhook
// listener, and forwards them to out. Polling waits while out is full; the
// webhook drops and counts updates instead.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	if a.cfg.Mode == ModeWebhook {
		if err := a.setWebhook(); err != nil {
			a.abortStart()
			return err
		}
		sup.GoRestart("webhook.serve", a.serveWebhook,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithPublishFirstError(true),
		)
		return nil
	}

	// A registered webhook makes getUpdates fail.
	if _, err := a.bot.Raw("deleteWebhook", map[string]any{"drop_pending_updates": false}); err != nil {
		a.log.Warn("deleteWebhook failed", logx.Err(err))
	}

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.stopBot(2 * time.Second)
	})

	// Start blocks until Stop; restart it if it returns while still running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) abortStart() {
	a.runMu.Lock()
	sup := a.sup
	a.sup, a.running = nil, false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if sup != nil {
		sup.Cancel()
	}
}

// stopBot stops telebot without blocking longer than wait.
func (a *Adapter) stopBot(wait time.Duration) {
	done := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(done)
	}()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		a.log.Debug("telebot stop still pending")
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	// a pending long poll must not hold up shutdown
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendText sends plain text, split into several messages when too long.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitText(text, textChunkLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Raw("sendMessage", payload{ChatID: chatID, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// poller feeds getUpdates results straight to the adapter. telebot's own
// handler pipeline is never used.
type poller struct {
	a      *Adapter
	offset int
}

type getUpdates struct {
	Offset         int      `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

func (p *poller) Poll(b *tele.Bot, _ chan tele.Update, stop chan struct{}) {
	timeout := int(p.a.cfg.PollTimeout / time.Second)
	backoff := time.Second
	for {
		select {
		case <-stop:
			return
		default:
		}

		data, err := b.Raw("getUpdates", getUpdates{Offset: p.offset, Timeout: timeout, AllowedUpdates: allowedUpdates})
		if err != nil {
			p.a.log.Warn("getUpdates failed", logx.Err(err), logx.Duration("backoff", backoff))
			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		var resp struct {
			Result []wireUpdate `json:"result"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			p.a.log.Warn("getUpdates decode failed", logx.Err(err))
			continue
		}
		for _, u := range resp.Result {
			if up, ok := convert(u); ok && !p.a.deliverUpdate(up, stop) {
				select {
				case <-stop:
					// not acknowledged; the next poll fetches it again
					return
				default:
				}
			}
			p.offset = u.ID + 1
		}
	}
}

const textChunkLimit = 4000

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
