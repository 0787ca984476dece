package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"relaybot/pkg/logx"
)

const (
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody  = 4 << 20
	defaultHookPath = "/webhook"
)

// WebhookConfig describes the inbound webhook listener. PublicURL is what
// Telegram calls; Listen is the local bind address behind it.
type WebhookConfig struct {
	Listen    string
	PublicURL string
	Path      string
	Secret    string
}

func (w WebhookConfig) validate() error {
	if strings.TrimSpace(w.Listen) == "" {
		return errors.New("webhook mode requires a listen address")
	}
	if !strings.HasPrefix(w.PublicURL, "https://") {
		return errors.New("webhook mode requires an https public url")
	}
	return nil
}

func (w WebhookConfig) path() string {
	p := strings.TrimSpace(w.Path)
	if p == "" {
		return defaultHookPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

type setWebhook struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates"`
}

func (a *Adapter) setWebhook() error {
	wh := a.cfg.Webhook
	url := strings.TrimRight(wh.PublicURL, "/") + wh.path()
	if _, err := a.bot.Raw("setWebhook", setWebhook{URL: url, SecretToken: wh.Secret, AllowedUpdates: allowedUpdates}); err != nil {
		return err
	}
	a.log.Info("webhook registered", logx.String("url", url), logx.Bool("secret_set", wh.Secret != ""))
	return nil
}

func (a *Adapter) serveWebhook(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Webhook.Listen)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Webhook.path(), a.webhookHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()
	a.log.Info("webhook listener started", logx.String("addr", ln.Addr().String()), logx.String("path", a.cfg.Webhook.path()))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if errors.Is(err, http.ErrServerClosed) {
		return errors.New("webhook listener exited unexpectedly")
	}
	return err
}

// webhookHandler accepts one update per POST. Anything that is not a valid
// update is still acknowledged so Telegram does not redeliver it.
func (a *Adapter) webhookHandler() http.Handler {
	secret := []byte(a.cfg.Webhook.Secret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if len(secret) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), secret) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var u wireUpdate
		if err := json.Unmarshal(body, &u); err != nil {
			a.log.Warn("webhook update decode failed", logx.Err(err))
			w.WriteHeader(http.StatusOK)
			return
		}
		if up, ok := convert(u); ok {
			a.offerUpdate(up)
		}
		w.WriteHeader(http.StatusOK)
	})
}
