package telegram

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func webhookAdapter(secret string) (*Adapter, chan transport.Update) {
	out := make(chan transport.Update, 4)
	a := &Adapter{cfg: Config{Mode: ModeWebhook, Webhook: WebhookConfig{Secret: secret}}, log: logx.Nop()}
	a.out.Store((chan<- transport.Update)(out))
	return a, out
}

func post(h http.Handler, body string, hdr map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

const textUpdate = `{"update_id":5,"message":{"message_id":9,"chat":{"id":-100,"type":"supergroup"},"from":{"id":7},"text":"hi"}}`

func TestWebhookForwardsUpdates(t *testing.T) {
	a, out := webhookAdapter("")
	require.Equal(t, http.StatusOK, post(a.webhookHandler(), textUpdate, nil))

	require.Len(t, out, 1)
	up := <-out
	assert.Equal(t, int64(-100), up.Message.Chat.ID)
}

func TestWebhookChecksSecret(t *testing.T) {
	a, out := webhookAdapter("s3cret")
	h := a.webhookHandler()

	assert.Equal(t, http.StatusUnauthorized, post(h, textUpdate, nil))
	assert.Equal(t, http.StatusUnauthorized, post(h, textUpdate, map[string]string{secretHeader: "nope"}))
	assert.Equal(t, http.StatusOK, post(h, textUpdate, map[string]string{secretHeader: "s3cret"}))
	assert.Len(t, out, 1)
}

func TestWebhookAcknowledgesGarbage(t *testing.T) {
	a, out := webhookAdapter("")
	assert.Equal(t, http.StatusOK, post(a.webhookHandler(), "{not json", nil))
	assert.Empty(t, out)
}

func TestWebhookRejectsGet(t *testing.T) {
	a, _ := webhookAdapter("")
	rec := httptest.NewRecorder()
	a.webhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookConfigValidation(t *testing.T) {
	assert.Error(t, WebhookConfig{PublicURL: "https://x"}.validate())
	assert.Error(t, WebhookConfig{Listen: ":8443", PublicURL: "http://x"}.validate())
	assert.NoError(t, WebhookConfig{Listen: ":8443", PublicURL: "https://x"}.validate())
	assert.Equal(t, "/webhook", WebhookConfig{}.path())
	assert.Equal(t, "/tg", WebhookConfig{Path: "tg"}.path())
}

type dropLog struct {
	mu      sync.Mutex
	reasons []string
}

func (d *dropLog) Dropped(r string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, r)
}

func TestWebhookCountsDropsWhenConsumerFull(t *testing.T) {
	a, out := webhookAdapter("")
	drops := &dropLog{}
	a.cfg.Drops = drops
	h := a.webhookHandler()

	for i := 0; i < cap(out)+2; i++ {
		body := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"chat":{"id":-100,"type":"supergroup"},"from":{"id":7},"text":"hi"}}`, i+1, i+1)
		require.Equal(t, http.StatusOK, post(h, body, nil))
	}
	assert.Len(t, out, cap(out))
	assert.Equal(t, []string{dropBufferFull, dropBufferFull}, drops.reasons)
	assert.Equal(t, uint64(2), a.droppedUpdates.Load())
}

func msgUpdate(id int) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ID: id}}
}

func TestPollingDeliveryWaitsForConsumer(t *testing.T) {
	out := make(chan transport.Update, 1)
	a := &Adapter{log: logx.Nop()}
	a.out.Store((chan<- transport.Update)(out))
	out <- msgUpdate(1)

	done := make(chan bool, 1)
	go func() { done <- a.deliverUpdate(msgUpdate(2), make(chan struct{})) }()

	select {
	case <-done:
		t.Fatal("delivered into a full channel")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, (<-out).Message.ID)
	require.True(t, <-done)
	assert.Equal(t, 2, (<-out).Message.ID)
	assert.Zero(t, a.droppedUpdates.Load())
}

func TestPollingDeliveryGivesUpOnStop(t *testing.T) {
	out := make(chan transport.Update)
	a := &Adapter{log: logx.Nop()}
	a.out.Store((chan<- transport.Update)(out))

	stop := make(chan struct{})
	close(stop)
	assert.False(t, a.deliverUpdate(msgUpdate(1), stop))
}
