package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/message"
	"relaybot/internal/sender"
)

type call struct {
	method string
	body   map[string]any
}

// fakeAPI records calls and answers them in order from replies; once
// replies run out every call succeeds.
type fakeAPI struct {
	calls   []call
	replies []error
	nextID  int
}

func (f *fakeAPI) Raw(method string, p interface{}) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	_ = json.Unmarshal(b, &body)
	f.calls = append(f.calls, call{method: method, body: body})
	if len(f.replies) > 0 {
		err := f.replies[0]
		f.replies = f.replies[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID += 10
	if method == "sendMediaGroup" {
		return []byte(fmt.Sprintf(`{"ok":true,"result":[{"message_id":%d},{"message_id":%d}]}`, f.nextID, f.nextID+1)), nil
	}
	return []byte(fmt.Sprintf(`{"ok":true,"result":{"message_id":%d}}`, f.nextID)), nil
}

func photoPart(id int, caption string) *message.Message {
	return &message.Message{SourceChatID: -1, SourceMessageID: id, MediaGroupID: "g",
		Content: message.Photo{FileRef: message.FileRef{FileID: fmt.Sprintf("p%d", id)}, Caption: message.Caption{Caption: caption}}}
}

func TestSendTextDecoratesAndReplies(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	m := &message.Message{SourceChatID: -1, SourceMessageID: 1, Content: message.Text{Body: "hello"}}

	res := s.Send(context.Background(), sender.Request{Message: m, ChatID: -2, Signature: "via @relay", Alias: "quiet_fox", ReplyTo: 77})
	require.Equal(t, sender.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 10, res.MessageID)

	require.Len(t, api.calls, 1)
	c := api.calls[0]
	assert.Equal(t, "sendMessage", c.method)
	assert.Equal(t, "hello\n\n[quiet_fox]\nvia @relay", c.body["text"])
	assert.Equal(t, map[string]any{"message_id": float64(77), "allow_sending_without_reply": true}, c.body["reply_parameters"])
	ents := c.body["entities"].([]any)
	require.Len(t, ents, 1)
	assert.Equal(t, "code", ents[0].(map[string]any)["type"])
}

func TestSendMediaUsesFileID(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	m := &message.Message{Content: message.Video{FileRef: message.FileRef{FileID: "vid"}, Duration: 9, Streaming: true}}

	res := s.Send(context.Background(), sender.Request{Message: m, ChatID: -2})
	require.Equal(t, sender.OutcomeSuccess, res.Outcome)
	c := api.calls[0]
	assert.Equal(t, "sendVideo", c.method)
	assert.Equal(t, "vid", c.body["video"])
	assert.Equal(t, true, c.body["supports_streaming"])
	assert.NotContains(t, c.body, "reply_parameters")
}

func TestSendStickerCarriesNoSuffix(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	m := &message.Message{Content: message.Sticker{FileRef: message.FileRef{FileID: "st"}}}

	s.Send(context.Background(), sender.Request{Message: m, ChatID: -2, Signature: "sig", Alias: "a_b"})
	assert.Equal(t, "sendSticker", api.calls[0].method)
	assert.NotContains(t, api.calls[0].body, "caption")
}

func TestSendAlbumPromotesLeadCaption(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	parts := []*message.Message{photoPart(1, ""), photoPart(2, "lead"), photoPart(3, "own")}
	album := &message.Message{SourceChatID: -1, SourceMessageID: 1, MediaGroupID: "g", Content: message.Group{Items: parts}}

	res := s.Send(context.Background(), sender.Request{Message: album, ChatID: -2, Signature: "sig", ReplyTo: 5})
	require.Equal(t, sender.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 10, res.MessageID)

	require.Len(t, api.calls, 1)
	media := api.calls[0].body["media"].([]any)
	require.Len(t, media, 3)
	assert.Equal(t, "lead\n\nsig", media[0].(map[string]any)["caption"])
	assert.NotContains(t, media[1].(map[string]any), "caption")
	assert.NotContains(t, media[2].(map[string]any), "caption", "only the lead caption survives")
	assert.Contains(t, api.calls[0].body, "reply_parameters")
}

func TestSendAlbumDecoratesOnlyFirstChunk(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	var parts []*message.Message
	for i := 1; i <= 12; i++ {
		caption := ""
		if i == 1 {
			caption = "lead"
		}
		if i == 11 {
			caption = "late"
		}
		parts = append(parts, photoPart(i, caption))
	}
	for i := 13; i <= 14; i++ {
		parts = append(parts, &message.Message{SourceMessageID: i,
			Content: message.Document{FileRef: message.FileRef{FileID: fmt.Sprintf("d%d", i)}, Caption: message.Caption{Caption: "doc"}}})
	}
	album := &message.Message{SourceChatID: -1, SourceMessageID: 1, MediaGroupID: "g", Content: message.Group{Items: parts}}

	res := s.Send(context.Background(), sender.Request{Message: album, ChatID: -2, Signature: "SIG", Alias: "quiet_fox", ReplyTo: 5})
	require.Equal(t, sender.OutcomeSuccess, res.Outcome)

	require.Len(t, api.calls, 3)
	for i, c := range api.calls {
		require.Equal(t, "sendMediaGroup", c.method, "call %d", i)
		media := c.body["media"].([]any)
		for j, m := range media {
			if i == 0 && j == 0 {
				assert.Equal(t, "lead\n\n[quiet_fox]\nSIG", m.(map[string]any)["caption"])
				continue
			}
			assert.NotContains(t, m.(map[string]any), "caption", "call %d item %d", i, j)
		}
		if i == 0 {
			assert.Contains(t, c.body, "reply_parameters")
		} else {
			assert.NotContains(t, c.body, "reply_parameters", "call %d", i)
		}
	}
	assert.Len(t, api.calls[0].body["media"].([]any), 10)
	assert.Len(t, api.calls[1].body["media"].([]any), 2)
	assert.Len(t, api.calls[2].body["media"].([]any), 2)
}

func TestSendAlbumSingleLeadCarriesAlbumCaption(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	voice := &message.Message{SourceMessageID: 1, Content: message.Voice{FileRef: message.FileRef{FileID: "v"}}}
	album := &message.Message{Content: message.Group{Items: []*message.Message{voice, photoPart(2, "cap")}}}

	s.Send(context.Background(), sender.Request{Message: album, ChatID: -2, Signature: "SIG"})
	require.Len(t, api.calls, 2)
	assert.Equal(t, "sendPhoto", api.calls[0].method)
	assert.Equal(t, "cap\n\nSIG", api.calls[0].body["caption"])
	assert.Equal(t, "sendVoice", api.calls[1].method)
	assert.NotContains(t, api.calls[1].body, "caption")
}

func TestSendMixedAlbumRepliesOnlyOnce(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api)
	doc := &message.Message{SourceMessageID: 3, Content: message.Document{FileRef: message.FileRef{FileID: "d"}}}
	album := &message.Message{Content: message.Group{Items: []*message.Message{photoPart(1, ""), photoPart(2, ""), doc}}}

	res := s.Send(context.Background(), sender.Request{Message: album, ChatID: -2, ReplyTo: 5})
	require.Equal(t, sender.OutcomeSuccess, res.Outcome)
	require.Len(t, api.calls, 2)
	assert.Equal(t, "sendMediaGroup", api.calls[0].method)
	assert.Equal(t, "sendDocument", api.calls[1].method)
	assert.NotContains(t, api.calls[1].body, "reply_parameters")
}

func TestSendClassifiesFailures(t *testing.T) {
	m := &message.Message{Content: message.Text{Body: "x"}}

	api := &fakeAPI{replies: []error{tele.FloodError{RetryAfter: 3}}}
	res := NewSender(api).Send(context.Background(), sender.Request{Message: m, ChatID: -2})
	assert.Equal(t, sender.OutcomeRetryAfter, res.Outcome)

	api = &fakeAPI{replies: []error{tele.NewError(403, "Forbidden: bot was kicked from the group chat")}}
	res = NewSender(api).Send(context.Background(), sender.Request{Message: m, ChatID: -2})
	assert.Equal(t, sender.OutcomeGone, res.Outcome)
}

func TestSendAlbumPartialFailureIsSuccess(t *testing.T) {
	doc := &message.Message{Content: message.Document{FileRef: message.FileRef{FileID: "d"}}}
	album := &message.Message{Content: message.Group{Items: []*message.Message{photoPart(1, ""), photoPart(2, ""), doc}}}
	api := &fakeAPI{replies: []error{nil, tele.NewError(500, "Internal Server Error")}}

	res := NewSender(api).Send(context.Background(), sender.Request{Message: album, ChatID: -2})
	assert.Equal(t, sender.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 10, res.MessageID)
	assert.Error(t, res.Err)
}

func TestSendCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{}
	res := NewSender(api).Send(ctx, sender.Request{Message: &message.Message{Content: message.Text{Body: "x"}}, ChatID: -2})
	assert.Equal(t, sender.OutcomeTransient, res.Outcome)
	assert.Empty(t, api.calls)
}
