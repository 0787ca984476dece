package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/message"
	"relaybot/internal/transport"
)

func base() *transport.Message {
	return &transport.Message{ID: 10, Chat: transport.Chat{ID: -100, Type: transport.ChatSupergroup}, From: &transport.User{ID: 7}}
}

func TestNormalizeKinds(t *testing.T) {
	file := transport.File{FileID: "f", FileUniqueID: "u", FileSize: 10}
	tests := []struct {
		name string
		mut  func(m *transport.Message)
		want message.Kind
	}{
		{"text", func(m *transport.Message) { m.Text = "hello" }, message.KindText},
		{"photo", func(m *transport.Message) { m.Photo = []transport.PhotoSize{{File: file}} }, message.KindPhoto},
		{"video", func(m *transport.Message) { m.Video = &transport.Video{File: file} }, message.KindVideo},
		{"animation", func(m *transport.Message) { m.Animation = &transport.Animation{File: file} }, message.KindAnimation},
		{"audio", func(m *transport.Message) { m.Audio = &transport.Audio{File: file} }, message.KindAudio},
		{"document", func(m *transport.Message) { m.Document = &transport.Document{File: file} }, message.KindDocument},
		{"voice", func(m *transport.Message) { m.Voice = &transport.Voice{File: file} }, message.KindVoice},
		{"video_note", func(m *transport.Message) { m.VideoNote = &transport.VideoNote{File: file} }, message.KindVideoNote},
		{"sticker", func(m *transport.Message) { m.Sticker = &transport.Sticker{File: file} }, message.KindSticker},
		{"text wins over photo", func(m *transport.Message) {
			m.Text = "t"
			m.Photo = []transport.PhotoSize{{File: file}}
		}, message.KindText},
		{"animation wins over document", func(m *transport.Message) {
			m.Animation = &transport.Animation{File: file}
			m.Document = &transport.Document{File: file}
		}, message.KindAnimation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mut(in)
			got := Normalize(in)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind())
			assert.Equal(t, int64(-100), got.SourceChatID)
			assert.Equal(t, 10, got.SourceMessageID)
			assert.Equal(t, int64(7), got.SourceUserID)
		})
	}
}

func TestNormalizeUnsupported(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Nil(t, Normalize(base()), "service message without content")

	paid := base()
	paid.PaidMedia = true
	paid.Caption = "buy me"
	assert.Nil(t, Normalize(paid))
}

func TestNormalizeAnonymousPost(t *testing.T) {
	in := base()
	in.From = nil
	in.Text = "channel post"
	got := Normalize(in)
	require.NotNil(t, got)
	assert.Zero(t, got.SourceUserID)
}

func TestLargestPhotoTieKeepsFirst(t *testing.T) {
	sizes := []transport.PhotoSize{
		{File: transport.File{FileID: "small", FileSize: 100}},
		{File: transport.File{FileID: "big-a", FileSize: 900}},
		{File: transport.File{FileID: "big-b", FileSize: 900}},
		{File: transport.File{FileID: "mid", FileSize: 500}},
	}
	assert.Equal(t, "big-a", LargestPhoto(sizes).FileID)
}

func TestEntitiesDropMentions(t *testing.T) {
	in := base()
	in.Text = "hi @bob"
	in.Entities = []transport.Entity{
		{Type: "bold", Offset: 0, Length: 2},
		{Type: "text_mention", Offset: 3, Length: 4, User: &transport.User{ID: 9}},
		{Type: "pre", Offset: 0, Length: 2, Language: "go"},
		{Type: "custom_emoji", Offset: 1, Length: 1, CustomEmojiID: "e1"},
		{Type: "text_link", Offset: 0, Length: 2, URL: "https://example.org"},
	}
	got := Normalize(in)
	require.NotNil(t, got)
	text := got.Content.(message.Text)
	require.Len(t, text.Entities, 4)
	for _, e := range text.Entities {
		assert.NotEqual(t, "text_mention", e.Type)
	}
	assert.Equal(t, "go", text.Entities[1].Language)
	assert.Equal(t, "e1", text.Entities[2].CustomEmojiID)
	assert.Equal(t, "https://example.org", text.Entities[3].URL)
}

func TestNormalizeThenBufferRoundTrip(t *testing.T) {
	in := base()
	in.MediaGroupID = "mg"
	in.Caption = "cap"
	in.CaptionEntities = []transport.Entity{{Type: "italic", Offset: 0, Length: 3}}
	in.HasMediaSpoiler = true
	in.Photo = []transport.PhotoSize{{File: transport.File{FileID: "p", FileUniqueID: "up", FileSize: 3}, Width: 90, Height: 60}}

	m := Normalize(in)
	require.NotNil(t, m)
	b, err := message.Encode(m)
	require.NoError(t, err)
	back, err := message.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, m, back)
}
