package sender

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/message"
)

func TestDecorateEmpty(t *testing.T) {
	assert.Equal(t, Decorated{}, Decorate("", nil, "", "", TextLimit))
}

func TestDecorateBodyOnlyKeepsEntities(t *testing.T) {
	ents := []message.Entity{{Type: "bold", Offset: 0, Length: 5}}
	d := Decorate("hello", ents, "", "", TextLimit)
	assert.Equal(t, "hello", d.Text)
	assert.Equal(t, ents, d.Entities)

	d.Entities[0].Length = 1
	assert.Equal(t, 5, ents[0].Length, "input entities are not aliased")
}

func TestDecorateAppendsSignature(t *testing.T) {
	d := Decorate("hello", nil, "via @relay", "", TextLimit)
	assert.Equal(t, "hello\n\nvia @relay", d.Text)
	assert.Empty(t, d.Entities)
}

func TestDecorateSignatureWithoutBody(t *testing.T) {
	d := Decorate("", nil, "via @relay", "", CaptionLimit)
	assert.Equal(t, "via @relay", d.Text)
}

func TestDecorateAliasEntityUsesUTF16Offsets(t *testing.T) {
	body := "hi 😀" // the emoji is two UTF-16 units
	d := Decorate(body, nil, "sig", "calm_otter", TextLimit)
	assert.Equal(t, "hi 😀\n\n[calm_otter]\nsig", d.Text)
	require.Len(t, d.Entities, 1)
	assert.Equal(t, message.Entity{Type: "code", Offset: 7, Length: 12}, d.Entities[0])
}

func TestDecorateTruncatesBodyNeverSuffix(t *testing.T) {
	body := strings.Repeat("a", 30)
	ents := []message.Entity{
		{Type: "bold", Offset: 0, Length: 4},
		{Type: "italic", Offset: 8, Length: 10},
		{Type: "underline", Offset: 20, Length: 5},
	}
	d := Decorate(body, ents, "SIG", "", 20)

	// 20 - len("\n\n") - len("SIG") - len("...") = 12 units of body
	assert.Equal(t, strings.Repeat("a", 12)+"...\n\nSIG", d.Text)
	assert.Equal(t, 20, len16(d.Text))
	assert.Equal(t, []message.Entity{
		{Type: "bold", Offset: 0, Length: 4},
		{Type: "italic", Offset: 8, Length: 4},
	}, d.Entities)
}

func TestDecorateSuffixLongerThanLimit(t *testing.T) {
	d := Decorate("body", []message.Entity{{Type: "bold", Length: 4}}, strings.Repeat("s", 50), "", 10)
	assert.Equal(t, strings.Repeat("s", 10), d.Text)
	assert.Empty(t, d.Entities)
}

func TestCut16DoesNotSplitSurrogates(t *testing.T) {
	assert.Equal(t, "a", cut16("a😀", 2))
	assert.Equal(t, "a😀", cut16("a😀", 3))
}
