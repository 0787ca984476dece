// Package dedup rejects re-deliveries of content already relayed recently.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"relaybot/internal/message"
)

// DefaultWindow bounds how long a fingerprint is remembered.
const DefaultWindow = 24 * time.Hour

// Marker is the cache surface the engine needs.
type Marker interface {
	MarkFingerprint(ctx context.Context, fp string, ttl time.Duration) (bool, error)
	MarkMediaGroup(ctx context.Context, groupID string, ttl time.Duration) (bool, error)
}

// Fingerprint identifies content independently of the message that carried
// it. It is empty when neither a media reference nor text is available.
func Fingerprint(m *message.Message) string {
	if m == nil {
		return ""
	}
	if ref, ok := m.File(); ok && ref.FileUniqueID != "" {
		return "media:" + ref.FileUniqueID
	}
	if t, ok := m.Content.(message.Text); ok {
		return TextFingerprint(t.Body)
	}
	return ""
}

// TextFingerprint hashes whitespace-trimmed text. Blank text has no fingerprint.
func TextFingerprint(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return "text:" + hex.EncodeToString(sum[:])[:32]
}

type Engine struct {
	marker Marker
	window time.Duration
}

func New(marker Marker, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{marker: marker, window: window}
}

// IsDuplicate reports whether the message's content was already seen within
// the window. Content without a fingerprint is never a duplicate.
func (e *Engine) IsDuplicate(ctx context.Context, m *message.Message) (bool, error) {
	fp := Fingerprint(m)
	if fp == "" {
		return false, nil
	}
	first, err := e.marker.MarkFingerprint(ctx, fp, e.window)
	if err != nil {
		return false, err
	}
	return !first, nil
}

// IsMediaGroupSeen reports whether an album id was already seen within the
// window. Only the first part of a new album gets false.
func (e *Engine) IsMediaGroupSeen(ctx context.Context, groupID string) (bool, error) {
	if groupID == "" {
		return false, nil
	}
	first, err := e.marker.MarkMediaGroup(ctx, groupID, e.window)
	if err != nil {
		return false, err
	}
	return !first, nil
}
