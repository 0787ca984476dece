// Package settings exposes the runtime switches stored in bot_config.
package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"relaybot/internal/storage"
)

const DefaultRefresh = 10 * time.Second

const (
	EditOff    = "off"
	EditResend = "resend"
)

type Repo interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Service serves bot_config values from a snapshot refreshed at most every
// refresh interval. Writes through Set are visible immediately.
type Service struct {
	repo    Repo
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	snap     map[string]string
	loadedAt time.Time
	botUser  string
}

func New(repo Repo, refresh time.Duration) *Service {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Service{repo: repo, refresh: refresh, now: time.Now}
}

// SetBotUsername sets the username used by the default signature.
func (s *Service) SetBotUsername(name string) {
	s.mu.Lock()
	s.botUser = strings.TrimPrefix(name, "@")
	s.mu.Unlock()
}

func (s *Service) values(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil && s.now().Sub(s.loadedAt) < s.refresh {
		return s.snap, nil
	}
	all, err := s.repo.All(ctx)
	if err != nil {
		if s.snap != nil {
			return s.snap, nil
		}
		return nil, err
	}
	s.snap, s.loadedAt = all, s.now()
	return all, nil
}

func (s *Service) get(ctx context.Context, key string) (string, error) {
	v, err := s.values(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v[key]), nil
}

func (s *Service) Paused(ctx context.Context) (bool, error) {
	v, err := s.get(ctx, storage.KeyPaused)
	return truthy(v, false), err
}

// Signature returns the footer appended to relayed content: the configured
// text, else the configured URL, else "via @<bot>". Empty when disabled.
func (s *Service) Signature(ctx context.Context) (string, error) {
	v, err := s.values(ctx)
	if err != nil {
		return "", err
	}
	if !truthy(strings.TrimSpace(v[storage.KeySignatureEnabled]), true) {
		return "", nil
	}
	if t := strings.TrimSpace(v[storage.KeySignatureText]); t != "" {
		return t, nil
	}
	if u := strings.TrimSpace(v[storage.KeySignatureURL]); u != "" {
		return u, nil
	}
	s.mu.Lock()
	user := s.botUser
	s.mu.Unlock()
	if user == "" {
		return "", nil
	}
	return "via @" + user, nil
}

// EditResend reports whether edited messages are relayed again as new ones.
func (s *Service) EditResend(ctx context.Context) (bool, error) {
	v, err := s.get(ctx, storage.KeyEditRedistribution)
	return strings.EqualFold(v, EditResend), err
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	if s.snap != nil {
		next := make(map[string]string, len(s.snap)+1)
		for k, v := range s.snap {
			next[k] = v
		}
		next[key] = value
		s.snap = next
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	v := "false"
	if paused {
		v = "true"
	}
	return s.Set(ctx, storage.KeyPaused, v)
}

func truthy(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
