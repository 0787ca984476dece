package telegram

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/sender"
)

// defaultRetryAfter applies when a 429 arrives without a retry_after hint.
const defaultRetryAfter = 5 * time.Second

var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+)`)

// goneMarkers identify destinations the bot can no longer post to.
var goneMarkers = []string{
	"bot was blocked",
	"bot was kicked",
	"user is deactivated",
	"chat not found",
	"group chat was deactivated",
	"bot is not a member",
	"have no rights to send",
	"not enough rights to send",
	"peer_id_invalid",
}

// classify maps a Bot API error to a send outcome.
func classify(err error) sender.Result {
	if err == nil {
		return sender.Success(0)
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return sender.RetryAfter(retryAfter(flood.RetryAfter), err)
	}
	var migrated tele.GroupError
	if errors.As(err, &migrated) && migrated.MigratedTo != 0 {
		return sender.IdentityChanged(migrated.MigratedTo, err)
	}

	code := 0
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	} else {
		code = codeOf(err.Error())
	}
	msg := strings.ToLower(err.Error())
	if apiErr != nil {
		msg = strings.ToLower(apiErr.Description + " " + apiErr.Message)
	}

	switch {
	case code == 429 || strings.Contains(msg, "too many requests"):
		if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
			n, _ := strconv.Atoi(m[1])
			return sender.RetryAfter(retryAfter(n), err)
		}
		return sender.RetryAfter(defaultRetryAfter, err)
	case code == 403:
		return sender.Gone(err)
	}
	for _, marker := range goneMarkers {
		if strings.Contains(msg, marker) {
			return sender.Gone(err)
		}
	}
	return sender.Transient(err)
}

func retryAfter(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

// codeOf extracts the trailing "(NNN)" code telebot puts on unknown errors.
func codeOf(s string) int {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ")") {
		return 0
	}
	open := strings.LastIndexByte(s, '(')
	if open < 0 {
		return 0
	}
	n, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil {
		return 0
	}
	return n
}
