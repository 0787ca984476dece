package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/sender"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		want  sender.Outcome
		after time.Duration
	}{
		{"flood", tele.FloodError{RetryAfter: 7}, sender.OutcomeRetryAfter, 7 * time.Second},
		{"flood without hint", tele.FloodError{}, sender.OutcomeRetryAfter, defaultRetryAfter},
		{"429 text", errors.New("telegram: Too Many Requests: retry after 12 (429)"), sender.OutcomeRetryAfter, 12 * time.Second},
		{"blocked", tele.NewError(403, "Forbidden: bot was blocked by the user"), sender.OutcomeGone, 0},
		{"403 unknown", errors.New("telegram: Forbidden: something new (403)"), sender.OutcomeGone, 0},
		{"chat not found", errors.New("telegram: Bad Request: chat not found (400)"), sender.OutcomeGone, 0},
		{"server error", errors.New("telegram: Internal Server Error (500)"), sender.OutcomeTransient, 0},
		{"network", errors.New("dial tcp: i/o timeout"), sender.OutcomeTransient, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := classify(tc.err)
			assert.Equal(t, tc.want, res.Outcome)
			assert.Equal(t, tc.after, res.RetryAfter)
		})
	}
}

func TestClassifyMigration(t *testing.T) {
	res := classify(tele.GroupError{MigratedTo: -1001234})
	assert.Equal(t, sender.OutcomeIdentityChanged, res.Outcome)
	assert.Equal(t, int64(-1001234), res.NewChatID)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, 400, codeOf("telegram: Bad Request: x (400)"))
	assert.Zero(t, codeOf("no code here"))
	assert.Zero(t, codeOf("weird (abc)"))
}
