// Package sender is the outbound boundary of the relay. A Sender turns one
// message plus per-destination decoration into platform calls and reports a
// classified Result; it never surfaces transport errors for control flow.
package sender

import (
	"context"
	"fmt"
	"time"

	"relaybot/internal/message"
)

// Outcome classifies one send attempt.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryAfter means the platform asked to slow down for Result.RetryAfter.
	OutcomeRetryAfter
	// OutcomeGone means the destination can no longer be reached.
	OutcomeGone
	// OutcomeIdentityChanged means the destination moved to Result.NewChatID.
	OutcomeIdentityChanged
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryAfter:
		return "retry_after"
	case OutcomeGone:
		return "gone"
	case OutcomeIdentityChanged:
		return "identity_changed"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

type Result struct {
	Outcome    Outcome
	MessageID  int
	RetryAfter time.Duration
	NewChatID  int64
	Err        error
}

func Success(messageID int) Result { return Result{Outcome: OutcomeSuccess, MessageID: messageID} }

func RetryAfter(d time.Duration, err error) Result {
	return Result{Outcome: OutcomeRetryAfter, RetryAfter: d, Err: err}
}

func Gone(err error) Result { return Result{Outcome: OutcomeGone, Err: err} }

func IdentityChanged(newChatID int64, err error) Result {
	return Result{Outcome: OutcomeIdentityChanged, NewChatID: newChatID, Err: err}
}

func Transient(err error) Result { return Result{Outcome: OutcomeTransient, Err: err} }

// Request is one delivery of Message to ChatID.
type Request struct {
	Message   *message.Message
	ChatID    int64
	Signature string
	Alias     string
	// ReplyTo is the destination-local message id to reply to, 0 for none.
	ReplyTo int
}

type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// Text is a plain outbound notice used for operator and chat notifications.
type Text interface {
	SendText(ctx context.Context, chatID int64, text string) error
}
