package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"relaybot/internal/message"
	"relaybot/internal/sender"
)

// api is the slice of *tele.Bot the sender uses.
type api interface {
	Raw(method string, payload interface{}) ([]byte, error)
}

var errEmptyAlbum = errors.New("telegram: album has no items")

// Sender delivers relay messages through the Bot API and reports a
// classified outcome instead of an error.
type Sender struct {
	api api
}

func NewSender(a api) *Sender { return &Sender{api: a} }

func (s *Sender) Send(ctx context.Context, req sender.Request) sender.Result {
	if err := ctx.Err(); err != nil {
		return sender.Transient(err)
	}
	m := req.Message
	if m == nil {
		return sender.Transient(errors.New("telegram: nil message"))
	}
	if m.Kind() == message.KindMediaGroup {
		return s.sendGroup(ctx, req)
	}
	return s.sendSingle(m, req.ChatID, req.Signature, req.Alias, req.ReplyTo)
}

func (s *Sender) sendSingle(m *message.Message, chatID int64, signature, alias string, reply int) sender.Result {
	method, p, ok := buildSingle(m, chatID, signature, alias, reply)
	if !ok {
		return sender.Transient(fmt.Errorf("telegram: cannot send %s", m.Kind()))
	}
	data, err := s.api.Raw(method, p)
	if err != nil {
		return classify(err)
	}
	var resp struct {
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return sender.Success(0)
	}
	return sender.Success(resp.Result.MessageID)
}

// sendGroup sends an album as one or more calls. The first item of the
// first call carries the album caption, the signature, the alias and the
// reply; every later item and call goes out bare. Once any call succeeded a
// later failure is reported on a success result, since retrying would
// duplicate the delivered part.
func (s *Sender) sendGroup(ctx context.Context, req sender.Request) sender.Result {
	items := req.Message.Items()
	if len(items) == 0 {
		return sender.Transient(errEmptyAlbum)
	}
	lead, _ := sender.LeadCaption(items)
	firstID := 0
	for i, b := range sender.PlanGroup(items) {
		if err := ctx.Err(); err != nil {
			return partial(firstID, err)
		}
		caption, signature, alias, reply := message.Caption{}, "", "", 0
		if i == 0 {
			caption, signature, alias, reply = lead, req.Signature, req.Alias, req.ReplyTo
		}
		var res sender.Result
		if b.Album {
			res = s.sendAlbum(buildAlbum(b.Items, req.ChatID, caption, signature, alias, reply))
		} else {
			res = s.sendSingle(withCaption(b.Items[0], caption), req.ChatID, signature, alias, reply)
		}
		if res.Outcome != sender.OutcomeSuccess {
			return partial(firstID, res.Err, res)
		}
		if firstID == 0 {
			firstID = res.MessageID
		}
	}
	return sender.Success(firstID)
}

func (s *Sender) sendAlbum(p mediaGroupPayload) sender.Result {
	data, err := s.api.Raw("sendMediaGroup", p)
	if err != nil {
		return classify(err)
	}
	var resp struct {
		Result []struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Result) == 0 {
		return sender.Success(0)
	}
	return sender.Success(resp.Result[0].MessageID)
}

func partial(firstID int, err error, failed ...sender.Result) sender.Result {
	if firstID != 0 {
		r := sender.Success(firstID)
		r.Err = err
		return r
	}
	if len(failed) > 0 {
		return failed[0]
	}
	return sender.Transient(err)
}
