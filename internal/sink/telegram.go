package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"unicode/utf8"

	"github.com/hazyhaar/jsonwatch/render"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	telegramMaxText = 4096
)

// Telegram sends HTML-formatted messages through the Bot API sendMessage.
type Telegram struct {
	base
	token  string
	chatID string
}

// NewTelegram creates a Telegram sink for a bot token and chat ID.
func NewTelegram(token, chatID string, opts ...Option) *Telegram {
	return &Telegram{base: newBase("telegram", telegramAPIBase, opts), token: token, chatID: chatID}
}

type telegramPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) Send(ctx context.Context, n Notification) error {
	p := telegramPayload{
		ChatID:                t.chatID,
		Text:                  t.message(n),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	data, err := t.postJSON(ctx, endpoint, p, nil)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = fmt.Errorf("%s: %w", ue.Op, ue.Err)
		}
		return t.fail(err)
	}
	var resp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return t.fail(fmt.Errorf("decode response: %w", err))
	}
	if !resp.OK {
		return t.fail(errors.New("telegram api: " + resp.Description))
	}
	return nil
}

// message joins whole fragments until the 4096-character limit so HTML tags
// are never cut.
func (t *Telegram) message(n Notification) string {
	r := t.renderer
	if n.Kind == KindLifecycle {
		if msg := r.Value(render.TargetHTML, n.Text); utf8.RuneCountInString(msg) <= telegramMaxText {
			return msg
		}
		return clipRaw(r.Value(render.TargetText, n.Text), telegramMaxText, html.EscapeString)
	}

	msg := r.Header(render.TargetHTML, n.Summary)
	for i, f := range n.Fragments {
		block := "\n\n" + r.Fragment(render.TargetHTML, f)
		more := fmt.Sprintf("\n\n…and %d more", len(n.Fragments)-i)
		if utf8.RuneCountInString(msg)+utf8.RuneCountInString(block)+utf8.RuneCountInString(more) > telegramMaxText {
			return msg + more
		}
		msg += block
	}
	return msg
}
