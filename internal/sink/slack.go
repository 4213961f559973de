package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/jsonwatch/render"
)

const (
	slackAPIBase    = "https://slack.com/api"
	slackMaxBlocks  = 50
	slackMaxSection = 3000
)

// Slack posts Block Kit messages, either through chat.postMessage with a
// bot token and channel, or through an incoming webhook URL.
type Slack struct {
	base
	token   string
	channel string
	hookURL string
}

// NewSlack creates a Slack sink using the Web API.
func NewSlack(token, channel string, opts ...Option) *Slack {
	return &Slack{base: newBase("slack", slackAPIBase, opts), token: token, channel: channel}
}

// NewSlackWebhook creates a Slack sink posting to an incoming webhook.
func NewSlackWebhook(url string, opts ...Option) *Slack {
	return &Slack{base: newBase("slack", slackAPIBase, opts), hookURL: url}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackPayload struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks,omitempty"`
}

func (s *Slack) Send(ctx context.Context, n Notification) error {
	p := s.payload(n)
	if s.hookURL != "" {
		if _, err := s.postJSON(ctx, s.hookURL, p, nil); err != nil {
			return s.fail(err)
		}
		return nil
	}

	p.Channel = s.channel
	header := http.Header{"Authorization": {"Bearer " + s.token}}
	data, err := s.postJSON(ctx, s.apiBase+"/chat.postMessage", p, header)
	if err != nil {
		return s.fail(err)
	}
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return s.fail(fmt.Errorf("decode response: %w", err))
	}
	if !resp.OK {
		return s.fail(errors.New("slack api: " + resp.Error))
	}
	return nil
}

func (s *Slack) payload(n Notification) slackPayload {
	r := s.renderer
	if n.Kind == KindLifecycle {
		return slackPayload{Text: r.Value(render.TargetMrkdwn, n.Text)}
	}

	p := slackPayload{Text: n.Summary}
	p.Blocks = append(p.Blocks, section(r.Header(render.TargetMrkdwn, n.Summary)))

	frags := n.Fragments
	room := slackMaxBlocks - 1
	if len(frags) > room {
		frags = frags[:room-1]
	}
	for _, f := range frags {
		p.Blocks = append(p.Blocks, section(r.Fragment(render.TargetMrkdwn, f)))
	}
	if rest := len(n.Fragments) - len(frags); rest > 0 {
		p.Blocks = append(p.Blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("…and %d more", rest)}},
		})
	}
	return p
}

func section(text string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: clipEscaped(text, slackMaxSection)}}
}
