package sink

import (
	"context"

	"github.com/hazyhaar/jsonwatch/render"
)

// Webhook POSTs {"<field>": "<plain text>"} to a URL. The default field is
// "content", which Discord-compatible receivers accept as-is.
type Webhook struct {
	base
	url   string
	field string
}

// NewWebhook creates a Webhook sink. An empty field means "content".
func NewWebhook(url, field string, opts ...Option) *Webhook {
	if field == "" {
		field = "content"
	}
	return &Webhook{base: newBase("webhook", "", opts), url: url, field: field}
}

func (w *Webhook) Send(ctx context.Context, n Notification) error {
	payload := map[string]string{w.field: w.text(render.TargetText, n)}
	if _, err := w.postJSON(ctx, w.url, payload, nil); err != nil {
		return w.fail(err)
	}
	return nil
}
