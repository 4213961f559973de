// Package sink delivers jsonwatch notifications: stdout JSON lines, generic
// webhooks, Discord, Slack, Telegram and in-process callbacks, with a fan-out
// Router in front.
//
// Sinks receive render data (fragments) and serialise it themselves through
// a shared render.Renderer, so one notification reaches every platform in
// its native markup.
package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/jsonwatch/horosafe"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
	"github.com/hazyhaar/jsonwatch/render"
)

// Kind distinguishes change notifications from lifecycle announcements.
type Kind string

const (
	KindChanges   Kind = "changes"
	KindLifecycle Kind = "lifecycle"
)

// Notification is one outbound message. Change notifications carry the
// summary, counts and fragments; lifecycle ones carry Text only.
type Notification struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Source    string            `json:"source"`
	At        time.Time         `json:"at"`
	Summary   string            `json:"summary,omitempty"`
	Counts    jsondiff.Counts   `json:"counts"`
	Fragments []render.Fragment `json:"fragments,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// Sink is the output interface.
type Sink interface {
	Send(ctx context.Context, n Notification) error
	Close() error
}

// ErrSendFailed is returned when a notification could not be delivered.
type ErrSendFailed struct {
	Sink  string // configured name
	Kind  string // webhook, discord, slack, telegram, ...
	Cause error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("sink: send failed on %s (%s): %v", e.Sink, e.Kind, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// Option configures an HTTP sink.
type Option func(*base)

// WithName sets the name used in logs and errors. Default: the sink kind.
func WithName(name string) Option {
	return func(b *base) { b.name = name }
}

// WithClient replaces the HTTP client (default: 10s timeout).
func WithClient(c *http.Client) Option {
	return func(b *base) { b.client = c }
}

// WithMinInterval spaces consecutive sends at least d apart.
func WithMinInterval(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRenderer sets the renderer used to serialise fragments.
func WithRenderer(r *render.Renderer) Option {
	return func(b *base) {
		if r != nil {
			b.renderer = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSecret signs request bodies with HMAC-SHA256 in X-Signature-256.
func WithSecret(secret string) Option {
	return func(b *base) { b.secret = []byte(secret) }
}

// WithAPIBase overrides the platform API root (Slack, Telegram).
func WithAPIBase(url string) Option {
	return func(b *base) { b.apiBase = url }
}

// base holds what every HTTP sink shares.
type base struct {
	name     string
	kind     string
	client   *http.Client
	limiter  *rate.Limiter
	renderer *render.Renderer
	logger   *slog.Logger
	secret   []byte
	apiBase  string
}

func newBase(kind, apiBase string, opts []Option) base {
	b := base{
		kind:    kind,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		apiBase: apiBase,
	}
	for _, o := range opts {
		o(&b)
	}
	if b.name == "" {
		b.name = kind
	}
	if b.renderer == nil {
		b.renderer = render.NewRenderer(render.Options{})
	}
	return b
}

func (b *base) fail(err error) error {
	return &ErrSendFailed{Sink: b.name, Kind: b.kind, Cause: err}
}

// text renders the whole notification for target t.
func (b *base) text(t render.Target, n Notification) string {
	if n.Kind == KindLifecycle {
		return b.renderer.Value(t, n.Text)
	}
	return b.renderer.Render(t, n.Summary, n.Fragments)
}

// postJSON waits for the rate limiter, POSTs payload and returns the
// response body of a 2xx answer.
func (b *base) postJSON(ctx context.Context, url string, payload any, header http.Header) ([]byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if id := kit.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if len(b.secret) > 0 {
		mac := hmac.New(sha256.New, b.secret)
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if snippet := horosafe.Snippet(resp.Body); snippet != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	b.logger.Debug("sink: delivered", "sink", b.name, "kind", b.kind, "status", resp.StatusCode)
	return data, nil
}

func (b *base) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
