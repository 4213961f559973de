package jsonwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/jsonwatch/internal/config"
	"github.com/hazyhaar/jsonwatch/internal/sink"
	"github.com/hazyhaar/jsonwatch/render"
)

// Sink is the output interface for notifications.
type Sink = sink.Sink

// Notification is one outbound message.
type Notification = sink.Notification

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook sink posting {"content": text}.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, "", sink.WithLogger(logger))
}

// NewCallbackSink creates an in-process sink, for embedding jsonwatch in
// another binary.
func NewCallbackSink(fn func(ctx context.Context, n Notification) error) Sink {
	return sink.NewCallback(fn)
}

// buildSinks turns configuration into sinks sharing one renderer.
func buildSinks(cfgs []config.SinkConfig, r *render.Renderer, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	out := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		opts := []sink.Option{
			sink.WithName(c.Name),
			sink.WithRenderer(r),
			sink.WithLogger(logger),
			sink.WithMinInterval(c.MinInterval),
		}
		switch c.Type {
		case config.SinkStdout:
			out = append(out, sink.NewStdout(stdout))
		case config.SinkWebhook:
			if c.Secret != "" {
				opts = append(opts, sink.WithSecret(c.Secret))
			}
			out = append(out, sink.NewWebhook(c.URL, c.ContentField, opts...))
		case config.SinkDiscord:
			out = append(out, sink.NewDiscord(c.URL, opts...))
		case config.SinkSlack:
			if c.URL != "" {
				out = append(out, sink.NewSlackWebhook(c.URL, opts...))
			} else {
				out = append(out, sink.NewSlack(c.Token, c.Channel, opts...))
			}
		case config.SinkTelegram:
			out = append(out, sink.NewTelegram(c.Token, c.ChatID, opts...))
		default:
			return nil, fmt.Errorf("jsonwatch: sinks[%d]: unknown type %q", i, c.Type)
		}
	}
	return out, nil
}
