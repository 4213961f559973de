// Command jsonwatch polls a JSON document and notifies sinks of what was
// added, edited and removed.
//
// Usage:
//
//	jsonwatch -config jsonwatch.yaml                 # full YAML configuration
//	jsonwatch -url https://example.com/items.json    # quick watch, stdout sink
//	jsonwatch -url ... -webhook https://discord...   # post {"content": text}
//	jsonwatch -config jsonwatch.yaml -once           # fetch once, print the snapshot, exit
//	jsonwatch -config jsonwatch.yaml -mcp            # poll and serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/jsonwatch/jsonwatch"
	"github.com/hazyhaar/jsonwatch/watch"
)

type flags struct {
	config       string
	url          string
	webhook      string
	interval     time.Duration
	initialDelay time.Duration
	listen       string
	once         bool
	mcp          bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to jsonwatch.yaml config file")
	flag.StringVar(&f.url, "url", "", "URL of the JSON document (overrides source.url)")
	flag.StringVar(&f.webhook, "webhook", "", "add a generic webhook sink")
	flag.DurationVar(&f.interval, "interval", 0, "poll interval (overrides poll.interval)")
	flag.DurationVar(&f.initialDelay, "initial-delay", 0, "delay before the first poll")
	flag.StringVar(&f.listen, "listen", "", "status HTTP address, e.g. :8080 (overrides http.listen)")
	flag.BoolVar(&f.once, "once", false, "fetch once, print the snapshot and exit")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools on stdio while polling")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f, os.Stdout); err != nil {
		logger.Error("jsonwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*jsonwatch.Config, error) {
	var cfg *jsonwatch.Config
	if f.config != "" {
		c, err := jsonwatch.LoadConfigFile(f.config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = &jsonwatch.Config{}
	}

	if f.url != "" {
		cfg.Source.URL = f.url
	}
	if f.interval != 0 {
		cfg.Poll.Interval = f.interval
	}
	if f.initialDelay != 0 {
		cfg.Poll.InitialDelay = f.initialDelay
	}
	if f.listen != "" {
		cfg.HTTP.Listen = f.listen
	}
	if f.webhook != "" {
		cfg.Sinks = append(cfg.Sinks, jsonwatch.SinkConfig{Type: jsonwatch.SinkWebhook, URL: f.webhook})
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, f flags, stdout io.Writer) error {
	if f.config == "" && f.url == "" {
		return errors.New("usage: jsonwatch -config <file> | -url <url> [-webhook <url>] [-interval 60s] [-once] [-mcp]")
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	opts := []jsonwatch.Option{jsonwatch.WithLogger(logger), jsonwatch.WithStdout(stdout)}
	if f.mcp {
		// stdout carries the MCP protocol.
		opts = append(opts, jsonwatch.WithStdout(os.Stderr))
	}
	svc, err := jsonwatch.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if f.once {
		return runOnce(ctx, svc, stdout)
	}
	if f.mcp {
		return runMCP(ctx, logger, svc)
	}
	return svc.Run(ctx)
}

func runOnce(ctx context.Context, svc *jsonwatch.Service, stdout io.Writer) error {
	r := svc.PollNow(ctx)
	if r.Err != nil {
		return fmt.Errorf("fetch: %w", r.Err)
	}
	if r.Outcome != watch.OutcomeSeeded {
		return fmt.Errorf("fetch: unexpected outcome %s", r.Outcome)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(svc.Watcher().State().Last())
}

func runMCP(ctx context.Context, logger *slog.Logger, svc *jsonwatch.Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	logger.Info("jsonwatch: serving MCP on stdio")
	if err := svc.NewMCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Warn("jsonwatch: MCP session ended", "error", err)
	}
	cancel()
	return <-runErr
}
