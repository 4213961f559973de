package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsonwatch.yaml")
	yaml := "source:\n  url: https://a.example.com/feed.json\npoll:\n  interval: 5m\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(flags{
		config:   path,
		url:      "https://b.example.com/feed.json",
		interval: 30 * time.Second,
		webhook:  "https://hooks.example.com/x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Source.URL != "https://b.example.com/feed.json" || cfg.Poll.Interval != 30*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	last := cfg.Sinks[len(cfg.Sinks)-1]
	if last.Type != "webhook" || last.URL != "https://hooks.example.com/x" {
		t.Fatalf("sinks = %+v", cfg.Sinks)
	}
}

func TestLoadConfig_URLOnly(t *testing.T) {
	cfg, err := loadConfig(flags{url: "https://example.com/items.json", webhook: "https://hooks.example.com/x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "webhook" {
		t.Fatalf("sinks = %+v", cfg.Sinks)
	}
	if cfg.Poll.Interval != 60*time.Second {
		t.Fatalf("interval = %s", cfg.Poll.Interval)
	}
}

func TestRun_Usage(t *testing.T) {
	err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), flags{}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("got %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		flags{url: "ftp://example.com/x"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "source.url") {
		t.Fatalf("got %v", err)
	}
}

func TestRun_Once(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":{"sword":{"title":"Sword"}}}`)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		flags{url: srv.URL, once: true}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"title": "Sword"`) || !strings.Contains(out.String(), `"hash"`) {
		t.Fatalf("output = %s", out.String())
	}
}

func TestRun_OnceFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		flags{url: srv.URL, once: true}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Fatalf("got %v", err)
	}
}
