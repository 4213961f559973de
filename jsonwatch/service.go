// Package jsonwatch watches a remote JSON document and notifies sinks of
// what was added, edited and removed between polls.
//
// A Service wires the fetcher, the poll loop, the sinks and the optional
// status HTTP server, cycle log and MCP tools from one Config.
package jsonwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/jsonwatch/idgen"
	"github.com/hazyhaar/jsonwatch/internal/fetcher"
	"github.com/hazyhaar/jsonwatch/internal/observability"
	"github.com/hazyhaar/jsonwatch/internal/sink"
	"github.com/hazyhaar/jsonwatch/render"
	"github.com/hazyhaar/jsonwatch/watch"
)

const heartbeatWorker = "jsonwatch"

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSinks adds sinks next to the configured ones.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.extra = append(s.extra, sinks...) }
}

// WithStdout redirects the stdout sink. Default: os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(s *Service) { s.stdout = w }
}

// WithSource replaces the HTTP fetcher, e.g. for tests or non-HTTP feeds.
func WithSource(src watch.Source) Option {
	return func(s *Service) { s.source = src }
}

// Service runs one watcher.
type Service struct {
	cfg      *Config
	logger   *slog.Logger
	stdout   io.Writer
	extra    []Sink
	source   watch.Source
	renderer *render.Renderer
	router   *sink.Router
	watcher  *watch.Watcher

	db     *sql.DB
	cycles *observability.CycleLog
}

// New validates cfg and builds a Service. Close releases what New opened.
func New(cfg *Config, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, stdout: os.Stdout}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.renderer = render.NewRenderer(cfg.Render)
	sinks, err := buildSinks(cfg.Sinks, s.renderer, s.stdout, s.logger)
	if err != nil {
		return nil, err
	}
	s.router = sink.NewRouter(s.logger, append(sinks, s.extra...)...)

	if s.source == nil {
		s.source = fetcher.New(fetcher.Config{
			URL:          cfg.Source.URL,
			Headers:      cfg.Source.Headers,
			Timeout:      cfg.Source.Timeout,
			MaxBytes:     cfg.Source.MaxBytes,
			UserAgent:    cfg.Source.UserAgent,
			BlockPrivate: cfg.Source.BlockPrivate,
			Logger:       s.logger,
		})
	}

	var onCycle func(watch.Result)
	if cfg.Observability.DB != "" {
		db, err := observability.Open(cfg.Observability.DB)
		if err != nil {
			return nil, fmt.Errorf("jsonwatch: %w", err)
		}
		s.db = db
		s.cycles = observability.NewCycleLog(db, cfg.Source.URL, observability.WithLogger(s.logger))
		onCycle = s.cycles.Hook(5 * time.Second)
	}

	s.watcher = watch.New(s.source, watch.NewState(), watch.Options{
		Interval:        cfg.Poll.Interval,
		InitialDelay:    cfg.Poll.InitialDelay,
		DeliveryTimeout: cfg.Poll.DeliveryTimeout,
		Diff:            cfg.Diff,
		Renderer:        s.renderer,
		Sink:            s.router,
		OnCycle:         onCycle,
		Logger:          s.logger,
	})
	return s, nil
}

// Watcher returns the poll loop.
func (s *Service) Watcher() *watch.Watcher { return s.watcher }

// Renderer returns the shared renderer.
func (s *Service) Renderer() *render.Renderer { return s.renderer }

// Cycles returns the cycle log, or nil when observability is disabled.
func (s *Service) Cycles() *observability.CycleLog { return s.cycles }

// PollNow runs one cycle outside the schedule. It is skipped if a cycle is
// already in flight.
func (s *Service) PollNow(ctx context.Context) watch.Result {
	return s.watcher.Cycle(ctx)
}

// Run announces the service, polls until ctx is cancelled, then announces
// the shutdown within Poll.ShutdownTimeout. The status server runs alongside
// when HTTP.Listen is set.
func (s *Service) Run(ctx context.Context) error {
	log := s.logger
	log.Info("jsonwatch: starting", "source", s.cfg.Source.URL, "interval", s.cfg.Poll.Interval, "sinks", s.router.Len())

	var srv *http.Server
	srvErr := make(chan error, 1)
	if s.cfg.HTTP.Listen != "" {
		srv = &http.Server{
			Addr:              s.cfg.HTTP.Listen,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("jsonwatch: status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- fmt.Errorf("jsonwatch: status server: %w", err)
			}
		}()
	}

	var hb *observability.HeartbeatWriter
	if s.db != nil {
		hb = observability.NewHeartbeatWriter(s.db, observability.HeartbeatConfig{
			Worker:    heartbeatWorker,
			Source:    s.cfg.Source.URL,
			Interval:  s.cfg.Observability.HeartbeatInterval,
			Retention: s.cfg.Observability.Retention,
			Cycles:    s.cycles,
			Stats:     s.watcher.Stats,
			Logger:    log,
		})
		hb.Start(ctx)
	}

	if s.cfg.Lifecycle.Announce {
		s.announce(ctx, s.onlineMessage())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		s.watcher.Run(runCtx)
		close(loopDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		log.Error("jsonwatch: status server failed", "error", runErr)
	}
	cancel()
	<-loopDone

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Poll.ShutdownTimeout)
	defer stop()
	if s.cfg.Lifecycle.Announce {
		s.announce(shutdownCtx, s.offlineMessage())
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("jsonwatch: status server shutdown", "error", err)
		}
	}
	if hb != nil {
		hb.Stop()
	}
	log.Info("jsonwatch: stopped", "stats", s.watcher.Stats())
	return runErr
}

// Close releases sinks and the observability database.
func (s *Service) Close() error {
	err := s.router.Close()
	if s.db != nil {
		if dbErr := s.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// announce sends a lifecycle notification. A hung sink is bounded by ctx or
// DeliveryTimeout, whichever ends first.
func (s *Service) announce(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Poll.DeliveryTimeout)
	defer cancel()
	n := sink.Notification{
		ID:     idgen.Notification(),
		Kind:   sink.KindLifecycle,
		Source: s.cfg.Source.URL,
		At:     time.Now().UTC(),
		Text:   text,
	}
	if err := s.router.Send(ctx, n); err != nil {
		s.logger.Warn("jsonwatch: announcement failed", "text", text, "error", err)
	}
}

func (s *Service) onlineMessage() string {
	if m := s.cfg.Lifecycle.OnlineMessage; m != "" {
		return m
	}
	return "jsonwatch is online and watching " + s.cfg.Source.URL
}

func (s *Service) offlineMessage() string {
	if m := s.cfg.Lifecycle.OfflineMessage; m != "" {
		return m
	}
	return "jsonwatch is going offline"
}
