// Package fetcher retrieves the watched JSON document over HTTP(S) and turns
// it into a jsondiff.Snapshot.
//
// Every failure is a *Error tagged with ErrTransport, ErrStatus or ErrParse;
// a 304 answer to a conditional GET returns ErrNotModified.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/jsonwatch/horosafe"
	"github.com/hazyhaar/jsonwatch/idgen"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
)

var (
	ErrTransport   = errors.New("fetcher: transport error")
	ErrStatus      = errors.New("fetcher: unexpected status")
	ErrParse       = errors.New("fetcher: invalid JSON document")
	ErrNotModified = errors.New("fetcher: not modified")
)

// Error describes a failed fetch.
type Error struct {
	Kind       error // ErrTransport, ErrStatus or ErrParse
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + " for " + e.URL
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Config configures the fetcher.
type Config struct {
	URL     string
	Headers map[string]string
	// Timeout bounds the whole request. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps the response body; a larger body is a parse failure. Default: 10 MiB.
	MaxBytes  int64
	UserAgent string
	// BlockPrivate rejects URLs (and redirects) that resolve to private or
	// loopback addresses.
	BlockPrivate bool
	// URLValidator overrides the URL check. Default: horosafe.ValidateURL
	// when BlockPrivate, horosafe.ValidateScheme otherwise.
	URLValidator func(string) error
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "jsonwatch/1.0"
	}
	if c.URLValidator == nil {
		if c.BlockPrivate {
			c.URLValidator = horosafe.ValidateURL
		} else {
			c.URLValidator = horosafe.ValidateScheme
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs conditional GETs of one URL. Validators (ETag,
// Last-Modified) are remembered from the last 200 whose body parsed.
type Fetcher struct {
	client *http.Client
	config Config
	now    func() time.Time

	mu      sync.Mutex
	etag    string
	lastMod string
}

// New creates a Fetcher. Redirects are re-validated.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
		now:    time.Now,
	}
}

// URL returns the watched URL.
func (f *Fetcher) URL() string { return f.config.URL }

// Fetch retrieves and parses the document. The snapshot ID is the request
// ID carried by ctx (the poll cycle), or a fresh one.
func (f *Fetcher) Fetch(ctx context.Context) (*jsondiff.Snapshot, error) {
	url := f.config.URL
	if err := f.config.URLValidator(url); err != nil {
		return nil, &Error{Kind: ErrTransport, URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	for k, v := range f.config.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if id := kit.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	f.mu.Lock()
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	if f.lastMod != "" {
		req.Header.Set("If-Modified-Since", f.lastMod)
	}
	f.mu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := &Error{Kind: ErrStatus, URL: url, StatusCode: resp.StatusCode}
		if snippet := horosafe.Snippet(resp.Body); snippet != "" {
			e.Err = errors.New(snippet)
		}
		return nil, e
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		kind := ErrTransport
		if errors.Is(err, horosafe.ErrTooLarge) {
			kind = ErrParse
		}
		return nil, &Error{Kind: kind, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	id := kit.GetRequestID(ctx)
	if id == "" {
		id = idgen.New()
	}
	snap, err := jsondiff.NewSnapshot(id, url, body, f.now().UTC())
	if err != nil {
		return nil, &Error{Kind: ErrParse, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	f.mu.Lock()
	f.etag = resp.Header.Get("ETag")
	f.lastMod = resp.Header.Get("Last-Modified")
	f.mu.Unlock()

	f.config.Logger.Debug("fetcher: fetched",
		"url", url, "status", resp.StatusCode, "bytes", len(body), "hash", snap.Hash[:12])
	return snap, nil
}
