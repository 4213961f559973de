package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/jsonwatch/horosafe"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
)

func TestFetch_Success(t *testing.T) {
	// WHAT: a 200 JSON body becomes a snapshot stamped with the cycle ID.
	// WHY: core fetcher path; the cycle ID links snapshot and cycle log.
	body := `{"items":{"bow":{"title":"Bow","price":5}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("X-Request-ID") != "cyc_1" {
			t.Errorf("X-Request-ID = %q", r.Header.Get("X-Request-ID"))
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL})
	snap, err := f.Fetch(kit.WithRequestID(context.Background(), "cyc_1"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.ID != "cyc_1" || snap.Source != srv.URL {
		t.Errorf("snapshot = %s from %s", snap.ID, snap.Source)
	}
	if snap.Hash != jsondiff.HashBody([]byte(body)) {
		t.Errorf("hash = %s", snap.Hash)
	}
	if !jsondiff.Equal(snap.Value, jsondiff.MustParse(body)) {
		t.Errorf("value = %s", snap.Value)
	}
}

func TestFetch_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("User-Agent") != "store-bot/2" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL, UserAgent: "store-bot/2", Headers: map[string]string{"Authorization": "Bearer s3cret"}})
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestFetch_304NotModified(t *testing.T) {
	// WHAT: validators from a 200 are replayed; a 304 is ErrNotModified.
	// WHY: unchanged documents skip the diff entirely.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"a":1}`))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL})
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrNotModified) {
		t.Fatalf("second fetch: got %v, want ErrNotModified", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestFetch_ValidatorsNotKeptOnParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			t.Error("validators from an unparsable body must not be replayed")
		}
		w.Header().Set("ETag", `"broken"`)
		w.Write([]byte(`{"a":`))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL})
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrParse) {
			t.Fatalf("fetch %d: got %v, want ErrParse", i, err)
		}
	}
}

func TestFetch_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("got %v, want ErrStatus", err)
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %#v", err)
	}
	if !strings.Contains(err.Error(), "maintenance") {
		t.Fatalf("error text = %q", err.Error())
	}
}

func TestFetch_Parse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestFetch_DeeplyNested(t *testing.T) {
	// WHAT: a body of nested arrays inside the size cap fails as ErrParse.
	// WHY: the decoder must not recurse without bound on untrusted input.
	body := strings.Repeat("[", 1<<20) + strings.Repeat("]", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, ErrParse) || !errors.Is(err, jsondiff.ErrTooDeep) {
		t.Fatalf("got %v, want ErrParse wrapping ErrTooDeep", err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"` + strings.Repeat("x", 200) + `"`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, MaxBytes: 64}).Fetch(context.Background())
	if !errors.Is(err, ErrParse) || !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("got %v, want ErrParse wrapping ErrTooLarge", err)
	}
}

func TestFetch_Transport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, Timeout: 20 * time.Millisecond}).Fetch(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want ErrTransport", err)
	}
}

func TestFetch_BlockPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach a private address")
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, BlockPrivate: true}).Fetch(context.Background())
	if !errors.Is(err, ErrTransport) || !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("got %v, want ErrTransport wrapping ErrSSRF", err)
	}
}
