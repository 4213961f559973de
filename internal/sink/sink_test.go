package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
	"github.com/hazyhaar/jsonwatch/render"
)

func bowNotification() Notification {
	old := jsondiff.MustParse(`{"title":"Bow","price":5}`)
	new := jsondiff.MustParse(`{"title":"Bow","price":7}`)
	_, cs := jsondiff.Compare(old, new, jsondiff.Options{})
	return Notification{
		ID:        "ntf_1",
		Kind:      KindChanges,
		Source:    "https://shop.test/store.json",
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Summary:   render.Summary(cs.Counts()),
		Counts:    cs.Counts(),
		Fragments: render.Format(cs, render.Options{}),
	}
}

func manyFragments(n int) Notification {
	notif := Notification{ID: "ntf_many", Kind: KindChanges, Summary: fmt.Sprintf("Changes detected: %d added, 0 edited, 0 removed", n)}
	for i := 0; i < n; i++ {
		notif.Fragments = append(notif.Fragments, render.Fragment{
			Kind:   render.KindAdded,
			Path:   fmt.Sprintf("items.item%d", i),
			Label:  fmt.Sprintf("Item %d", i),
			Fields: []render.Field{{Name: "title", Value: fmt.Sprintf("Item %d", i)}},
		})
	}
	return notif
}

// capture records the last request body and headers.
type capture struct {
	body   atomic.Value // []byte
	header atomic.Value // http.Header
	calls  atomic.Int32
}

func (c *capture) handler(status int, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.body.Store(data)
		c.header.Store(r.Header.Clone())
		c.calls.Add(1)
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}
}

func (c *capture) decode(t *testing.T, v any) {
	t.Helper()
	data, _ := c.body.Load().([]byte)
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode body %s: %v", data, err)
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), bowNotification()); err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string       `json:"type"`
		Data Notification `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", buf.String(), err)
	}
	if env.Type != "changes" || env.Data.Counts.Edited != 1 || len(env.Data.Fragments) != 1 {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("expected one JSON line")
	}
}

func TestWebhook_ContentPayload(t *testing.T) {
	// WHAT: the generic webhook posts {"content": text} with the summary first.
	// WHY: this is the payload existing Discord-style receivers expect.
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusNoContent, ""))
	defer srv.Close()

	w := NewWebhook(srv.URL, "")
	ctx := kit.WithRequestID(context.Background(), "cyc_42")
	if err := w.Send(ctx, bowNotification()); err != nil {
		t.Fatal(err)
	}

	var payload map[string]string
	c.decode(t, &payload)
	content := payload["content"]
	if !strings.HasPrefix(content, "Changes detected: 0 added, 1 edited, 0 removed") {
		t.Fatalf("content = %q", content)
	}
	if !strings.Contains(content, "price: 5 → 7") {
		t.Fatalf("content = %q", content)
	}
	if got := c.header.Load().(http.Header).Get("X-Request-ID"); got != "cyc_42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestWebhook_FieldAndSignature(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, ""))
	defer srv.Close()

	secret := strings.Repeat("k", 32)
	w := NewWebhook(srv.URL, "text", WithSecret(secret))
	if err := w.Send(context.Background(), Notification{Kind: KindLifecycle, Text: "jsonwatch online"}); err != nil {
		t.Fatal(err)
	}

	var payload map[string]string
	c.decode(t, &payload)
	if payload["text"] != "jsonwatch online" {
		t.Fatalf("payload = %v", payload)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(c.body.Load().([]byte))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got := c.header.Load().(http.Header).Get("X-Signature-256"); got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}
}

func TestWebhook_Failure(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusBadGateway, "upstream down"))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", WithName("ops")).Send(context.Background(), bowNotification())
	var sf *ErrSendFailed
	if !errors.As(err, &sf) {
		t.Fatalf("got %v, want *ErrSendFailed", err)
	}
	if sf.Sink != "ops" || sf.Kind != "webhook" || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("error = %v", err)
	}
	if c.calls.Load() != 1 {
		t.Fatalf("calls = %d, delivery must not retry", c.calls.Load())
	}
}

func TestDiscord_Embeds(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusNoContent, ""))
	defer srv.Close()

	if err := NewDiscord(srv.URL).Send(context.Background(), bowNotification()); err != nil {
		t.Fatal(err)
	}
	var p discordPayload
	c.decode(t, &p)
	if !strings.Contains(p.Content, "Changes detected") || len(p.Embeds) != 1 {
		t.Fatalf("payload = %+v", p)
	}
	e := p.Embeds[0]
	if e.Title != "Edited: Bow" || e.Color != discordColors[render.KindEdited] {
		t.Fatalf("embed = %+v", e)
	}
	var price string
	for _, f := range e.Fields {
		if f.Name == "price" {
			price = f.Value
		}
	}
	if price != "5 → 7" {
		t.Fatalf("price field = %q", price)
	}
}

func TestDiscord_Overflow(t *testing.T) {
	p := NewDiscord("http://unused").payload(manyFragments(14))
	if len(p.Embeds) != discordMaxEmbeds-1 {
		t.Fatalf("embeds = %d", len(p.Embeds))
	}
	if !strings.Contains(p.Content, "and 5 more") {
		t.Fatalf("content = %q", p.Content)
	}
}

func TestSlack_API(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, `{"ok":true}`))
	defer srv.Close()

	s := NewSlack("xoxb-test", "#shop", WithAPIBase(srv.URL))
	if err := s.Send(context.Background(), bowNotification()); err != nil {
		t.Fatal(err)
	}
	if got := c.header.Load().(http.Header).Get("Authorization"); got != "Bearer xoxb-test" {
		t.Fatalf("Authorization = %q", got)
	}
	var p slackPayload
	c.decode(t, &p)
	if p.Channel != "#shop" || len(p.Blocks) != 2 {
		t.Fatalf("payload = %+v", p)
	}
	if !strings.Contains(p.Blocks[1].Text.Text, "• *price:* 5 → 7") {
		t.Fatalf("block = %q", p.Blocks[1].Text.Text)
	}
}

func TestSlack_APIError(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, `{"ok":false,"error":"channel_not_found"}`))
	defer srv.Close()

	err := NewSlack("xoxb-test", "#nope", WithAPIBase(srv.URL)).Send(context.Background(), bowNotification())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("got %v, want channel_not_found", err)
	}
}

func TestSlack_WebhookAndBlockLimit(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, "ok"))
	defer srv.Close()

	if err := NewSlackWebhook(srv.URL).Send(context.Background(), manyFragments(80)); err != nil {
		t.Fatal(err)
	}
	var p slackPayload
	c.decode(t, &p)
	if len(p.Blocks) != slackMaxBlocks {
		t.Fatalf("blocks = %d, want %d", len(p.Blocks), slackMaxBlocks)
	}
	last := p.Blocks[len(p.Blocks)-1]
	if last.Type != "context" || !strings.Contains(last.Elements[0].Text, "and 32 more") {
		t.Fatalf("last block = %+v", last)
	}
	if p.Channel != "" {
		t.Fatal("incoming webhooks take no channel")
	}
}

func TestTelegram(t *testing.T) {
	var c capture
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		c.handler(http.StatusOK, `{"ok":true}`)(w, r)
	}))
	defer srv.Close()

	tg := NewTelegram("123:abc", "-100", WithAPIBase(srv.URL))
	if err := tg.Send(context.Background(), bowNotification()); err != nil {
		t.Fatal(err)
	}
	if path.Load().(string) != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %v", path.Load())
	}
	var p telegramPayload
	c.decode(t, &p)
	if p.ParseMode != "HTML" || p.ChatID != "-100" {
		t.Fatalf("payload = %+v", p)
	}
	if !strings.Contains(p.Text, "<b>Edited: Bow</b>") || !strings.Contains(p.Text, "5 → 7") {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestTelegram_LengthLimit(t *testing.T) {
	tg := NewTelegram("t", "c")
	n := manyFragments(500)
	msg := tg.message(n)
	if got := len([]rune(msg)); got > telegramMaxText {
		t.Fatalf("message length = %d", got)
	}
	if !strings.Contains(msg, "more") || strings.Count(msg, "<b>") != strings.Count(msg, "</b>") {
		t.Fatalf("message must end on a whole fragment")
	}
}

func TestTelegram_LongLifecycleKeepsEntities(t *testing.T) {
	// WHAT: an over-long announcement is cut before escaping.
	// WHY: Telegram rejects a message whose cut splits an &amp; entity.
	tg := NewTelegram("t", "c", WithRenderer(render.NewRenderer(render.Options{MaxValueLen: -1})))
	msg := tg.message(Notification{Kind: KindLifecycle, Text: strings.Repeat("a&", 3000)})
	if got := len([]rune(msg)); got > telegramMaxText {
		t.Fatalf("message length = %d", got)
	}
	body, ok := strings.CutSuffix(msg, "…")
	if !ok {
		t.Fatalf("message not marked as clipped: %q", msg[len(msg)-20:])
	}
	if strings.Contains(strings.ReplaceAll(body, "&amp;", ""), "&") {
		t.Fatal("message contains a split entity")
	}
}

func TestClipEscaped(t *testing.T) {
	s := strings.Repeat("&lt;", 1000)
	got := clipEscaped(s, slackMaxSection)
	if n := len([]rune(got)); n > slackMaxSection {
		t.Fatalf("length = %d", n)
	}
	body := strings.TrimSuffix(got, "…")
	if strings.Count(body, "&lt;")*4 != len(body) {
		t.Fatalf("entity split at the end: %q", body[len(body)-8:])
	}
	if clipEscaped("a &amp; b", 100) != "a &amp; b" {
		t.Fatal("short text must pass through")
	}
}

func TestTelegram_APIError(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, `{"ok":false,"description":"chat not found"}`))
	defer srv.Close()

	err := NewTelegram("t", "c", WithAPIBase(srv.URL)).Send(context.Background(), bowNotification())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("got %v", err)
	}
}

func TestRouter_FanOut(t *testing.T) {
	// WHAT: a failing sink does not stop delivery to the others.
	var got atomic.Int32
	ok := NewCallback(func(_ context.Context, _ Notification) error {
		got.Add(1)
		return nil
	})
	failing := NewCallback(func(_ context.Context, _ Notification) error {
		return errors.New("boom")
	})

	r := NewRouter(nil, failing, ok, ok)
	err := r.Send(context.Background(), bowNotification())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want first error", err)
	}
	if got.Load() != 2 {
		t.Fatalf("delivered = %d, want 2", got.Load())
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMinInterval(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK, ""))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", WithMinInterval(80*time.Millisecond))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := w.Send(context.Background(), bowNotification()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("3 sends took %v, want >= 160ms spacing", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Send(ctx, bowNotification()); err == nil {
		t.Fatal("cancelled context must abort the wait")
	}
}
