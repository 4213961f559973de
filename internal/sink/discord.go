package sink

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/jsonwatch/render"
)

// Discord webhook limits.
const (
	discordMaxEmbeds     = 10
	discordMaxFields     = 25
	discordMaxFieldValue = 1024
	discordMaxTitle      = 256
	discordMaxContent    = 2000
)

var discordColors = map[render.Kind]int{
	render.KindAdded:   0x2ECC71,
	render.KindEdited:  0xF1C40F,
	render.KindRemoved: 0xE74C3C,
}

// Discord posts one embed per fragment to a Discord webhook URL.
type Discord struct {
	base
	url string
}

// NewDiscord creates a Discord sink for a webhook URL.
func NewDiscord(url string, opts ...Option) *Discord {
	return &Discord{base: newBase("discord", "", opts), url: url}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func (d *Discord) Send(ctx context.Context, n Notification) error {
	if _, err := d.postJSON(ctx, d.url, d.payload(n), nil); err != nil {
		return d.fail(err)
	}
	return nil
}

func (d *Discord) payload(n Notification) discordPayload {
	r := d.renderer
	if n.Kind == KindLifecycle {
		return discordPayload{Content: clip(r.Value(render.TargetMarkdown, n.Text), discordMaxContent)}
	}

	p := discordPayload{Content: r.Header(render.TargetMarkdown, n.Summary)}
	frags := n.Fragments
	if len(frags) > discordMaxEmbeds {
		p.Content += fmt.Sprintf("\n…and %d more", len(frags)-discordMaxEmbeds+1)
		frags = frags[:discordMaxEmbeds-1]
	}
	for _, f := range frags {
		e := discordEmbed{
			Title:       clip(r.Title(render.TargetMarkdown, f), discordMaxTitle),
			Description: "`" + f.Path + "`",
			Color:       discordColors[f.Kind],
		}
		for i, fl := range f.Fields {
			if i == discordMaxFields {
				break
			}
			v := r.FieldValue(render.TargetMarkdown, fl)
			if v == "" {
				v = `""` // Discord rejects empty field values
			}
			e.Fields = append(e.Fields, discordField{
				Name:   clip(fl.Name, discordMaxTitle),
				Value:  clip(v, discordMaxFieldValue),
				Inline: true,
			})
		}
		p.Embeds = append(p.Embeds, e)
	}
	return p
}

// clip truncates s to max runes.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}

// clipEscaped truncates escaped text to max runes, backing off to before a
// character entity the cut would split.
func clipEscaped(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := string([]rune(s)[:max-1])
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && !strings.ContainsRune(cut[i:], ';') {
		cut = cut[:i]
	}
	return cut + "…"
}

// clipRaw truncates raw before escaping it, so the escaped result fits in
// limit runes and no entity is split.
func clipRaw(raw string, limit int, escape func(string) string) string {
	out := escape(raw)
	runes := []rune(raw)
	n := len(runes)
	for over := utf8.RuneCountInString(out) - limit; over > 0; over = utf8.RuneCountInString(out) - limit {
		n = max(n-over-1, 0)
		out = escape(string(runes[:n])) + "…"
	}
	return out
}
