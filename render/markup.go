package render

import (
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Target is a serialisation family.
type Target string

const (
	TargetText     Target = "text"     // plain text: stdout, generic webhook
	TargetMarkdown Target = "markdown" // Discord
	TargetMrkdwn   Target = "mrkdwn"   // Slack
	TargetHTML     Target = "html"     // Telegram parse_mode=HTML
)

// Renderer serialises fragments. It is safe for concurrent use.
type Renderer struct {
	opts     Options
	md       *converter.Converter
	strict   *bluemonday.Policy
	telegram *bluemonday.Policy
}

// NewRenderer builds a Renderer with opts defaults applied.
func NewRenderer(opts Options) *Renderer {
	opts.defaults()

	tg := bluemonday.NewPolicy()
	tg.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre")
	tg.AllowAttrs("href").OnElements("a")
	tg.AllowStandardURLs()

	return &Renderer{
		opts: opts,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		strict:   bluemonday.StrictPolicy(),
		telegram: tg,
	}
}

// Options returns the effective options.
func (r *Renderer) Options() Options { return r.opts }

// Format is Format with the renderer's options.
func (r *Renderer) Format(cs jsondiff.ChangeSet) []Fragment { return Format(cs, r.opts) }

// Value converts one raw value for target t. Values carrying HTML markup are
// converted (markdown), reduced to the Telegram subset (html) or stripped
// (text, mrkdwn); plain values are escaped as the target requires.
func (r *Renderer) Value(t Target, s string) string {
	markup := HasMarkup(s)
	switch t {
	case TargetMarkdown:
		if markup {
			if md, err := r.md.ConvertString(s); err == nil {
				return r.truncate(strings.TrimSpace(md))
			}
			return r.truncate(r.stripped(s))
		}
		return r.truncate(s)
	case TargetMrkdwn:
		if markup {
			s = r.stripped(s)
		}
		return escapeMrkdwn(r.truncate(s))
	case TargetHTML:
		if markup {
			clean := strings.TrimSpace(r.telegram.Sanitize(s))
			if r.opts.MaxValueLen < 0 || utf8.RuneCountInString(clean) <= r.opts.MaxValueLen {
				return clean
			}
			s = r.stripped(s)
		}
		return html.EscapeString(r.truncate(s))
	default:
		if markup {
			s = r.stripped(s)
		}
		return r.truncate(s)
	}
}

func (r *Renderer) stripped(s string) string {
	text := html.UnescapeString(r.strict.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

func (r *Renderer) truncate(s string) string {
	limit := r.opts.MaxValueLen
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}

// HasMarkup reports whether s contains at least one HTML element.
func HasMarkup(s string) bool {
	if !strings.ContainsRune(s, '<') {
		return false
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return false
	}
	return hasElement(doc)
}

func hasElement(n *html.Node) bool {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Html, atom.Head, atom.Body:
		default:
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasElement(c) {
			return true
		}
	}
	return false
}

func escapeMrkdwn(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
