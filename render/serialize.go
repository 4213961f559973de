package render

import (
	"strings"

	"golang.org/x/net/html"
)

// Arrow separates the old and new side of an edited field.
const Arrow = "→"

type style struct {
	bold   func(string) string
	code   func(string) string
	bullet string
	// escape applies to text the renderer writes itself (names, paths).
	escape func(string) string
}

func styleFor(t Target) style {
	id := func(s string) string { return s }
	switch t {
	case TargetMarkdown:
		return style{
			bold:   func(s string) string { return "**" + s + "**" },
			code:   func(s string) string { return "`" + s + "`" },
			bullet: "- ",
			escape: id,
		}
	case TargetMrkdwn:
		return style{
			bold:   func(s string) string { return "*" + s + "*" },
			code:   func(s string) string { return "`" + s + "`" },
			bullet: "• ",
			escape: escapeMrkdwn,
		}
	case TargetHTML:
		return style{
			bold:   func(s string) string { return "<b>" + s + "</b>" },
			code:   func(s string) string { return "<code>" + s + "</code>" },
			bullet: "• ",
			escape: html.EscapeString,
		}
	default:
		return style{bold: id, code: id, bullet: "  ", escape: id}
	}
}

// Header renders the summary line for target t.
func (r *Renderer) Header(t Target, summary string) string {
	st := styleFor(t)
	return st.bold(st.escape(summary))
}

// Heading renders "Added: Sword (items.sword)" for target t.
func (r *Renderer) Heading(t Target, f Fragment) string {
	st := styleFor(t)
	return st.bold(f.Kind.Title()+": "+r.Value(t, f.Label)) + " (" + st.code(st.escape(f.Path)) + ")"
}

// Title renders "Added: Sword" with no markup, for embed titles.
func (r *Renderer) Title(t Target, f Fragment) string {
	return f.Kind.Title() + ": " + r.Value(t, f.Label)
}

// FieldValue renders "old → new" for changed fields, the value otherwise.
func (r *Renderer) FieldValue(t Target, f Field) string {
	if f.Changed {
		return r.Value(t, f.Old) + " " + Arrow + " " + r.Value(t, f.Value)
	}
	return r.Value(t, f.Value)
}

// FieldLine renders one bulleted field line.
func (r *Renderer) FieldLine(t Target, f Field) string {
	st := styleFor(t)
	name := st.escape(f.Name) + ":"
	if t != TargetText {
		name = st.bold(name)
	}
	return st.bullet + name + " " + r.FieldValue(t, f)
}

// Fragment renders one fragment block: heading then field lines.
func (r *Renderer) Fragment(t Target, f Fragment) string {
	var b strings.Builder
	b.WriteString(r.Heading(t, f))
	for _, fl := range f.Fields {
		b.WriteByte('\n')
		b.WriteString(r.FieldLine(t, fl))
	}
	return b.String()
}

// Render serialises a whole notification: the summary header followed by
// every fragment, separated by blank lines.
func (r *Renderer) Render(t Target, summary string, frags []Fragment) string {
	parts := make([]string, 0, len(frags)+1)
	if summary != "" {
		parts = append(parts, r.Header(t, summary))
	}
	for _, f := range frags {
		parts = append(parts, r.Fragment(t, f))
	}
	return strings.Join(parts, "\n\n")
}
