package delivery

import (
	"strings"
	"time"
	"unicode/utf8"

	"gitpulse/internal/render"
	"gitpulse/internal/transport"
	"gitpulse/pkg/tgui"
)

const ParseModeHTML = tgui.ParseModeHTML

// FormatHTML renders a payload as Telegram HTML.
func FormatHTML(p render.Payload) string {
	var head []tgui.H
	if p.Title != "" {
		head = append(head, tgui.Wrap("b", tgui.Link(p.Title, p.URL)))
	}
	if p.Author.Name != "" {
		head = append(head, tgui.Wrap("i", "by "+tgui.Link(p.Author.Name, p.Author.URL)))
	}

	fields := make([]tgui.H, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, tgui.B(f.Name+":")+" "+inline(f.Value))
	}

	var footer tgui.H
	if p.Footer != "" {
		text := p.Footer
		if !p.Timestamp.IsZero() {
			text += " " + p.Timestamp.UTC().Format(time.DateTime) + " UTC"
		}
		footer = tgui.I(text)
	}

	var desc tgui.H
	if p.Description != "" {
		desc = inline(p.Description)
	}

	return tgui.JoinH("\n\n",
		tgui.JoinH("\n", head...),
		tgui.JoinH("\n", fields...),
		desc,
		footer,
	).String()
}

// fitHTML formats p, dropping trailing description lines until the message
// fits in a single platform message. A payload that cannot shrink further is
// returned as is and left to the adapter to split.
func fitHTML(p render.Payload) string {
	text := FormatHTML(p)
	for utf8.RuneCountInString(text) > transport.MaxTextRunes {
		i := strings.LastIndexByte(p.Description, '\n')
		if i < 0 {
			break
		}
		p.Description = p.Description[:i]
		text = FormatHTML(p)
	}
	return text
}

// inline converts the light markup produced by render into HTML. Each span
// is **bold**, `code` or [text](url) on a single line with literal content;
// a backslash makes the next markup character literal. Anything that does
// not form a complete span is escaped as text, so the output is always
// well-formed.
func inline(s string) tgui.H {
	var out, lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			out.WriteString(tgui.Esc(lit.String()).String())
			lit.Reset()
		}
	}
	emit := func(h tgui.H) {
		flush()
		out.WriteString(h.String())
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && isMarkup(s[i+1]):
			lit.WriteByte(s[i+1])
			i += 2
			continue
		case c == '*' && strings.HasPrefix(s[i:], "**"):
			if end := scanTo(s, i+2, "**"); end > i+2 {
				emit(tgui.B(unescape(s[i+2 : end])))
				i = end + 2
				continue
			}
		case c == '`':
			if end := scanTo(s, i+1, "`"); end > i+1 {
				emit(tgui.Code(unescape(s[i+1 : end])))
				i = end + 1
				continue
			}
		case c == '[':
			if end := scanTo(s, i+1, "]"); end >= 0 && strings.HasPrefix(s[end+1:], "(") {
				if uend := scanTo(s, end+2, ")"); uend > end+2 {
					url := unescape(s[end+2 : uend])
					if !strings.ContainsAny(url, " \t") {
						emit(tgui.Link(unescape(s[i+1:end]), url))
						i = uend + 1
						continue
					}
				}
			}
		}
		lit.WriteByte(c)
		i++
	}
	flush()
	return tgui.Raw(out.String())
}

// scanTo returns the index of the first unescaped delim in s at or after
// from, or -1 when a newline or the end of s comes first.
func scanTo(s string, from int, delim string) int {
	for i := from; i < len(s); i++ {
		switch {
		case s[i] == '\n':
			return -1
		case s[i] == '\\' && i+1 < len(s) && isMarkup(s[i+1]):
			i++
		case strings.HasPrefix(s[i:], delim):
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isMarkup(s[i+1]) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isMarkup(c byte) bool { return strings.IndexByte(render.MarkupChars, c) >= 0 }
