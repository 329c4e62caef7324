package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"gitpulse/internal/domain"
)

const (
	BodyLimit   = 300
	DigestLimit = 4000
	Ellipsis    = "..."

	NoDescription = "No description provided."
)

// Card renders the detailed per-item notification.
func Card(it domain.Item, repo string) Payload {
	p := Payload{
		URL:         it.URL,
		Author:      author(it.Author),
		Description: Escape(Body(it.Body)),
		Timestamp:   it.CreatedAt,
	}
	switch it.Kind {
	case domain.KindPullRequest:
		p.Title = "🔹 " + it.Title
		p.Color = ColorPullRequest
		p.Fields = []Field{
			{Name: "Repository", Value: Escape(repo)},
			{Name: "Status", Value: Status(it)},
		}
		p.Footer = fmt.Sprintf("PR #%d | Created at", it.Number)
	default:
		p.Title = "📝 Issue: " + it.Title
		p.Color = ColorIssue
		p.Fields = []Field{
			{Name: "Repository", Value: Escape(repo)},
			{Name: "Labels", Value: Labels(it.Labels)},
		}
		p.Footer = fmt.Sprintf("Issue #%d | Created at", it.Number)
	}
	return p
}

// Highlight renders the abbreviated good-first-issue notice for the general
// channel. ok is false when it is not a good first issue.
func Highlight(it domain.Item, repo string) (p Payload, ok bool) {
	if it.Kind != domain.KindIssue || !it.IsGoodFirstIssue() {
		return Payload{}, false
	}
	return Payload{
		Title: "🟢 Good First Issue: " + it.Title,
		URL:   it.URL,
		Color: ColorGoodFirstIssue,
		Fields: []Field{
			{Name: "Repository", Value: Escape(repo)},
			{Name: "Author", Value: Escape(it.Author.Login)},
		},
	}, true
}

// DigestKind selects the title and color of a digest.
type DigestKind int

const (
	DigestPullRequests DigestKind = iota
	DigestIssues
	DigestGoodFirstIssues
)

// Digest renders many items as one payload, one line per item. Lines that do
// not fit in DigestLimit characters are dropped without any marker. Items is
// expected non-empty.
func Digest(kind DigestKind, repo string, items []domain.Item) Payload {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, DigestLine(it))
	}
	p := Payload{Description: joinLines(lines, DigestLimit)}
	switch kind {
	case DigestPullRequests:
		p.Title = "🔹 New Pull Requests for " + repo
		p.Color = ColorPullRequest
	case DigestIssues:
		p.Title = "📝 New Issues for " + repo
		p.Color = ColorIssue
	case DigestGoodFirstIssues:
		p.Title = "🟢 Good First Issues in " + repo
		p.Color = ColorGoodFirstIssue
	}
	return p
}

// DigestLine is one "• [title](url) by [login](profile)" entry.
func DigestLine(it domain.Item) string {
	line := "• " + link(it.Title, it.URL)
	if it.Author.Login != "" {
		line += " by " + link(it.Author.Login, it.Author.ProfileURL)
	}
	return line
}

func link(text, url string) string {
	if url == "" {
		return Escape(text)
	}
	return "[" + Escape(text) + "](" + Escape(url) + ")"
}

// joinLines joins whole lines while the result stays within limit runes.
// A first line longer than limit is cut at the limit.
func joinLines(lines []string, limit int) string {
	var b strings.Builder
	n := 0
	for i, l := range lines {
		ln := utf8.RuneCountInString(l)
		if i > 0 {
			ln++
		}
		if n+ln > limit {
			if i == 0 {
				return truncate(l, limit)
			}
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
		n += ln
	}
	return b.String()
}

// LevelUp renders the level transition announcement.
func LevelUp(user string, level int) Payload {
	return Payload{
		Description: fmt.Sprintf("🎉 %s has reached **Level %d**!", Escape(user), level),
		Color:       ColorLevelUp,
	}
}

// Body truncates to BodyLimit runes plus Ellipsis; empty bodies get a placeholder.
func Body(body string) string {
	if strings.TrimSpace(body) == "" {
		return NoDescription
	}
	if utf8.RuneCountInString(body) <= BodyLimit {
		return body
	}
	return truncate(body, BodyLimit) + Ellipsis
}

func Status(it domain.Item) string {
	switch {
	case it.Draft:
		return "🚧 Draft"
	case it.State == domain.StateOpen:
		return "🟢 Open"
	case it.Merged:
		return "✅ Merged"
	default:
		return "✅ Closed"
	}
}

// Labels renders `a`, `b` or None.
func Labels(labels []string) string {
	if len(labels) == 0 {
		return "None"
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, "`"+Escape(l)+"`")
	}
	return strings.Join(out, ", ")
}

// MarkupChars are the characters Escape protects.
const MarkupChars = "\\*`[]()"

// Escape backslash-escapes markup characters so s renders literally inside a
// Description or Field value.
func Escape(s string) string {
	if !strings.ContainsAny(s, MarkupChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(MarkupChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func author(a domain.Author) PayloadAuthor {
	return PayloadAuthor{Name: a.Login, IconURL: a.AvatarURL, URL: a.ProfileURL}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
