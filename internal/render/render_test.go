package render

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gitpulse/internal/domain"
)

func TestBody(t *testing.T) {
	long := strings.Repeat("a", 400)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "long body truncated", in: long, want: strings.Repeat("a", 300) + "..."},
		{name: "short body unchanged", in: strings.Repeat("b", 50), want: strings.Repeat("b", 50)},
		{name: "exactly at limit", in: strings.Repeat("c", 300), want: strings.Repeat("c", 300)},
		{name: "empty", in: "", want: NoDescription},
		{name: "whitespace", in: "  \n", want: NoDescription},
		{name: "multibyte counts runes", in: strings.Repeat("é", 301), want: strings.Repeat("é", 300) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Body(tt.in); got != tt.want {
				t.Fatalf("Body() len=%d, want len=%d", len(got), len(tt.want))
			}
		})
	}
	if n := utf8.RuneCountInString(Body(long)); n != 303 {
		t.Fatalf("400-char body renders to %d runes, want 303", n)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		it   domain.Item
		want string
	}{
		{domain.Item{Draft: true, State: "open"}, "🚧 Draft"},
		{domain.Item{State: "open"}, "🟢 Open"},
		{domain.Item{State: "closed", Merged: true}, "✅ Merged"},
		{domain.Item{State: "closed"}, "✅ Closed"},
	}
	for _, tt := range tests {
		if got := Status(tt.it); got != tt.want {
			t.Fatalf("Status(%+v) = %q, want %q", tt.it, got, tt.want)
		}
	}
}

func TestCardPullRequest(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := Card(domain.Item{
		Kind:      domain.KindPullRequest,
		URL:       "https://github.com/o/r/pull/9",
		Number:    9,
		Title:     "Speed up",
		State:     "open",
		CreatedAt: created,
		Author:    domain.Author{Login: "alice", AvatarURL: "av", ProfileURL: "prof"},
	}, "o/r")

	if p.Title != "🔹 Speed up" || p.URL != "https://github.com/o/r/pull/9" {
		t.Fatalf("title/url = %q %q", p.Title, p.URL)
	}
	if p.Color != ColorPullRequest || p.Footer != "PR #9 | Created at" || !p.Timestamp.Equal(created) {
		t.Fatalf("unexpected card %+v", p)
	}
	if p.Author.Name != "alice" || p.Author.IconURL != "av" || p.Author.URL != "prof" {
		t.Fatalf("author = %+v", p.Author)
	}
	if len(p.Fields) != 2 || p.Fields[0].Value != "o/r" || p.Fields[1].Value != "🟢 Open" {
		t.Fatalf("fields = %+v", p.Fields)
	}
	if p.Description != NoDescription {
		t.Fatalf("description = %q", p.Description)
	}
}

func TestCardIssueLabels(t *testing.T) {
	p := Card(domain.Item{Kind: domain.KindIssue, Number: 3, Title: "Crash", Labels: []string{"bug", "ui"}}, "o/r")
	if p.Title != "📝 Issue: Crash" || p.Color != ColorIssue || p.Footer != "Issue #3 | Created at" {
		t.Fatalf("unexpected card %+v", p)
	}
	if got := p.Fields[1].Value; got != "`bug`, `ui`" {
		t.Fatalf("labels = %q", got)
	}
	if got := Card(domain.Item{Kind: domain.KindIssue}, "o/r").Fields[1].Value; got != "None" {
		t.Fatalf("empty labels = %q", got)
	}
}

func TestHighlight(t *testing.T) {
	gfi := domain.Item{Kind: domain.KindIssue, Title: "Typo", URL: "u", Labels: []string{"Good First Issue"}, Author: domain.Author{Login: "bob"}}
	p, ok := Highlight(gfi, "o/r")
	if !ok {
		t.Fatal("expected highlight")
	}
	if p.Title != "🟢 Good First Issue: Typo" || p.Color != ColorGoodFirstIssue || p.Fields[1].Value != "bob" {
		t.Fatalf("unexpected highlight %+v", p)
	}
	if _, ok := Highlight(domain.Item{Kind: domain.KindIssue, Labels: []string{"bug"}}, "o/r"); ok {
		t.Fatal("plain issue must not be highlighted")
	}
	if _, ok := Highlight(domain.Item{Kind: domain.KindPullRequest, Labels: []string{"good first issue"}}, "o/r"); ok {
		t.Fatal("pull requests are not highlighted")
	}
}

func TestDigest(t *testing.T) {
	items := []domain.Item{
		{Title: "A", URL: "ua", Author: domain.Author{Login: "x", ProfileURL: "px"}},
		{Title: "B", URL: "ub", Author: domain.Author{Login: "y", ProfileURL: "py"}},
	}
	p := Digest(DigestIssues, "o/r", items)
	want := "• [A](ua) by [x](px)\n• [B](ub) by [y](py)"
	if p.Description != want {
		t.Fatalf("description = %q", p.Description)
	}
	if p.Title != "📝 New Issues for o/r" || p.Color != ColorIssue {
		t.Fatalf("unexpected digest %+v", p)
	}

	var many []domain.Item
	for i := 0; i < 200; i++ {
		many = append(many, domain.Item{Title: strings.Repeat("t", 40), URL: "https://github.com/o/r/pull/1"})
	}
	big := Digest(DigestPullRequests, "o/r", many)
	if n := utf8.RuneCountInString(big.Description); n > DigestLimit || n < DigestLimit-utf8.RuneCountInString(DigestLine(many[0])) {
		t.Fatalf("digest length = %d, want close to %d", n, DigestLimit)
	}
	for _, line := range strings.Split(big.Description, "\n") {
		if line != DigestLine(many[0]) {
			t.Fatalf("digest holds a partial line %q", line)
		}
	}
	if strings.Contains(big.Description, "more") {
		t.Fatal("digest must not carry an overflow marker")
	}
	if got := Digest(DigestGoodFirstIssues, "o/r", items).Title; got != "🟢 Good First Issues in o/r" {
		t.Fatalf("gfi title = %q", got)
	}
}

func TestDigestLongFirstLineIsCut(t *testing.T) {
	p := Digest(DigestIssues, "o/r", []domain.Item{{Title: strings.Repeat("x", DigestLimit+10), URL: "u"}})
	if n := utf8.RuneCountInString(p.Description); n != DigestLimit {
		t.Fatalf("digest length = %d, want %d", n, DigestLimit)
	}
}

func TestDigestEscapesItemText(t *testing.T) {
	items := []domain.Item{{
		Title:  "fix [docs] (again)",
		URL:    "https://x/1",
		Author: domain.Author{Login: "b*b", ProfileURL: "https://x/b"},
	}}
	want := `• [fix \[docs\] \(again\)](https://x/1) by [b\*b](https://x/b)`
	if got := Digest(DigestIssues, "o/r", items).Description; got != want {
		t.Fatalf("description = %q, want %q", got, want)
	}
	if got := DigestLine(domain.Item{Title: "solo", URL: "u"}); got != "• [solo](u)" {
		t.Fatalf("line without author = %q", got)
	}
}

func TestEscape(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"**b**", `\*\*b\*\*`},
		{"[a](b)", `\[a\]\(b\)`},
		{"`c`", "\\`c\\`"},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Fatalf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCardEscapesBody(t *testing.T) {
	p := Card(domain.Item{Kind: domain.KindIssue, Body: "see **a [docs** here](https://x.io) now", Labels: []string{"a`b"}}, "o/r")
	if want := `see \*\*a \[docs\*\* here\]\(https://x.io\) now`; p.Description != want {
		t.Fatalf("description = %q, want %q", p.Description, want)
	}
	if got := p.Fields[1].Value; got != "`a\\`b`" {
		t.Fatalf("labels = %q", got)
	}
}

func TestLevelUp(t *testing.T) {
	p := LevelUp("@alice", 3)
	if p.Description != "🎉 @alice has reached **Level 3**!" {
		t.Fatalf("description = %q", p.Description)
	}
	if got := LevelUp("@a_b*", 2).Description; got != `🎉 @a_b\* has reached **Level 2**!` {
		t.Fatalf("description = %q", got)
	}
}
