// Package render maps items, digests and level-ups into platform-neutral
// notification payloads.
package render

import "time"

const (
	ColorPullRequest    = 0x3498DB
	ColorIssue          = 0xE67E22
	ColorGoodFirstIssue = 0x2ECC71
	ColorLevelUp        = 0xF1C40F
)

// Payload is one outbound notification.
//
// Description and Field values are markup: **bold**, `code` and [text](url),
// with \\ escaping any of \\ * ` [ ] ( ). Text that comes from the tracker is
// always passed through Escape. Title, Author and Footer are plain text.
type Payload struct {
	Title       string
	URL         string
	Author      PayloadAuthor
	Color       int
	Fields      []Field
	Description string
	Footer      string
	Timestamp   time.Time
}

type PayloadAuthor struct {
	Name    string
	IconURL string
	URL     string
}

type Field struct {
	Name  string
	Value string
}

// IsZero reports whether p carries nothing to send.
func (p Payload) IsZero() bool {
	return p.Title == "" && p.Description == "" && len(p.Fields) == 0
}
