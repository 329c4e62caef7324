// Package transport defines the chat-platform contract: inbound messages for
// the leveling engine and outbound text for notifications.
package transport

import (
	"context"
	"errors"
)

// ErrRejected marks a send the platform refused for good (bad request,
// forbidden chat, malformed markup). Retrying it cannot succeed.
var ErrRejected = errors.New("transport: message rejected")

// MaxTextRunes is the longest text a platform message carries in one piece.
// Longer texts are split by the adapter.
const MaxTextRunes = 4000

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	FromIsBot    bool
	Text         string
	IsGroup      bool
}

// Mention returns the handle used to address the sender in a chat message.
func (m Message) Mention() string {
	if m.FromUsername != "" {
		return "@" + m.FromUsername
	}
	if m.FromName != "" {
		return m.FromName
	}
	return "someone"
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound half of an Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
