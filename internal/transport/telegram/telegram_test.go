package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tele "gopkg.in/telebot.v4"

	"gitpulse/internal/transport"
)

func TestClassifyMarksPermanentErrorsRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{name: "known bad request", err: tele.ErrChatNotFound, rejected: true},
		{name: "blocked", err: tele.ErrBlockedByUser, rejected: true},
		{name: "wrapped forbidden", err: fmt.Errorf("send: %w", tele.NewError(403, "Forbidden: bot is not a member of the channel chat")), rejected: true},
		{name: "unknown bad request", err: errors.New("telegram: Bad Request: can't parse entities: unexpected end tag at byte offset 12 (400)"), rejected: true},
		{name: "flood", err: tele.FloodError{RetryAfter: 3}},
		{name: "too many requests", err: errors.New("telegram: Too Many Requests (429)")},
		{name: "server error", err: tele.NewError(502, "Bad Gateway")},
		{name: "network", err: errors.New("dial tcp: connection refused")},
		{name: "deadline", err: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.err)
			if errors.Is(got, transport.ErrRejected) != tt.rejected {
				t.Fatalf("rejected = %v, want %v", !tt.rejected, tt.rejected)
			}
			if !errors.Is(got, tt.err) {
				t.Fatal("classify must keep the original error in the chain")
			}
		})
	}
}
