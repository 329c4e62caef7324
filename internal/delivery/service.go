// Package delivery sends rendered payloads to named channels with pacing and
// retries.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gitpulse/internal/eventbus"
	"gitpulse/internal/render"
	"gitpulse/internal/transport"
	logx "gitpulse/pkg/logx"
)

var (
	// ErrUnknownChannel means a channel name has no configured destination.
	ErrUnknownChannel = errors.New("delivery: unknown channel")
	ErrEmptyPayload   = errors.New("delivery: empty payload")
)

// Sink is what the poller and the leveling engine deliver through.
type Sink interface {
	Send(ctx context.Context, channel string, p render.Payload) error
}

// Config controls pacing and retry.
type Config struct {
	MinInterval   time.Duration // 0 disables pacing
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinInterval:   250 * time.Millisecond,
		RetryMax:      2,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 5 * time.Second,
		SendTimeout:   10 * time.Second,
	}
}

// Service is the Telegram-backed Sink.
//
// Send is synchronous: the caller learns whether the payload was delivered,
// which is what gates the notified-set commit.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	sender   transport.Sender
	channels map[string]transport.ChatTarget
	log      logx.Logger
	bus      eventbus.Bus
}

func New(cfg Config, sender transport.Sender, channels map[string]transport.ChatTarget, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	dir := make(map[string]transport.ChatTarget, len(channels))
	for name, t := range channels {
		dir[strings.TrimSpace(name)] = t
	}
	s := &Service{cfg: cfg, sender: sender, channels: dir, log: log, bus: bus}
	if cfg.MinInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return s
}

// Resolve maps a channel name to its chat target.
func (s *Service) Resolve(channel string) (transport.ChatTarget, bool) {
	t, ok := s.channels[strings.TrimSpace(channel)]
	return t, ok && t.ChatID != 0
}

// Send delivers p to channel, waiting for the pacing limiter and retrying
// transient failures with exponential backoff. Errors wrapping
// transport.ErrRejected are not retried.
func (s *Service) Send(ctx context.Context, channel string, p render.Payload) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target, ok := s.Resolve(channel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if p.IsZero() {
		return ErrEmptyPayload
	}
	text := fitHTML(p)
	opt := &transport.SendOptions{ParseMode: ParseModeHTML, DisablePreview: true}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
loop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, target, text, opt)
		cancel()
		if err == nil {
			s.publish(EventSent, channel, target, p, nil)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, transport.ErrRejected) {
			break
		}
		s.log.Debug("send failed", logx.String("channel", channel), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break loop
		}
	}

	s.publish(EventFailed, channel, target, p, lastErr)
	return fmt.Errorf("deliver to %q: %w", channel, lastErr)
}

const (
	EventSent   = "delivery.sent"
	EventFailed = "delivery.failed"
)

// Event is the eventbus payload of EventSent and EventFailed.
type Event struct {
	Channel  string
	ChatID   int64
	ThreadID int
	Title    string
	URL      string
	Error    string
}

func (s *Service) publish(typ, channel string, t transport.ChatTarget, p render.Payload, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{Channel: channel, ChatID: t.ChatID, ThreadID: t.ThreadID, Title: p.Title, URL: p.URL}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
