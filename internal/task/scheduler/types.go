package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNameRequired = errors.New("scheduler: name required")
	ErrDuplicate    = errors.New("scheduler: duplicate job name")
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ; empty means Local
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Options tune one registration.
type Options struct {
	// Timeout bounds a single run; 0 disables it.
	Timeout time.Duration
	// RunImmediately fires the first run on Start instead of after one period.
	RunImmediately bool
}

// RunInfo is published on the event bus after each run.
type RunInfo struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
	Skipped  bool
}

const (
	EventRunFinished = "schedule.run"
	EventRunSkipped  = "schedule.skipped"
)

// runState tracks whether a job is in flight.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	job     Job
	opt     Options
	state   *runState
	entryID cron.EntryID
}
