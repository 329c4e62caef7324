package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gitpulse/internal/eventbus"
	logx "gitpulse/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	defs   []*scheduleDef

	// stopped refuses new runs once Stop has begun waiting on runs.
	stopped bool
	runs    sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers job under name. schedule is anything ParseSchedule accepts.
// Jobs added after Start are registered immediately.
func (s *Service) Add(name, schedule string, opt Options, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	d := &scheduleDef{name: name, spec: ps, job: job, opt: opt, state: &runState{}}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Start begins triggering. ctx is the parent of every run.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.stopped = false
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for in-flight runs or ctx, whichever ends first.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for runs", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// RunNow triggers name once, honoring the overlap policy. It reports
// whether a run was started.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	var def *scheduleDef
	for _, d := range s.defs {
		if d.name == name {
			def = d
		}
	}
	ctx := s.ctx
	s.mu.Unlock()
	if def == nil || ctx == nil {
		return false
	}
	return s.trigger(ctx, def)
}

func (s *Service) registerLocked(d *scheduleDef) {
	ctx := s.ctx
	job := cron.FuncJob(func() { s.trigger(ctx, d) })
	switch d.spec.Kind {
	case SpecInterval:
		d.entryID = s.c.Schedule(cron.Every(d.spec.Every), job)
	default:
		id, err := s.c.AddJob(d.spec.Cron, job)
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
			return
		}
		d.entryID = id
	}
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec.String()), logx.Duration("timeout", d.opt.Timeout))
	if d.opt.RunImmediately {
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.trigger(ctx, d)
		}()
	}
}

// trigger runs d unless a previous run is still in flight.
func (s *Service) trigger(ctx context.Context, d *scheduleDef) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.beginRun() {
		return false
	}
	defer s.runs.Done()
	if !d.state.tryAcquire() {
		s.log.Info("schedule trigger skipped: previous run still in flight", logx.String("schedule", d.name))
		s.publish(EventRunSkipped, RunInfo{Name: d.name, Started: time.Now(), Skipped: true})
		return false
	}
	defer d.state.release()

	start := time.Now()
	err := s.runOnce(ctx, d)
	info := RunInfo{Name: d.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		info.Error = err.Error()
		s.log.Warn("scheduled run failed", logx.String("schedule", d.name), logx.Duration("dur", info.Duration), logx.Err(err))
	} else {
		s.log.Debug("scheduled run completed", logx.String("schedule", d.name), logx.Duration("dur", info.Duration))
	}
	s.publish(EventRunFinished, info)
	return true
}

// beginRun counts a run in s.runs unless Stop has started. The check and the
// Add share s.mu with Stop, so no Add happens once Stop may be in runs.Wait.
func (s *Service) beginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.runs.Add(1)
	return true
}

func (s *Service) runOnce(ctx context.Context, d *scheduleDef) (err error) {
	runCtx := ctx
	if d.opt.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.opt.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("scheduled run panicked", logx.String("schedule", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.job(runCtx)
}

func (s *Service) publish(typ string, info RunInfo) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: info})
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
