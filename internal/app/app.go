package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gitpulse/internal/config"
	"gitpulse/internal/delivery"
	"gitpulse/internal/eventbus"
	"gitpulse/internal/leveling"
	"gitpulse/internal/poller"
	rtsup "gitpulse/internal/runtime/supervisor"
	"gitpulse/internal/source"
	"gitpulse/internal/storage"
	"gitpulse/internal/task/scheduler"
	"gitpulse/internal/transport"
	"gitpulse/internal/transport/telegram"
	logx "gitpulse/pkg/logx"
)

const pollJobName = "poll"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	deliv   *delivery.Service
	poll    *poller.Poller
	sched   *scheduler.Service
	level   *leveling.Engine

	firstRun atomic.Bool

	updates chan transport.Update
}

// LoadConfig reads, decodes and validates the config file at path.
// Validation warnings are returned alongside a usable config.
func LoadConfig(path string) (*config.ConfigManager, *config.Config, []string, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfgm, cfg, warnings, nil
}

// NewLogging builds the logging service from the config.
func NewLogging(cfg *config.Config) (*logx.Service, logx.Logger) {
	return logx.New(mapLoggingConfig(cfg))
}

// OpenStore opens the configured state store.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func New(cfgPath string) (*App, error) {
	cfgm, cfg, warnings, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := NewLogging(cfg)
	log = log.With(logx.String("comp", "app"))
	for _, w := range warnings {
		log.Warn("config warning", logx.String("detail", w))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}
	if err := a.wire(ad); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the pipeline components on top of the sender.
func (a *App) wire(sender transport.Sender) error {
	cfg := a.cfg
	root := a.logs.Logger()

	store, err := OpenStore(cfg, root)
	if err != nil {
		return err
	}
	a.store = store

	srcOpts, err := mapSourceOptions(cfg)
	if err != nil {
		return err
	}
	src, err := source.NewGitHub(srcOpts, root.With(logx.String("comp", "source")))
	if err != nil {
		return err
	}

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return err
	}
	a.deliv = delivery.New(dcfg, sender, mapChannels(cfg), root.With(logx.String("comp", "delivery")), a.bus)

	a.poll = poller.New(mapPollerConfig(cfg), mapRepos(cfg), src, store, a.deliv,
		root.With(logx.String("comp", "poller")), a.bus)

	if cfg.Leveling.Enabled {
		a.level = leveling.New(store, a.deliv, cfg.GeneralChannel,
			root.With(logx.String("comp", "leveling")), a.bus)
	}

	interval, opt, err := mapPollSchedule(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(scheduler.Config{}, root.With(logx.String("comp", "scheduler")), a.bus)
	a.firstRun.Store(true)
	if err := a.sched.Add(pollJobName, interval, opt, a.scheduledRun); err != nil {
		return err
	}
	return nil
}

// scheduledRun is the scheduler job: one poll over every tracked repository.
func (a *App) scheduledRun(ctx context.Context) error {
	mode := poller.ModeCards
	first := a.firstRun.Swap(false)
	if a.cfg.Poller.DigestMode || (first && a.cfg.Poller.StartupDigest) {
		mode = poller.ModeDigest
	}
	a.poll.RunOnce(ctx, mode)
	return nil
}

// RunPoll runs a single poll without starting the scheduler or inbound polling.
func (a *App) RunPoll(ctx context.Context, mode poller.Mode) poller.Report {
	return a.poll.RunOnce(ctx, mode)
}

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("updates.activity", a.activityLoop)

	// Debug trail of bus traffic; components subscribe themselves when they need events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sched.Start(a.sup.Context())

	a.log.Info("app started",
		logx.Int("repos", len(a.cfg.Repos)),
		logx.Bool("leveling", a.level != nil),
	)
	return nil
}

// activityLoop feeds inbound group messages to the leveling engine.
func (a *App) activityLoop(c context.Context) {
	for {
		select {
		case <-c.Done():
			return
		case up := <-a.updates:
			if a.level == nil || up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			m := up.Message
			if !m.IsGroup || m.FromID == 0 {
				continue
			}
			_, err := a.level.RecordActivity(c, leveling.Activity{
				UserID:   leveling.UserKey(m.FromID),
				Username: m.Mention(),
				IsBot:    m.FromIsBot,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("record activity failed", logx.Int64("user_id", m.FromID), logx.Err(err))
			}
		}
	}
}

// reloadLoop applies logging changes live; every other section needs a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.logs.Apply(mapLoggingConfig(newCfg))
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if restart {
				a.log.Warn("some config changes take effect after restart", logx.Strings("sections", sections))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.closeStore()
	if a.logs != nil {
		a.logs.Close()
	}
	return err
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	if errors.Is(err, storage.ErrClosed) {
		return nil
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
