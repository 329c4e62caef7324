// Package leveling turns chat activity into points and announces level
// transitions.
package leveling

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"gitpulse/internal/delivery"
	"gitpulse/internal/eventbus"
	"gitpulse/internal/render"
	"gitpulse/internal/storage"
	logx "gitpulse/pkg/logx"
)

var ErrEmptyUser = errors.New("leveling: empty user id")

// Activity is one qualifying chat message.
type Activity struct {
	UserID   string
	Username string // display handle used in the announcement
	IsBot    bool
}

// Transition is a level increase caused by one increment.
type Transition struct {
	UserID   string
	Username string
	Points   int64
	From     int
	To       int
}

type Engine struct {
	store   storage.Store
	sink    delivery.Sink
	general string
	log     logx.Logger
	bus     eventbus.Bus

	noGeneral sync.Once
}

// New builds an engine. sink and general may be empty: transitions are then
// only logged.
func New(store storage.Store, sink delivery.Sink, general string, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, sink: sink, general: strings.TrimSpace(general), log: log, bus: bus}
}

// RecordActivity adds one point and reports a transition, if any. The level-up
// announcement is best-effort; the point stays committed if it fails.
func (e *Engine) RecordActivity(ctx context.Context, a Activity) (*Transition, error) {
	if a.IsBot {
		return nil, nil
	}
	if strings.TrimSpace(a.UserID) == "" {
		return nil, ErrEmptyUser
	}
	up, err := e.store.IncrementPoints(ctx, a.UserID, a.Username)
	if err != nil {
		return nil, err
	}
	from, to := Level(up.Points-1), Level(up.Points)
	if from == to {
		return nil, nil
	}
	tr := &Transition{UserID: up.UserID, Username: a.Username, Points: up.Points, From: from, To: to}
	e.log.Info("level up", logx.String("user_id", tr.UserID), logx.Int("level", to), logx.Int64("points", up.Points))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.LevelUp, Data: *tr})
	}
	e.announce(ctx, *tr)
	return tr, nil
}

func (e *Engine) announce(ctx context.Context, tr Transition) {
	if e.sink == nil || e.general == "" {
		e.noGeneral.Do(func() {
			e.log.Warn("no general channel; level-ups are not announced")
		})
		return
	}
	name := tr.Username
	if name == "" {
		name = tr.UserID
	}
	if err := e.sink.Send(ctx, e.general, render.LevelUp(name, tr.To)); err != nil {
		e.log.Warn("level-up announcement failed", logx.String("user_id", tr.UserID), logx.Err(err))
	}
}

// Standing is a user's points and derived level.
type Standing struct {
	UserID   string
	Username string
	Points   int64
	Level    int
	// Next is the point count of the next level.
	Next int64
}

// Points looks up a user. Unknown users are at level 1 with zero points.
func (e *Engine) Points(ctx context.Context, userID string) (Standing, error) {
	up, _, err := e.store.GetPoints(ctx, userID)
	if err != nil {
		return Standing{}, err
	}
	lvl := Level(up.Points)
	return Standing{
		UserID:   userID,
		Username: up.Username,
		Points:   up.Points,
		Level:    lvl,
		Next:     RequiredPoints(lvl + 1),
	}, nil
}

// UserKey formats a platform user id as a store key.
func UserKey(id int64) string { return strconv.FormatInt(id, 10) }
