// Package autosync fires push phases from a timer, from sign-in, and on demand, collapsing
// overlapping triggers into one phase.
package autosync

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/syncer"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval = 5 * time.Minute
	pushKey         = "push"

	ReasonTimer  = "timer"
	ReasonSignIn = "sign-in"
	ReasonManual = "manual"
)

var errMissingPusher = errors.New("autosync: pusher is required")

// Pusher runs one push phase.
type Pusher interface {
	Push(ctx context.Context, vehicleID string) (syncer.PushResult, error)
}

// Config describes the dependencies of a Runner.
type Config struct {
	Pusher   Pusher
	Events   *events.Dispatcher
	Interval time.Duration
	Logger   *zap.Logger
}

// Runner owns the at-most-one-push-in-flight guarantee the sync engine leaves to callers.
type Runner struct {
	pusher   Pusher
	events   *events.Dispatcher
	interval time.Duration
	logger   *zap.Logger
	group    singleflight.Group
}

// NewRunner constructs a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Pusher == nil {
		return nil, errMissingPusher
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pusher: cfg.Pusher, events: cfg.Events, interval: interval, logger: logger}, nil
}

// Trigger runs a push phase across all vehicles, or joins the one already in flight.
// shared reports whether the result came from a phase started by another trigger.
func (r *Runner) Trigger(ctx context.Context, reason string) (syncer.PushResult, bool, error) {
	value, err, shared := r.group.Do(pushKey, func() (interface{}, error) {
		r.logger.Debug("push triggered", zap.String("reason", reason))
		return r.pusher.Push(context.WithoutCancel(ctx), "")
	})
	result, _ := value.(syncer.PushResult)
	if err != nil {
		r.logger.Warn("push phase failed", zap.String("reason", reason), zap.Error(err))
	}
	return result, shared, err
}

// Run triggers a push on every tick and whenever the session signs in, until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var authChanges <-chan events.Event
	if r.events != nil {
		stream, cleanup := r.events.Subscribe(ctx, events.KindAuthChanged)
		defer cleanup()
		authChanges = stream
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			go r.Trigger(ctx, ReasonTimer)
		case event := <-authChanges:
			if event.Attrs["signed_in"] == "true" {
				go r.Trigger(ctx, ReasonSignIn)
			}
		}
	}
}
