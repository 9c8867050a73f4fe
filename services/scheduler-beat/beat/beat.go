// Package beat fires stored periodic triggers back into the dispatch
// pipeline. Instances coordinate through a shared lock so each due trigger
// fires once per occurrence.
package beat

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mutter0815/liftsmail/internal/distlock"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
)

// ErrLockLost stops a tick whose lock expired or was taken over mid-walk.
var ErrLockLost = errors.New("beat lock lost")

type triggerStore interface {
	ListEnabledTriggers(ctx context.Context) ([]mailing.Trigger, error)
	MarkTriggerRun(ctx context.Context, id int64, at time.Time, disable bool) error
	DisableTrigger(ctx context.Context, id int64) error
}

type firer interface {
	Fire(ctx context.Context, sessionID int64, payload mailing.TriggerPayload) (int, error)
}

type Beat struct {
	Store    triggerStore
	Pipeline firer
	Lock     distlock.Lock
	LockTTL  time.Duration
	Interval time.Duration
	Now      func() time.Time
}

func New(st triggerStore, p firer, lock distlock.Lock, interval, lockTTL time.Duration) *Beat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if lockTTL <= 0 {
		lockTTL = 25 * time.Second
	}
	return &Beat{Store: st, Pipeline: p, Lock: lock, LockTTL: lockTTL, Interval: interval, Now: time.Now}
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (b *Beat) Run(ctx context.Context) error {
	logx.L().Infow("beat_started", "interval", b.Interval.String())
	t := time.NewTicker(b.Interval)
	defer t.Stop()

	for {
		if _, err := b.Tick(ctx); err != nil {
			logx.L().Errorw("beat_tick_error", "error", err)
		}
		select {
		case <-ctx.Done():
			logx.L().Infow("beat_stopping")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick evaluates every enabled trigger once and returns how many fired. It
// does nothing when another instance holds the lock.
func (b *Beat) Tick(ctx context.Context) (int, error) {
	ok, err := b.Lock.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		logx.L().Debugw("beat_lock_busy")
		return 0, nil
	}
	defer func() {
		if err := b.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			logx.L().Warnw("beat_lock_release_error", "error", err)
		}
	}()

	triggers, err := b.Store.ListEnabledTriggers(ctx)
	if err != nil {
		return 0, err
	}
	now := b.Now()
	fired := 0
	for _, t := range triggers {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		ok, err := b.evaluate(ctx, t, now)
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// evaluate fires t when due. The occurrence is claimed in the store before
// the fire, so a failed or interrupted fire is never repeated.
func (b *Beat) evaluate(ctx context.Context, t mailing.Trigger, now time.Time) (bool, error) {
	if t.Expires != nil && !now.Before(*t.Expires) {
		b.expire(ctx, t)
		return false, nil
	}
	sched, err := t.Spec.Schedule()
	if err != nil {
		metrics.BeatFireErrors.Inc()
		logx.L().Errorw("trigger_spec_error", "trigger", t.Name, "error", err)
		return false, nil
	}
	next := NextFire(t, sched)
	if next.After(now) {
		return false, nil
	}
	if t.Expires != nil && !next.Before(*t.Expires) {
		b.expire(ctx, t)
		return false, nil
	}

	held, err := b.Lock.Extend(ctx, b.LockTTL)
	if err != nil {
		return false, err
	}
	if !held {
		logx.L().Warnw("beat_lock_lost", "trigger", t.Name)
		return false, ErrLockLost
	}

	if err := b.Store.MarkTriggerRun(ctx, t.ID, now, t.OneOff); err != nil {
		metrics.BeatFireErrors.Inc()
		logx.L().Errorw("trigger_mark_run_error", "trigger", t.Name, "error", err)
		return false, nil
	}

	n, err := b.Pipeline.Fire(ctx, t.SessionID, t.Payload)
	if err != nil {
		metrics.BeatFireErrors.Inc()
		logx.L().Errorw("trigger_fire_error",
			"trigger", t.Name,
			"session_id", t.SessionID,
			"submitted", n,
			"error", err,
		)
		return false, nil
	}
	metrics.BeatTriggersFired.Inc()
	logx.L().Infow("trigger_fired",
		"trigger", t.Name,
		"session_id", t.SessionID,
		"due", next,
		"jobs", n,
		"one_off", t.OneOff,
	)
	return true, nil
}

func (b *Beat) expire(ctx context.Context, t mailing.Trigger) {
	if err := b.Store.DisableTrigger(ctx, t.ID); err != nil {
		logx.L().Errorw("trigger_disable_error", "trigger", t.Name, "error", err)
		return
	}
	metrics.BeatTriggersExpired.Inc()
	logx.L().Infow("trigger_expired", "trigger", t.Name, "expires", t.Expires)
}

// NextFire is the first occurrence of sched the trigger has not yet run for.
// It never precedes the start time, and a recurring trigger never replays
// occurrences from before it was created. One-offs skip the creation bound
// since their start is truncated to the minute and may precede it.
func NextFire(t mailing.Trigger, sched cron.Schedule) time.Time {
	from := t.CreatedAt
	if t.StartTime != nil {
		start := t.StartTime.Add(-time.Second)
		if t.OneOff || start.After(from) {
			from = start
		}
	}
	if t.LastRunAt != nil && t.LastRunAt.After(from) {
		from = *t.LastRunAt
	}
	return sched.Next(from)
}
