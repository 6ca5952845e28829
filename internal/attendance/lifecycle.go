package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"classroll/internal/metrics"
)

// Notifier distributes committed attendance to live viewers and owns the
// "recently seen" buffer, which is scoped to the currently open event.
type Notifier interface {
	Publish(ctx context.Context, st Student, att Attendance) error
	Invalidate(ctx context.Context) error
}

// feedTimeout bounds a notifier call made after a committed write.
const feedTimeout = 5 * time.Second

// afterCommit derives the context for notifier calls that follow a committed
// write. It outlives the caller's cancellation so a client hanging up cannot
// drop the feed update for a row that is already stored.
func afterCommit(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), feedTimeout)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Student, Attendance) error { return nil }
func (nopNotifier) Invalidate(context.Context) error                   { return nil }

// Lifecycle enforces one event per calendar day and closes events once
// their day has passed. Days are computed in loc.
//
// Same-day races between open and schedule are settled by the store's unique
// day constraint; the loser gets ErrConflict.
type Lifecycle struct {
	store  Store
	notify Notifier
	loc    *time.Location
}

// NewLifecycle creates an event manager. A nil notifier disables feed invalidation.
func NewLifecycle(store Store, notify Notifier, loc *time.Location) *Lifecycle {
	if notify == nil {
		notify = nopNotifier{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Lifecycle{store: store, notify: notify, loc: loc}
}

// Today returns the calendar day of now.
func (l *Lifecycle) Today(now time.Time) time.Time { return CalendarDay(now, l.loc) }

// Resolve closes stale events and returns today's open event, or nil when
// there is none. Call it once per request and keep the result.
func (l *Lifecycle) Resolve(ctx context.Context, now time.Time) (*Event, error) {
	if _, err := l.CloseStale(ctx, now); err != nil {
		return nil, err
	}
	evt, err := l.store.EventOn(ctx, l.Today(now))
	if err != nil {
		return nil, storageErr("resolve event", err)
	}
	if evt == nil || evt.Closed {
		return nil, nil
	}
	return evt, nil
}

// Refresh re-validates a previously resolved event against now. If its day
// has passed it is closed and today's event is resolved afresh.
func (l *Lifecycle) Refresh(ctx context.Context, current *Event, now time.Time) (*Event, error) {
	if current == nil {
		return l.Resolve(ctx, now)
	}
	closed, err := l.AutoCloseIfStale(ctx, current, now)
	if err != nil {
		return nil, err
	}
	if !closed && !current.Closed {
		return current, nil
	}
	return l.Resolve(ctx, now)
}

// AutoCloseIfStale closes evt when its calendar day is before now's. It
// reports whether it closed the event. The live feed buffer is cleared after
// the close is persisted.
func (l *Lifecycle) AutoCloseIfStale(ctx context.Context, evt *Event, now time.Time) (bool, error) {
	if evt.Closed || !evt.Day.Before(l.Today(now)) {
		return false, nil
	}
	if err := l.store.CloseEvent(ctx, evt.ID); err != nil {
		return false, storageErr("close event", err)
	}
	evt.Closed = true
	metrics.EventsClosed.Inc()
	log.Printf("event %s (%s) auto-closed", evt.ID, evt.Day.Format(time.DateOnly))
	fctx, cancel := afterCommit(ctx)
	defer cancel()
	if err := l.notify.Invalidate(fctx); err != nil {
		log.Printf("feed invalidate failed: %v", err)
	}
	return true, nil
}

// CloseStale closes every unclosed event dated before today and returns them.
func (l *Lifecycle) CloseStale(ctx context.Context, now time.Time) ([]Event, error) {
	stale, err := l.store.OpenEventsBefore(ctx, l.Today(now))
	if err != nil {
		return nil, storageErr("list stale events", err)
	}
	var closed []Event
	for i := range stale {
		ok, err := l.AutoCloseIfStale(ctx, &stale[i], now)
		if err != nil {
			return closed, err
		}
		if ok {
			closed = append(closed, stale[i])
		}
	}
	return closed, nil
}

// OpenNow creates an event for today that is open immediately. Any event
// already on today's date, open or closed, is a conflict.
func (l *Lifecycle) OpenNow(ctx context.Context, admin *Admin, now time.Time) (*Event, error) {
	evt, err := l.create(ctx, admin, now, nil)
	if err != nil {
		return nil, err
	}
	metrics.EventsCreated.WithLabelValues("open").Inc()
	fctx, cancel := afterCommit(ctx)
	defer cancel()
	if err := l.notify.Invalidate(fctx); err != nil {
		log.Printf("feed invalidate failed: %v", err)
	}
	log.Printf("event %s opened for attendance", evt.ID)
	return evt, nil
}

// Schedule creates an event at startsAt. It fails with ErrConflict when any
// event exists on the same calendar day, past days included. A free day in
// the past cannot be scheduled.
func (l *Lifecycle) Schedule(ctx context.Context, admin *Admin, startsAt, now time.Time) (*Event, error) {
	evt, err := l.create(ctx, admin, startsAt, func(day time.Time) error {
		if day.Before(l.Today(now)) {
			return &ValidationError{Problems: []string{"cannot schedule a class on a past date"}}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.EventsCreated.WithLabelValues("schedule").Inc()
	log.Printf("event %s scheduled for %s", evt.ID, evt.Day.Format(time.DateOnly))
	return evt, nil
}

// create inserts an event on startsAt's day. A clash on that day is checked
// first; allow, when set, vets a free day before the insert.
func (l *Lifecycle) create(ctx context.Context, admin *Admin, startsAt time.Time, allow func(day time.Time) error) (*Event, error) {
	evt := &Event{
		StartsAt: startsAt,
		Day:      CalendarDay(startsAt, l.loc),
	}
	if admin != nil {
		evt.CreatedBy = admin.ID
	}
	// Pre-check gives a clean conflict in the common case; the insert's
	// unique constraint is what decides concurrent attempts.
	clash, err := l.store.EventOn(ctx, evt.Day)
	if err != nil {
		return nil, storageErr("check clash", err)
	}
	if clash != nil {
		metrics.EventConflicts.Inc()
		return nil, ErrConflict
	}
	if allow != nil {
		if err := allow(evt.Day); err != nil {
			return nil, err
		}
	}
	err = l.store.InsertEvent(ctx, evt)
	if errors.Is(err, ErrConflict) {
		metrics.EventConflicts.Inc()
		return nil, ErrConflict
	}
	if err != nil {
		return nil, storageErr("insert event", err)
	}
	return evt, nil
}

// Upcoming lists events from today on, earliest first.
func (l *Lifecycle) Upcoming(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	evts, err := l.store.EventsFrom(ctx, l.Today(now), limit)
	return evts, storageErr("list events", err)
}
