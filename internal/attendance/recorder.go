package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"classroll/internal/metrics"
)

// Recorder performs the idempotent check-in transaction.
type Recorder struct {
	store  Store
	events *Lifecycle
	notify Notifier
}

// NewRecorder creates a recorder. A nil notifier disables publishing.
func NewRecorder(store Store, events *Lifecycle, notify Notifier) *Recorder {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Recorder{store: store, events: events, notify: notify}
}

// Mark checks student into evt at now and reports whether a new row was
// created. A repeated check-in returns the stored row together with
// ErrAlreadyMarked; no second row is ever written. The record is handed to
// the notifier only after the insert has committed.
func (r *Recorder) Mark(ctx context.Context, student *Student, evt *Event, now time.Time) (Attendance, bool, error) {
	if student == nil {
		return Attendance{}, false, ErrNotFound
	}
	if evt == nil {
		return Attendance{}, false, ErrNoEvent
	}
	// An event resolved earlier may have gone stale since; only the event
	// that is still today's open one accepts check-ins.
	current, err := r.events.Refresh(ctx, evt, now)
	if err != nil {
		return Attendance{}, false, err
	}
	if current == nil || current.ID != evt.ID {
		return r.closed(ctx)
	}

	existing, err := r.store.FindAttendance(ctx, student.ID, evt.ID)
	if err != nil {
		metrics.CheckIns.WithLabelValues("failed").Inc()
		return Attendance{}, false, storageErr("find attendance", err)
	}
	if existing != nil {
		metrics.CheckIns.WithLabelValues("duplicate").Inc()
		return *existing, false, ErrAlreadyMarked
	}

	att := Attendance{StudentID: student.ID, EventID: evt.ID, ArrivalTime: now}
	created, err := r.store.RecordAttendance(ctx, &att)
	switch {
	case errors.Is(err, ErrEventClosed):
		evt.Closed = true
		return r.closed(ctx)
	case err != nil:
		metrics.CheckIns.WithLabelValues("failed").Inc()
		return Attendance{}, false, storageErr("record attendance", err)
	case !created:
		metrics.CheckIns.WithLabelValues("duplicate").Inc()
		return att, false, ErrAlreadyMarked
	}

	metrics.CheckIns.WithLabelValues("created").Inc()
	fctx, cancel := afterCommit(ctx)
	defer cancel()
	if err := r.notify.Publish(fctx, *student, att); err != nil {
		log.Printf("publish attendance for %s failed: %v", student.RegNum, err)
	}
	return att, true, nil
}

func (r *Recorder) closed(ctx context.Context) (Attendance, bool, error) {
	metrics.CheckIns.WithLabelValues("closed").Inc()
	fctx, cancel := afterCommit(ctx)
	defer cancel()
	if err := r.notify.Invalidate(fctx); err != nil {
		log.Printf("feed invalidate failed: %v", err)
	}
	return Attendance{}, false, ErrEventClosed
}

// Find returns the check-in of student into evt, or nil.
func (r *Recorder) Find(ctx context.Context, studentID, eventID string) (*Attendance, error) {
	att, err := r.store.FindAttendance(ctx, studentID, eventID)
	return att, storageErr("find attendance", err)
}

// Roster lists an event's attendance, latest first.
func (r *Recorder) Roster(ctx context.Context, eventID string) ([]RosterEntry, error) {
	entries, err := r.store.Roster(ctx, eventID)
	return entries, storageErr("roster", err)
}

// History lists a student's recent check-ins.
func (r *Recorder) History(ctx context.Context, studentID string, limit int) ([]Attendance, error) {
	atts, err := r.store.StudentHistory(ctx, studentID, limit)
	return atts, storageErr("history", err)
}
