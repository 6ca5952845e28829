package attendance

import (
	"context"
	"time"
)

// Store is the transactional record store behind the domain services.
// Lookups return (nil, nil) when nothing matches. Inserts that would break a
// uniqueness rule (one event per day, one enrollment per reg number) return
// ErrConflict.
type Store interface {
	CreateStudent(ctx context.Context, st *Student) error
	StudentByID(ctx context.Context, id string) (*Student, error)
	StudentByRegNum(ctx context.Context, regNum string) (*Student, error)
	UpdateStudent(ctx context.Context, st *Student) error

	CreateAdmin(ctx context.Context, a *Admin) error
	AdminByID(ctx context.Context, id string) (*Admin, error)
	AdminByUsername(ctx context.Context, username string) (*Admin, error)

	// EventOn returns the event on the given calendar day, closed or not.
	EventOn(ctx context.Context, day time.Time) (*Event, error)
	InsertEvent(ctx context.Context, evt *Event) error
	// CloseEvent sets the closed flag. Closing a closed event is a no-op.
	CloseEvent(ctx context.Context, id string) error
	// OpenEventsBefore lists events not yet closed whose day precedes day.
	OpenEventsBefore(ctx context.Context, day time.Time) ([]Event, error)
	// EventsFrom lists events on or after day, earliest first.
	EventsFrom(ctx context.Context, day time.Time, limit int) ([]Event, error)

	FindAttendance(ctx context.Context, studentID, eventID string) (*Attendance, error)
	// RecordAttendance inserts att in a single transaction. When a row for the
	// same (student, event) already exists nothing is written, att is filled
	// from the stored row and created is false.
	RecordAttendance(ctx context.Context, att *Attendance) (created bool, err error)
	Roster(ctx context.Context, eventID string) ([]RosterEntry, error)
	StudentHistory(ctx context.Context, studentID string, limit int) ([]Attendance, error)

	Healthy(ctx context.Context) bool
}
