package attendance

import (
	"strconv"
	"time"
)

// Level is a student's class-year.
type Level int

// ValidLevels lists the class-years a student can be enrolled in.
var ValidLevels = []Level{100, 200, 300, 400, 500}

func (l Level) String() string { return strconv.Itoa(int(l)) }

// Valid reports whether l is one of ValidLevels.
func (l Level) Valid() bool {
	for _, v := range ValidLevels {
		if l == v {
			return true
		}
	}
	return false
}

// Student is an enrolled student. RegNum and names are fixed at enrollment.
type Student struct {
	ID          string    `json:"id"`
	RegNum      string    `json:"reg_num"`
	Firstname   string    `json:"firstname"`
	Lastname    string    `json:"lastname"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Department  string    `json:"department"`
	Level       Level     `json:"level"`
	CreatedAt   time.Time `json:"created_at"`
}

// Admin can open and schedule events.
type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Firstname    string    `json:"firstname"`
	Lastname     string    `json:"lastname"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// State is the lifecycle position of an Event.
type State string

const (
	StateScheduled State = "scheduled"
	StateOpen      State = "open"
	StateClosed    State = "closed"
)

// Event is one day's class session. Day is the calendar date of StartsAt
// (midnight UTC carrying the local year, month and day) and is unique across
// all events.
type Event struct {
	ID        string    `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	Day       time.Time `json:"day"`
	Closed    bool      `json:"closed"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// State derives the event's lifecycle state for the calendar day today.
func (e Event) State(today time.Time) State {
	switch {
	case e.Closed:
		return StateClosed
	case e.Day.After(today):
		return StateScheduled
	default:
		return StateOpen
	}
}

func (e Event) String() string {
	return "Class of " + e.StartsAt.Format("Mon 02, Jan 2006")
}

// Attendance is one student's check-in to one event.
type Attendance struct {
	StudentID   string    `json:"student_id"`
	EventID     string    `json:"event_id"`
	ArrivalTime time.Time `json:"arrival_time"`
}

// RosterEntry is an attendance row joined with its student.
type RosterEntry struct {
	Attendance
	Student Student `json:"student"`
}

// CalendarDay returns the calendar date of t in loc, as midnight UTC.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
