package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a mutex-guarded Store for dev runs and tests. It enforces the
// same uniqueness rules as the Postgres schema.
type MemStore struct {
	mu         sync.Mutex
	students   map[string]Student
	admins     map[string]Admin
	events     map[string]Event
	attendance map[[2]string]Attendance

	// FailCommit, when set, makes RecordAttendance fail as if the commit was lost.
	FailCommit error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		students:   make(map[string]Student),
		admins:     make(map[string]Admin),
		events:     make(map[string]Event),
		attendance: make(map[[2]string]Attendance),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Healthy(context.Context) bool { return true }

func (m *MemStore) CreateStudent(_ context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.RegNum == st.RegNum {
			return ErrConflict
		}
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.CreatedAt = time.Now().UTC()
	m.students[st.ID] = *st
	return nil
}

func (m *MemStore) StudentByID(_ context.Context, id string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemStore) StudentByRegNum(_ context.Context, regNum string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.RegNum == regNum {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemStore) UpdateStudent(_ context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[st.ID]
	if !ok {
		return ErrNotFound
	}
	cur.PhoneNumber, cur.Department, cur.Level = st.PhoneNumber, st.Department, st.Level
	m.students[st.ID] = cur
	return nil
}

func (m *MemStore) CreateAdmin(_ context.Context, a *Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.admins {
		if x.Username == a.Username {
			return ErrConflict
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	m.admins[a.ID] = *a
	return nil
}

func (m *MemStore) AdminByID(_ context.Context, id string) (*Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.admins[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *MemStore) AdminByUsername(_ context.Context, username string) (*Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *MemStore) EventOn(_ context.Context, day time.Time) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Day.Equal(day) {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertEvent(_ context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Day.Equal(evt.Day) {
			return ErrConflict
		}
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	evt.CreatedAt = time.Now().UTC()
	m.events[evt.ID] = *evt
	return nil
}

func (m *MemStore) CloseEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		e.Closed = true
		m.events[id] = e
	}
	return nil
}

func (m *MemStore) sortedEvents(keep func(Event) bool) []Event {
	var res []Event
	for _, e := range m.events {
		if keep(e) {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Day.Before(res[j].Day) })
	return res
}

func (m *MemStore) OpenEventsBefore(_ context.Context, day time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedEvents(func(e Event) bool { return !e.Closed && e.Day.Before(day) }), nil
}

func (m *MemStore) EventsFrom(_ context.Context, day time.Time, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.sortedEvents(func(e Event) bool { return !e.Day.Before(day) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemStore) FindAttendance(_ context.Context, studentID, eventID string) (*Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attendance[[2]string{studentID, eventID}]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *MemStore) RecordAttendance(_ context.Context, att *Attendance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt, ok := m.events[att.EventID]
	if !ok {
		return false, ErrNotFound
	}
	if evt.Closed {
		return false, ErrEventClosed
	}
	key := [2]string{att.StudentID, att.EventID}
	if cur, ok := m.attendance[key]; ok {
		*att = cur
		return false, nil
	}
	if m.FailCommit != nil {
		return false, storageErr("commit attendance", m.FailCommit)
	}
	m.attendance[key] = *att
	return true, nil
}

func (m *MemStore) Roster(_ context.Context, eventID string) ([]RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []RosterEntry
	for key, a := range m.attendance {
		if key[1] == eventID {
			res = append(res, RosterEntry{Attendance: a, Student: m.students[key[0]]})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ArrivalTime.After(res[j].ArrivalTime) })
	return res, nil
}

func (m *MemStore) StudentHistory(_ context.Context, studentID string, limit int) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Attendance
	for key, a := range m.attendance {
		if key[0] == studentID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ArrivalTime.After(res[j].ArrivalTime) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// AttendanceCount returns the number of stored attendance rows.
func (m *MemStore) AttendanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attendance)
}
