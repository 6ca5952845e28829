package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id           UUID PRIMARY KEY,
	reg_num      VARCHAR(11) NOT NULL UNIQUE,
	firstname    VARCHAR(30) NOT NULL,
	lastname     VARCHAR(30) NOT NULL,
	phone_number VARCHAR(11) NOT NULL DEFAULT '',
	department   VARCHAR(15) NOT NULL,
	level        INTEGER NOT NULL CHECK (level IN (100, 200, 300, 400, 500)),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS admins (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	firstname     VARCHAR(30) NOT NULL,
	lastname      VARCHAR(30) NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS events (
	id         UUID PRIMARY KEY,
	starts_at  TIMESTAMPTZ NOT NULL,
	day        DATE NOT NULL UNIQUE,
	closed     BOOLEAN NOT NULL DEFAULT FALSE,
	created_by UUID REFERENCES admins(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance (
	student_id   UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	event_id     UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	arrival_time TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (student_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_open ON events(day) WHERE NOT closed;
CREATE INDEX IF NOT EXISTS idx_attendance_event ON attendance(event_id, arrival_time);
`

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return storageErr("migrate", err)
}

// Healthy pings the database.
func (r *Repository) Healthy(ctx context.Context) bool {
	return r.db != nil && r.db.PingContext(ctx) == nil
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateStudent inserts a new student.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, reg_num, firstname, lastname, phone_number, department, level)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, st.ID, st.RegNum, st.Firstname, st.Lastname, st.PhoneNumber, st.Department, int(st.Level))
	if err := row.Scan(&st.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return storageErr("create student", err)
	}
	return nil
}

const studentColumns = `id, reg_num, firstname, lastname, phone_number, department, level, created_at`

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var st Student
	var level int
	if err := row.Scan(&st.ID, &st.RegNum, &st.Firstname, &st.Lastname, &st.PhoneNumber, &st.Department, &level, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.Level = Level(level)
	return &st, nil
}

// StudentByID returns a student by internal id.
func (r *Repository) StudentByID(ctx context.Context, id string) (*Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	return st, storageErr("get student", err)
}

// StudentByRegNum returns a student by registration number.
func (r *Repository) StudentByRegNum(ctx context.Context, regNum string) (*Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE reg_num = $1`, regNum))
	return st, storageErr("get student", err)
}

// UpdateStudent writes the mutable contact and level fields.
func (r *Repository) UpdateStudent(ctx context.Context, st *Student) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET phone_number = $2, department = $3, level = $4
		WHERE id = $1
	`, st.ID, st.PhoneNumber, st.Department, int(st.Level))
	if err != nil {
		return storageErr("update student", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAdmin inserts a new admin.
func (r *Repository) CreateAdmin(ctx context.Context, a *Admin) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO admins (id, username, firstname, lastname, password_hash)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, a.ID, a.Username, a.Firstname, a.Lastname, a.PasswordHash)
	if err := row.Scan(&a.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return storageErr("create admin", err)
	}
	return nil
}

const adminColumns = `id, username, firstname, lastname, password_hash, created_at`

func scanAdmin(row *sql.Row) (*Admin, error) {
	var a Admin
	if err := row.Scan(&a.ID, &a.Username, &a.Firstname, &a.Lastname, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// AdminByID returns an admin by id.
func (r *Repository) AdminByID(ctx context.Context, id string) (*Admin, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	a, err := scanAdmin(r.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
	return a, storageErr("get admin", err)
}

// AdminByUsername returns an admin by login name.
func (r *Repository) AdminByUsername(ctx context.Context, username string) (*Admin, error) {
	a, err := scanAdmin(r.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE username = $1`, username))
	return a, storageErr("get admin", err)
}

const eventColumns = `id, starts_at, day, closed, created_by, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var evt Event
	var createdBy sql.NullString
	if err := row.Scan(&evt.ID, &evt.StartsAt, &evt.Day, &evt.Closed, &createdBy, &evt.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	evt.CreatedBy = createdBy.String
	evt.Day = CalendarDay(evt.Day, time.UTC)
	return &evt, nil
}

// EventOn returns the event on day regardless of its closed flag.
func (r *Repository) EventOn(ctx context.Context, day time.Time) (*Event, error) {
	evt, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE day = $1`, day))
	return evt, storageErr("get event", err)
}

// InsertEvent writes a new event. The unique index on day rejects a second
// event on the same calendar day, including under concurrent inserts.
func (r *Repository) InsertEvent(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	var createdBy any
	if evt.CreatedBy != "" {
		createdBy = evt.CreatedBy
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (id, starts_at, day, closed, created_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, evt.ID, evt.StartsAt, evt.Day, evt.Closed, createdBy)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return storageErr("insert event", err)
	}
	return nil
}

// CloseEvent marks an event closed.
func (r *Repository) CloseEvent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET closed = TRUE WHERE id = $1 AND NOT closed`, id)
	return storageErr("close event", err)
}

func (r *Repository) listEvents(ctx context.Context, op, query string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		res = append(res, *evt)
	}
	return res, storageErr(op, rows.Err())
}

// OpenEventsBefore lists unclosed events dated before day.
func (r *Repository) OpenEventsBefore(ctx context.Context, day time.Time) ([]Event, error) {
	return r.listEvents(ctx, "list stale events",
		`SELECT `+eventColumns+` FROM events WHERE NOT closed AND day < $1 ORDER BY day`, day)
}

// EventsFrom lists events on or after day.
func (r *Repository) EventsFrom(ctx context.Context, day time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.listEvents(ctx, "list events",
		`SELECT `+eventColumns+` FROM events WHERE day >= $1 ORDER BY day LIMIT $2`, day, limit)
}

// FindAttendance looks up the row for an exact (student, event) pair.
func (r *Repository) FindAttendance(ctx context.Context, studentID, eventID string) (*Attendance, error) {
	att := Attendance{StudentID: studentID, EventID: eventID}
	err := r.db.QueryRowContext(ctx, `
		SELECT arrival_time FROM attendance WHERE student_id = $1 AND event_id = $2
	`, studentID, eventID).Scan(&att.ArrivalTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get attendance", err)
	}
	return &att, nil
}

// RecordAttendance inserts the check-in and commits in one transaction.
// The event row is share-locked so a concurrent close cannot slip between the
// closed check and the insert.
func (r *Repository) RecordAttendance(ctx context.Context, att *Attendance) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var closed bool
	err = tx.QueryRowContext(ctx, `SELECT closed FROM events WHERE id = $1 FOR SHARE`, att.EventID).Scan(&closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, storageErr("lock event", err)
	}
	if closed {
		return false, ErrEventClosed
	}

	created := true
	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, event_id, arrival_time)
		VALUES ($1,$2,$3)
		ON CONFLICT (student_id, event_id) DO NOTHING
		RETURNING arrival_time
	`, att.StudentID, att.EventID, att.ArrivalTime).Scan(&att.ArrivalTime)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = tx.QueryRowContext(ctx, `
			SELECT arrival_time FROM attendance WHERE student_id = $1 AND event_id = $2
		`, att.StudentID, att.EventID).Scan(&att.ArrivalTime)
	}
	if err != nil {
		return false, storageErr("insert attendance", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storageErr("commit attendance", err)
	}
	return created, nil
}

// Roster returns the event's attendance joined with students, latest first.
func (r *Repository) Roster(ctx context.Context, eventID string) ([]RosterEntry, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.arrival_time, s.id, s.reg_num, s.firstname, s.lastname, s.phone_number, s.department, s.level, s.created_at
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		WHERE a.event_id = $1
		ORDER BY a.arrival_time DESC
	`, eventID)
	if err != nil {
		return nil, storageErr("roster", err)
	}
	defer rows.Close()
	var res []RosterEntry
	for rows.Next() {
		var e RosterEntry
		var level int
		s := &e.Student
		if err := rows.Scan(&e.ArrivalTime, &s.ID, &s.RegNum, &s.Firstname, &s.Lastname, &s.PhoneNumber, &s.Department, &level, &s.CreatedAt); err != nil {
			return nil, storageErr("roster", err)
		}
		s.Level = Level(level)
		e.StudentID, e.EventID = s.ID, eventID
		res = append(res, e)
	}
	return res, storageErr("roster", rows.Err())
}

// StudentHistory lists a student's check-ins, latest first.
func (r *Repository) StudentHistory(ctx context.Context, studentID string, limit int) ([]Attendance, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, event_id, arrival_time FROM attendance
		WHERE student_id = $1
		ORDER BY arrival_time DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()
	var res []Attendance
	for rows.Next() {
		var att Attendance
		if err := rows.Scan(&att.StudentID, &att.EventID, &att.ArrivalTime); err != nil {
			return nil, storageErr("history", err)
		}
		res = append(res, att)
	}
	return res, storageErr("history", rows.Err())
}
