package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, classroom_id, teacher_id, scheduled_start, scheduled_end,
	started_at, ended_at, status, geo_lat, geo_lon, geo_radius_m, version, created_at`

// CreateSession inserts a new session row.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	var lat, lon, radius *float64
	if s.Geofence != nil {
		lat, lon, radius = &s.Geofence.Lat, &s.Geofence.Lon, &s.Geofence.RadiusMeters
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, classroom_id, teacher_id, scheduled_start, scheduled_end, status, geo_lat, geo_lon, geo_radius_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, s.ID, s.ClassroomID, s.TeacherID, s.ScheduledStart, s.ScheduledEnd, s.Status, lat, lon, radius)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	s.Version = 1
	return s, nil
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, notFoundf("session %s not found", id)
		}
		return Session{}, err
	}
	return s, nil
}

// UpdateSessionStatus performs the conditional transition write. The WHERE
// clause carries the expected current status, so two concurrent transitions
// for the same session cannot both succeed.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, from, to Status, at time.Time) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = $3,
		    started_at = CASE WHEN $3 = 'ACTIVE' THEN $4 ELSE started_at END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns+`
	`, id, from, to, at)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	return Session{}, r.transitionConflict(ctx, id, from)
}

// CloseSession flips ACTIVE → COMPLETED and back-fills ABSENT records in one
// transaction. Rolling back on any failure keeps the session ACTIVE, so a
// half-finalized COMPLETED session cannot exist and the close stays
// retryable. ON CONFLICT DO NOTHING keeps a check-in that committed first.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time, enrolled []string) (Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'COMPLETED',
		    ended_at = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+sessionColumns+`
	`, id, at)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, r.transitionConflict(ctx, id, StatusActive)
		}
		return Session{}, err
	}

	for _, userID := range enrolled {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (session_id, user_id, status)
			VALUES ($1, $2, 'ABSENT')
			ON CONFLICT (session_id, user_id) DO NOTHING
		`, id, userID); err != nil {
			return Session{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// transitionConflict reports why a conditional transition write matched no
// row: either the session is gone or another transition won.
func (r *Repository) transitionConflict(ctx context.Context, id string, expected Status) error {
	current, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return invalidStatef("session %s is %s, expected %s", id, current.Status, expected)
}

// DeleteSession removes a session unless it is in the protected state.
func (r *Repository) DeleteSession(ctx context.Context, id string, notWhile Status) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND status <> $2`, id, notWhile)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	current, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return invalidStatef("session %s is %s and cannot be removed", id, current.Status)
}

// FindRecord returns the record for (session, user), or nil when absent.
func (r *Repository) FindRecord(ctx context.Context, sessionID, userID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, status, checked_in_at, lat, lon, created_at
		FROM attendance_records
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertRecordIfAbsent writes rec unless the (session, user) pair already has
// a row. The unique constraint plus ON CONFLICT DO NOTHING makes the decision
// in one atomic statement; concurrent duplicates resolve to a single row no
// matter how many process instances race.
func (r *Repository) InsertRecordIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (session_id, user_id, status, checked_in_at, lat, lon)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id, user_id) DO NOTHING
		RETURNING created_at
	`, rec.SessionID, rec.UserID, rec.Status, rec.CheckedInAt, rec.Lat, rec.Lon)
	err := row.Scan(&rec.CreatedAt)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, err
	}
	existing, err := r.FindRecord(ctx, rec.SessionID, rec.UserID)
	if err != nil {
		return Record{}, false, err
	}
	if existing == nil {
		// Lost the conflict but cannot see the winner yet; treat as a
		// storage error rather than inventing a row.
		return Record{}, false, errors.New("record insert conflicted but row not visible")
	}
	return *existing, false, nil
}

// ListRecords returns every record for a session.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, user_id, status, checked_in_at, lat, lon, created_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY user_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.Status, &rec.CheckedInAt, &rec.Lat, &rec.Lon, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListSessionsDueToActivate returns SCHEDULED sessions whose start has passed.
func (r *Repository) ListSessionsDueToActivate(ctx context.Context, now time.Time) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'SCHEDULED' AND scheduled_start <= $1
		ORDER BY scheduled_start
	`, now)
}

// ListSessionsDueToClose returns ACTIVE sessions whose end has passed.
func (r *Repository) ListSessionsDueToClose(ctx context.Context, now time.Time) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'ACTIVE' AND scheduled_end <= $1
		ORDER BY scheduled_end
	`, now)
}

// CountCompletedSessions returns how many sessions a classroom has closed.
func (r *Repository) CountCompletedSessions(ctx context.Context, classroomID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE classroom_id = $1 AND status = 'COMPLETED'
	`, classroomID).Scan(&n)
	return n, err
}

// CountMarkedByUser counts PRESENT/LATE records per user over a classroom's
// completed sessions.
func (r *Repository) CountMarkedByUser(ctx context.Context, classroomID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ar.user_id, COUNT(*)
		FROM attendance_records ar
		JOIN sessions s ON s.id = ar.session_id
		WHERE s.classroom_id = $1 AND s.status = 'COMPLETED' AND ar.status IN ('PRESENT','LATE')
		GROUP BY ar.user_id
	`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var n int
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, err
		}
		counts[userID] = n
	}
	return counts, rows.Err()
}

func (r *Repository) listSessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var lat, lon, radius *float64
	if err := row.Scan(&s.ID, &s.ClassroomID, &s.TeacherID, &s.ScheduledStart, &s.ScheduledEnd,
		&s.StartedAt, &s.EndedAt, &s.Status, &lat, &lon, &radius, &s.Version, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	if lat != nil && lon != nil && radius != nil {
		s.Geofence = &Geofence{Lat: *lat, Lon: *lon, RadiusMeters: *radius}
	}
	return s, nil
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.SessionID, &rec.UserID, &rec.Status, &rec.CheckedInAt, &rec.Lat, &rec.Lon, &rec.CreatedAt)
	return rec, err
}
