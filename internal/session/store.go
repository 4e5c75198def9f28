package session

import (
	"context"
	"time"
)

// Store is the persistence contract for sessions and attendance records.
// The two write paths with concurrency hazards are expressed as single
// storage operations: UpdateSessionStatus is a conditional write that fails
// cleanly when another transition got there first, and InsertRecordIfAbsent
// resolves duplicate check-ins at the storage layer rather than by a
// check-then-act pair in application code.
type Store interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)

	// UpdateSessionStatus transitions id from expected `from` to `to` in one
	// conditional write. When `to` is ACTIVE the actual start is set to `at`.
	// A session in any other state fails with InvalidState; a missing session
	// with NotFound.
	UpdateSessionStatus(ctx context.Context, id string, from, to Status, at time.Time) (Session, error)

	// CloseSession transitions id from ACTIVE to COMPLETED, sets the actual
	// end to `at`, and back-fills an ABSENT record for every enrolled user
	// lacking one — all in a single atomic unit. If anything fails the
	// session stays ACTIVE and the close can be retried; a COMPLETED session
	// is never left with an incomplete record set.
	CloseSession(ctx context.Context, id string, at time.Time, enrolled []string) (Session, error)

	// DeleteSession removes id unless its current status equals notWhile.
	DeleteSession(ctx context.Context, id string, notWhile Status) error

	FindRecord(ctx context.Context, sessionID, userID string) (*Record, error)

	// InsertRecordIfAbsent atomically inserts rec unless a record for the
	// (session, user) pair exists. It returns the surviving row and whether
	// this call inserted it.
	InsertRecordIfAbsent(ctx context.Context, rec Record) (Record, bool, error)

	ListRecords(ctx context.Context, sessionID string) ([]Record, error)

	ListSessionsDueToActivate(ctx context.Context, now time.Time) ([]Session, error)
	ListSessionsDueToClose(ctx context.Context, now time.Time) ([]Session, error)

	CountCompletedSessions(ctx context.Context, classroomID string) (int, error)

	// CountMarkedByUser returns, per user, how many PRESENT or LATE records
	// exist across the classroom's completed sessions.
	CountMarkedByUser(ctx context.Context, classroomID string) (map[string]int, error)
}
