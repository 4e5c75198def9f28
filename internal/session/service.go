package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"classattend/internal/feed"
	"classattend/internal/roster"
)

// DefaultGracePeriod is how long after activation a check-in still counts as
// PRESENT. Measured from the actual activation time, not the scheduled start.
const DefaultGracePeriod = 15 * time.Minute

// Service owns the session state machine and the check-in path. Transitions
// are serialized per session by the store's conditional status writes, so the
// service itself holds no locks and stays correct across process instances.
type Service struct {
	store  Store
	roster roster.Directory
	feed   feed.Publisher
	grace  time.Duration
	now    func() time.Time
}

// NewService creates a service backed by a store and the roster directory.
func NewService(store Store, dir roster.Directory, pub feed.Publisher, grace time.Duration) *Service {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Service{
		store:  store,
		roster: dir,
		feed:   pub,
		grace:  grace,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new SCHEDULED session for a class meeting.
func (s *Service) Create(ctx context.Context, classroomID, teacherID string, start, end time.Time, gf *Geofence) (Session, error) {
	if classroomID == "" || teacherID == "" {
		return Session{}, invalidArgf("classroom and teacher required")
	}
	if !start.Before(end) {
		return Session{}, invalidArgf("scheduled start must be before scheduled end")
	}
	if gf != nil && gf.RadiusMeters <= 0 {
		return Session{}, invalidArgf("geofence radius must be positive")
	}
	owner, err := s.roster.ClassroomOwner(ctx, classroomID)
	if err != nil {
		if err == roster.ErrNotFound {
			return Session{}, notFoundf("classroom %s not found", classroomID)
		}
		return Session{}, err
	}
	if owner != teacherID {
		return Session{}, forbiddenf("user %s does not own classroom %s", teacherID, classroomID)
	}
	return s.store.CreateSession(ctx, Session{
		ClassroomID:    classroomID,
		TeacherID:      teacherID,
		ScheduledStart: start.UTC(),
		ScheduledEnd:   end.UTC(),
		Status:         StatusScheduled,
		Geofence:       gf,
	})
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.store.GetSession(ctx, id)
}

// Activate transitions SCHEDULED → ACTIVE, stamps the actual start, and
// auto-marks the teacher PRESENT. The teacher is exempt from geofencing.
func (s *Service) Activate(ctx context.Context, id string) (Session, error) {
	now := s.now()
	sess, err := s.store.UpdateSessionStatus(ctx, id, StatusScheduled, StatusActive, now)
	if err != nil {
		return Session{}, err
	}
	if _, _, err := s.store.InsertRecordIfAbsent(ctx, Record{
		SessionID:   sess.ID,
		UserID:      sess.TeacherID,
		Status:      RecordPresent,
		CheckedInAt: &now,
	}); err != nil {
		log.Printf("auto-mark teacher for session %s failed: %v", sess.ID, err)
	}
	s.publish(ctx, feed.TypeSessionActivated, sess)
	return sess, nil
}

// Close transitions ACTIVE → COMPLETED, stamps the actual end, and finalizes:
// every enrolled user without a record gets an ABSENT row with no check-in
// time. The transition and the back-fill commit as one atomic unit, so a
// failure anywhere leaves the session ACTIVE and the close retryable; once
// Close returns, the record set for the session is complete.
func (s *Service) Close(ctx context.Context, id string) (Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status != StatusActive {
		return Session{}, invalidStatef("session %s is %s, expected %s", id, sess.Status, StatusActive)
	}
	enrolled, err := s.roster.EnrolledUserIDs(ctx, sess.ClassroomID)
	if err != nil {
		return Session{}, err
	}
	closed, err := s.store.CloseSession(ctx, id, s.now(), enrolled)
	if err != nil {
		return Session{}, err
	}
	s.publish(ctx, feed.TypeSessionCompleted, closed)
	return closed, nil
}

// Cancel transitions SCHEDULED → CANCELLED.
func (s *Service) Cancel(ctx context.Context, id string) (Session, error) {
	sess, err := s.store.UpdateSessionStatus(ctx, id, StatusScheduled, StatusCancelled, s.now())
	if err != nil {
		return Session{}, err
	}
	s.publish(ctx, feed.TypeSessionCancelled, sess)
	return sess, nil
}

// Remove deletes a session. An ACTIVE session is never deleted; the window
// has to be closed or cancelled first.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id, StatusActive)
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.feed == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("feed marshal failed: %v", err)
		return
	}
	if err := s.feed.Publish(ctx, feed.Event{Type: eventType, Body: body}); err != nil {
		log.Printf("feed publish failed: %v", err)
	}
}
