package session

import (
	"context"

	"classattend/internal/feed"
	"classattend/internal/geo"
)

// CheckIn validates and records one participant's presence against an active
// session. The returned bool reports whether this call created the record;
// false means the participant was already marked and the existing record is
// returned unchanged (an idempotent no-op, not a failure).
func (s *Service) CheckIn(ctx context.Context, sessionID, userID string, loc *Location) (Record, bool, error) {
	if userID == "" {
		return Record{}, false, invalidArgf("user required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Record{}, false, err
	}
	if sess.Status != StatusActive {
		return Record{}, false, invalidStatef("session not active")
	}

	// The owning teacher may always check in and skips the geofence; anyone
	// else must be enrolled in the classroom.
	exempt := userID == sess.TeacherID
	if !exempt {
		enrolled, err := s.roster.EnrolledUserIDs(ctx, sess.ClassroomID)
		if err != nil {
			return Record{}, false, err
		}
		member := false
		for _, id := range enrolled {
			if id == userID {
				member = true
				break
			}
		}
		if !member {
			return Record{}, false, forbiddenf("user %s is not a participant of classroom %s", userID, sess.ClassroomID)
		}
	}

	if sess.Geofence != nil && !exempt {
		if loc == nil {
			return Record{}, false, invalidArgf("location required for this session")
		}
		gf := sess.Geofence
		if !geo.WithinRadius(gf.Lat, gf.Lon, loc.Lat, loc.Lon, gf.RadiusMeters) {
			return Record{}, false, invalidArgf("outside geofence")
		}
	}

	now := s.now()
	status := RecordLate
	if sess.StartedAt != nil && !now.After(sess.StartedAt.Add(s.grace)) {
		status = RecordPresent
	}

	rec := Record{
		SessionID:   sess.ID,
		UserID:      userID,
		Status:      status,
		CheckedInAt: &now,
	}
	if loc != nil && !exempt {
		lat, lon := loc.Lat, loc.Lon
		rec.Lat, rec.Lon = &lat, &lon
	}

	rec, inserted, err := s.store.InsertRecordIfAbsent(ctx, rec)
	if err != nil {
		return Record{}, false, err
	}
	if inserted {
		checkinsTotal.WithLabelValues(string(rec.Status)).Inc()
		s.publish(ctx, feed.TypeAttendanceMarked, rec)
	}
	return rec, inserted, nil
}
