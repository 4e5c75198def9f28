package session

import "time"

// Status is the lifecycle state of a session. Transitions are monotonic:
// SCHEDULED → ACTIVE → COMPLETED, with CANCELLED reachable only from SCHEDULED.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// RecordStatus is a participant's outcome for one session.
type RecordStatus string

const (
	RecordPresent RecordStatus = "PRESENT"
	RecordLate    RecordStatus = "LATE"
	RecordAbsent  RecordStatus = "ABSENT"
)

// Geofence is a circular zone a check-in must originate from.
type Geofence struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_m"`
}

// Session is one attendance window for one class meeting.
type Session struct {
	ID             string     `json:"id"`
	ClassroomID    string     `json:"classroom_id"`
	TeacherID      string     `json:"teacher_id"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	ScheduledEnd   time.Time  `json:"scheduled_end"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Status         Status     `json:"status"`
	Geofence       *Geofence  `json:"geofence,omitempty"`
	Version        int        `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Record is one participant's attendance outcome. At most one record exists
// per (session, user) pair; rows are never replaced once written.
type Record struct {
	SessionID   string       `json:"session_id"`
	UserID      string       `json:"user_id"`
	Status      RecordStatus `json:"status"`
	CheckedInAt *time.Time   `json:"checked_in_at,omitempty"`
	Lat         *float64     `json:"lat,omitempty"`
	Lon         *float64     `json:"lon,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Location is a reported check-in coordinate.
type Location struct {
	Lat float64
	Lon float64
}
