package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"classattend/internal/feed"
	"classattend/internal/roster"
)

// mockStore is an in-memory Store honoring the same atomicity contract as the
// Postgres repository: conditional status writes and insert-if-absent under
// one mutex.
type mockStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	records  map[string]Record
	closeErr error // one-shot CloseSession failure
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: make(map[string]Session),
		records:  make(map[string]Record),
	}
}

func recordKey(sessionID, userID string) string { return sessionID + "|" + userID }

func (m *mockStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	s.Version = 1
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, notFoundf("session %s not found", id)
	}
	return s, nil
}

func (m *mockStore) UpdateSessionStatus(_ context.Context, id string, from, to Status, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, notFoundf("session %s not found", id)
	}
	if s.Status != from {
		return Session{}, invalidStatef("session %s is %s, expected %s", id, s.Status, from)
	}
	s.Status = to
	if to == StatusActive {
		t := at
		s.StartedAt = &t
	}
	s.Version++
	m.sessions[id] = s
	return s, nil
}

// CloseSession is all-or-nothing under the mutex, like the repository's
// transaction: an injected failure leaves the session ACTIVE with no
// records written.
func (m *mockStore) CloseSession(_ context.Context, id string, at time.Time, enrolled []string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		err := m.closeErr
		m.closeErr = nil
		return Session{}, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, notFoundf("session %s not found", id)
	}
	if s.Status != StatusActive {
		return Session{}, invalidStatef("session %s is %s, expected %s", id, s.Status, StatusActive)
	}
	s.Status = StatusCompleted
	t := at
	s.EndedAt = &t
	s.Version++
	m.sessions[id] = s
	for _, userID := range enrolled {
		key := recordKey(id, userID)
		if _, exists := m.records[key]; exists {
			continue
		}
		m.records[key] = Record{
			SessionID: id,
			UserID:    userID,
			Status:    RecordAbsent,
			CreatedAt: time.Now().UTC(),
		}
	}
	return s, nil
}

func (m *mockStore) DeleteSession(_ context.Context, id string, notWhile Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return notFoundf("session %s not found", id)
	}
	if s.Status == notWhile {
		return invalidStatef("session %s is %s and cannot be removed", id, s.Status)
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockStore) FindRecord(_ context.Context, sessionID, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[recordKey(sessionID, userID)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *mockStore) InsertRecordIfAbsent(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(rec.SessionID, rec.UserID)
	if existing, ok := m.records[key]; ok {
		return existing, false, nil
	}
	rec.CreatedAt = time.Now().UTC()
	m.records[key] = rec
	return rec, true, nil
}

func (m *mockStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			res = append(res, rec)
		}
	}
	return res, nil
}

func (m *mockStore) ListSessionsDueToActivate(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.Status == StatusScheduled && !s.ScheduledStart.After(now) {
			res = append(res, s)
		}
	}
	return res, nil
}

func (m *mockStore) ListSessionsDueToClose(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.Status == StatusActive && !s.ScheduledEnd.After(now) {
			res = append(res, s)
		}
	}
	return res, nil
}

func (m *mockStore) CountCompletedSessions(_ context.Context, classroomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.ClassroomID == classroomID && s.Status == StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CountMarkedByUser(_ context.Context, classroomID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.records {
		s, ok := m.sessions[rec.SessionID]
		if !ok || s.ClassroomID != classroomID || s.Status != StatusCompleted {
			continue
		}
		if rec.Status == RecordPresent || rec.Status == RecordLate {
			counts[rec.UserID]++
		}
	}
	return counts, nil
}

// mockDirectory is an in-memory roster.Directory.
type mockDirectory struct {
	owners    map[string]string
	enrolled  map[string][]string
	users     map[string]roster.User
	enrollErr error // one-shot EnrolledUserIDs failure
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		owners:   make(map[string]string),
		enrolled: make(map[string][]string),
		users:    make(map[string]roster.User),
	}
}

func (m *mockDirectory) ClassroomOwner(_ context.Context, classroomID string) (string, error) {
	if owner, ok := m.owners[classroomID]; ok {
		return owner, nil
	}
	return "", roster.ErrNotFound
}

func (m *mockDirectory) EnrolledUserIDs(_ context.Context, classroomID string) ([]string, error) {
	if m.enrollErr != nil {
		err := m.enrollErr
		m.enrollErr = nil
		return nil, err
	}
	return m.enrolled[classroomID], nil
}

func (m *mockDirectory) User(_ context.Context, userID string) (roster.User, error) {
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return roster.User{}, roster.ErrNotFound
}

// mockFeed records published events.
type mockFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (m *mockFeed) Publish(_ context.Context, evt feed.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockFeed) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []string
	for _, evt := range m.events {
		res = append(res, evt.Type)
	}
	return res
}
