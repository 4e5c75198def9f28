package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/session"
)

type mockLifecycle struct {
	mu        sync.Mutex
	activated []string
	closed    []string
	failIDs   map[string]bool
}

func (m *mockLifecycle) Activate(_ context.Context, id string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return session.Session{}, errors.New("boom")
	}
	m.activated = append(m.activated, id)
	return session.Session{ID: id, Status: session.StatusActive}, nil
}

func (m *mockLifecycle) Close(_ context.Context, id string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return session.Session{}, errors.New("boom")
	}
	m.closed = append(m.closed, id)
	return session.Session{ID: id, Status: session.StatusCompleted}, nil
}

type mockDue struct {
	toActivate []session.Session
	toClose    []session.Session
}

func (m *mockDue) ListSessionsDueToActivate(_ context.Context, _ time.Time) ([]session.Session, error) {
	return m.toActivate, nil
}

func (m *mockDue) ListSessionsDueToClose(_ context.Context, _ time.Time) ([]session.Session, error) {
	return m.toClose, nil
}

func TestRunSweep_ActivatesAndCloses(t *testing.T) {
	lc := &mockLifecycle{}
	due := &mockDue{
		toActivate: []session.Session{{ID: "s1"}, {ID: "s2"}},
		toClose:    []session.Session{{ID: "s3"}},
	}
	New(lc, due, time.Minute).RunSweep(context.Background())

	if len(lc.activated) != 2 {
		t.Errorf("activated %v, want s1 and s2", lc.activated)
	}
	if len(lc.closed) != 1 || lc.closed[0] != "s3" {
		t.Errorf("closed %v, want [s3]", lc.closed)
	}
}

// One failing session must not block the rest of the sweep.
func TestRunSweep_IsolatesFailures(t *testing.T) {
	lc := &mockLifecycle{failIDs: map[string]bool{"bad": true}}
	due := &mockDue{
		toActivate: []session.Session{{ID: "bad"}, {ID: "good-1"}},
		toClose:    []session.Session{{ID: "bad"}, {ID: "good-2"}},
	}
	New(lc, due, time.Minute).RunSweep(context.Background())

	if len(lc.activated) != 1 || lc.activated[0] != "good-1" {
		t.Errorf("activated %v, want [good-1]", lc.activated)
	}
	if len(lc.closed) != 1 || lc.closed[0] != "good-2" {
		t.Errorf("closed %v, want [good-2]", lc.closed)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	lc := &mockLifecycle{}
	due := &mockDue{}
	s := New(lc, due, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
