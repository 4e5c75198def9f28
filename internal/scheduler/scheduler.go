// Package scheduler drives time-based session transitions. It is a plain
// client of the lifecycle service acting with system authority; a teacher
// clicking "start" and the sweep activating an overdue session run exactly
// the same code path.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classattend/internal/session"
)

var sweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classattend_sweep_transitions_total",
	Help: "Session transitions attempted by the scheduler sweep.",
}, []string{"action", "outcome"})

// Lifecycle is the slice of the session service the sweeper drives.
type Lifecycle interface {
	Activate(ctx context.Context, id string) (session.Session, error)
	Close(ctx context.Context, id string) (session.Session, error)
}

// Due lists sessions whose scheduled times have passed.
type Due interface {
	ListSessionsDueToActivate(ctx context.Context, now time.Time) ([]session.Session, error)
	ListSessionsDueToClose(ctx context.Context, now time.Time) ([]session.Session, error)
}

// Sweeper periodically activates and closes sessions whose scheduled times
// have passed.
type Sweeper struct {
	lifecycle Lifecycle
	due       Due
	interval  time.Duration
	now       func() time.Time
}

// New creates a sweeper with the given interval (default 1 minute).
func New(lifecycle Lifecycle, due Due, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		lifecycle: lifecycle,
		due:       due,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes sweeps on a fixed ticker until ctx is cancelled. One sweep
// runs immediately on start so overdue sessions are not left waiting a full
// interval after a restart.
func (s *Sweeper) Run(ctx context.Context) {
	s.RunSweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunSweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunSweep performs one pass of both sweeps. A failure on one session is
// logged and counted but never aborts the pass; the remaining due sessions
// still get their transition.
func (s *Sweeper) RunSweep(ctx context.Context) {
	now := s.now()

	due, err := s.due.ListSessionsDueToActivate(ctx, now)
	if err != nil {
		log.Printf("sweep: list due-to-activate failed: %v", err)
	} else {
		for _, sess := range due {
			if _, err := s.lifecycle.Activate(ctx, sess.ID); err != nil {
				sweepTransitions.WithLabelValues("activate", "error").Inc()
				log.Printf("sweep: activate session %s failed: %v", sess.ID, err)
				continue
			}
			sweepTransitions.WithLabelValues("activate", "ok").Inc()
		}
	}

	due, err = s.due.ListSessionsDueToClose(ctx, now)
	if err != nil {
		log.Printf("sweep: list due-to-close failed: %v", err)
		return
	}
	for _, sess := range due {
		if _, err := s.lifecycle.Close(ctx, sess.ID); err != nil {
			sweepTransitions.WithLabelValues("close", "error").Inc()
			log.Printf("sweep: close session %s failed: %v", sess.ID, err)
			continue
		}
		sweepTransitions.WithLabelValues("close", "ok").Inc()
	}
}
