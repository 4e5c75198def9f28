package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"classattend/internal/roster"
)

// Reporter aggregates attendance outcomes. Read-only; its numbers are only
// meaningful because finalization guarantees every completed session carries
// a record for every enrolled participant.
type Reporter struct {
	store    Store
	roster   roster.Directory
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewReporter creates a reporter. cache may be nil; summaries are then always
// computed from the store.
func NewReporter(store Store, dir roster.Directory, cache *redis.Client, cacheTTL time.Duration) *Reporter {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Reporter{store: store, roster: dir, cache: cache, cacheTTL: cacheTTL}
}

// SummaryByStatus returns record counts per status for one session. Completed
// sessions are immutable, so their summaries are cached briefly in Redis.
func (r *Reporter) SummaryByStatus(ctx context.Context, sessionID string) (map[RecordStatus]int, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cacheable := sess.Status == StatusCompleted && r.cache != nil
	cacheKey := "classattend:summary:" + sessionID
	if cacheable {
		if raw, err := r.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var summary map[RecordStatus]int
			if json.Unmarshal(raw, &summary) == nil {
				return summary, nil
			}
		}
	}

	records, err := r.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := map[RecordStatus]int{RecordPresent: 0, RecordLate: 0, RecordAbsent: 0}
	for _, rec := range records {
		summary[rec.Status]++
	}

	if cacheable {
		if raw, err := json.Marshal(summary); err == nil {
			r.cache.Set(ctx, cacheKey, raw, r.cacheTTL)
		}
	}
	return summary, nil
}

// AttendancePercentage returns, per enrolled user, the share of the
// classroom's completed sessions the user was present or late for, as a
// percentage in [0, 100]. Users enrolled after earlier sessions closed count
// those sessions as missed.
func (r *Reporter) AttendancePercentage(ctx context.Context, classroomID string) (map[string]float64, error) {
	enrolled, err := r.roster.EnrolledUserIDs(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	completed, err := r.store.CountCompletedSessions(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	counts, err := r.store.CountMarkedByUser(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	result := make(map[string]float64, len(enrolled))
	for _, userID := range enrolled {
		if completed == 0 {
			result[userID] = 0
			continue
		}
		result[userID] = float64(counts[userID]) / float64(completed) * 100
	}
	return result, nil
}
