package workflow

import (
	"context"
	"time"

	"mediadesk/internal/queue"
)

// RecentRefresher records successful jobs in the user's recent media list.
type RecentRefresher struct {
	Store  *queue.Store
	UserID string
	Limit  int
	Now    func() time.Time
}

// Refresh records the job's media reference. Jobs without one are ignored.
func (r RecentRefresher) Refresh(ctx context.Context, job queue.Job) error {
	if r.Store == nil || job.MediaKey == "" {
		return nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Store.RecordRecent(ctx, r.UserID, queue.RecentEntry{
		MediaKey:   job.MediaKey,
		JobID:      job.ID,
		Kind:       job.Kind,
		Title:      job.Title,
		CaseID:     job.CaseLabel(),
		RecordedAt: now().UTC(),
	}, r.Limit)
}
