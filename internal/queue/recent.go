package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecentEntry is one successfully produced media reference.
type RecentEntry struct {
	MediaKey   string    `json:"media_key"`
	JobID      string    `json:"job_id"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	CaseID     string    `json:"case_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordRecent upserts a media reference for the user and keeps only the
// newest limit entries. limit <= 0 keeps everything.
func (s *Store) RecordRecent(ctx context.Context, userID string, entry RecentEntry, limit int) error {
	if strings.TrimSpace(entry.MediaKey) == "" {
		return errors.New("record recent: media key is required")
	}
	recorded := entry.RecordedAt
	if recorded.IsZero() {
		recorded = s.now()
	}
	var caseID any
	if entry.CaseID != "" {
		caseID = entry.CaseID
	}
	err := s.exec(ctx,
		`INSERT INTO recent_media (user_id, media_key, job_id, kind, title, case_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, media_key) DO UPDATE SET
		   job_id = excluded.job_id, kind = excluded.kind, title = excluded.title,
		   case_id = excluded.case_id, recorded_at = excluded.recorded_at`,
		userID, entry.MediaKey, entry.JobID, string(entry.Kind), entry.Title, caseID,
		recorded.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("record recent: %w", err)
	}
	if limit <= 0 {
		return nil
	}
	err = s.exec(ctx,
		`DELETE FROM recent_media WHERE user_id = ? AND media_key NOT IN (
		   SELECT media_key FROM recent_media WHERE user_id = ? ORDER BY recorded_at DESC LIMIT ?)`,
		userID, userID, limit)
	if err != nil {
		return fmt.Errorf("prune recent: %w", err)
	}
	return nil
}

// RecentMedia lists the newest entries first.
func (s *Store) RecentMedia(ctx context.Context, userID string, limit int) ([]RecentEntry, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT media_key, job_id, kind, title, case_id, recorded_at
		 FROM recent_media WHERE user_id = ? ORDER BY recorded_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent media: %w", err)
	}
	defer rows.Close()

	var out []RecentEntry
	for rows.Next() {
		var (
			entry    RecentEntry
			kind     string
			caseID   sql.NullString
			recorded string
		)
		if err := rows.Scan(&entry.MediaKey, &entry.JobID, &kind, &entry.Title, &caseID, &recorded); err != nil {
			return nil, fmt.Errorf("scan recent media: %w", err)
		}
		entry.Kind = Kind(kind)
		entry.CaseID = caseID.String
		if ts, err := time.Parse(timestampLayout, recorded); err == nil {
			entry.RecordedAt = ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
