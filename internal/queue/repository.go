package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Key prefixes for the persisted job document. The user id is appended.
const (
	KeyPrefix       = "jobs.v2:"
	LegacyKeyPrefix = "jobs.v1:"
)

// Repository persists one user's job list through a Store.
type Repository struct {
	store        *Store
	userID       string
	maxPersisted int
}

// NewRepository binds a repository to a user id and ring-buffer bound.
func NewRepository(store *Store, userID string, maxPersisted int) *Repository {
	return &Repository{store: store, userID: strings.TrimSpace(userID), maxPersisted: maxPersisted}
}

// Key returns the current-schema key for this user.
func (r *Repository) Key() string { return KeyPrefix + r.userID }

// LegacyKey returns the legacy-schema key for this user.
func (r *Repository) LegacyKey() string { return LegacyKeyPrefix + r.userID }

// MaxPersisted returns the ring-buffer bound.
func (r *Repository) MaxPersisted() int { return r.maxPersisted }

// Write stores jobs under the current key after applying the ring-buffer
// bound. It returns how many records were evicted.
func (r *Repository) Write(ctx context.Context, jobs []Job) (int, error) {
	bounded, evicted := Bound(jobs, r.maxPersisted)
	payload, err := encodeJobs(bounded)
	if err != nil {
		return 0, err
	}
	if err := r.store.PutValue(ctx, r.Key(), payload); err != nil {
		return 0, fmt.Errorf("write jobs: %w", err)
	}
	return evicted, nil
}

// Merge folds one writer's changes into the stored list inside a single
// transaction. Records the writer did not touch keep whatever another
// process stored, so concurrent writers only ever overwrite each other one
// job at a time. It returns how many records the ring-buffer bound evicted.
func (r *Repository) Merge(ctx context.Context, local []Job, changes Changes) (int, error) {
	var evicted int
	err := r.store.UpdateValue(ctx, r.Key(), func(current string, found bool) (string, error) {
		var stored []Job
		if found {
			stored = DecodeJobs([]byte(current))
		}
		var bounded []Job
		bounded, evicted = Bound(MergeJobs(stored, local, changes), r.maxPersisted)
		return encodeJobs(bounded)
	})
	if err != nil {
		return 0, fmt.Errorf("merge jobs: %w", err)
	}
	return evicted, nil
}

// Read loads the job list. When the current key is absent or empty the legacy
// document is migrated: it is converted, written under the current key, and
// the legacy key is deleted. The result is always normalized.
func (r *Repository) Read(ctx context.Context) ([]Job, error) {
	return r.read(ctx, Normalize)
}

// ReadShared is Read for a list another live process may be running jobs
// from. In-flight jobs keep their status instead of being failed.
func (r *Repository) ReadShared(ctx context.Context) ([]Job, error) {
	return r.read(ctx, NormalizeShared)
}

func (r *Repository) read(ctx context.Context, clean func([]Job) []Job) ([]Job, error) {
	value, ok, err := r.store.GetValue(ctx, r.Key())
	if err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	if ok {
		if jobs := DecodeJobs([]byte(value)); len(jobs) > 0 {
			return clean(jobs), nil
		}
	}

	legacy, found, err := r.store.GetValue(ctx, r.LegacyKey())
	if err != nil {
		return nil, fmt.Errorf("read legacy jobs: %w", err)
	}
	if !found {
		return []Job{}, nil
	}
	migrated, _ := Bound(MigrateLegacy([]byte(legacy)), r.maxPersisted)
	payload, err := encodeJobs(migrated)
	if err != nil {
		return nil, err
	}
	if err := r.store.MoveValue(ctx, r.Key(), payload, r.LegacyKey()); err != nil {
		return nil, fmt.Errorf("migrate legacy jobs: %w", err)
	}
	return clean(migrated), nil
}

// Clear removes both the current and legacy documents.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.DeleteValue(ctx, r.Key()); err != nil {
		return err
	}
	return r.store.DeleteValue(ctx, r.LegacyKey())
}

func encodeJobs(jobs []Job) (string, error) {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return "", fmt.Errorf("encode jobs: %w", err)
	}
	return string(data), nil
}
