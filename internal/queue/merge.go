package queue

// Changes names the jobs one writer touched since its last write.
type Changes struct {
	// Updated jobs replace the stored record with the same id. A job that
	// is no longer stored was removed by another writer and stays removed.
	Updated map[string]struct{}
	// Created jobs are appended when they are not stored yet.
	Created map[string]struct{}
	// Removed jobs are dropped from the stored list.
	Removed map[string]struct{}
}

// NewChanges returns an empty change set.
func NewChanges() Changes {
	return Changes{
		Updated: make(map[string]struct{}),
		Created: make(map[string]struct{}),
		Removed: make(map[string]struct{}),
	}
}

// Empty reports whether nothing was touched.
func (c Changes) Empty() bool {
	return len(c.Updated) == 0 && len(c.Created) == 0 && len(c.Removed) == 0
}

// Update records that id was changed.
func (c Changes) Update(ids ...string) {
	for _, id := range ids {
		if _, gone := c.Removed[id]; !gone {
			c.Updated[id] = struct{}{}
		}
	}
}

// Create records that id was added.
func (c Changes) Create(ids ...string) {
	for _, id := range ids {
		delete(c.Removed, id)
		c.Created[id] = struct{}{}
	}
}

// Remove records that id was deleted.
func (c Changes) Remove(ids ...string) {
	for _, id := range ids {
		delete(c.Updated, id)
		delete(c.Created, id)
		c.Removed[id] = struct{}{}
	}
}

// Add folds other into c.
func (c Changes) Add(other Changes) {
	for id := range other.Created {
		c.Create(id)
	}
	for id := range other.Updated {
		c.Update(id)
	}
	for id := range other.Removed {
		c.Remove(id)
	}
}

func (c Changes) touched(id string) bool {
	if _, ok := c.Updated[id]; ok {
		return true
	}
	_, ok := c.Created[id]
	return ok
}

// MergeJobs applies a writer's changes to the stored list. Stored order is
// kept; records the writer did not touch are returned unchanged, and new
// jobs follow in the writer's list order.
func MergeJobs(stored, local []Job, changes Changes) []Job {
	mine := make(map[string]Job, len(local))
	for _, job := range local {
		mine[job.ID] = job
	}

	out := make([]Job, 0, len(stored)+len(changes.Created))
	present := make(map[string]struct{}, len(stored))
	for _, job := range stored {
		if _, gone := changes.Removed[job.ID]; gone {
			continue
		}
		if _, dup := present[job.ID]; dup {
			continue
		}
		present[job.ID] = struct{}{}
		if changes.touched(job.ID) {
			if updated, ok := mine[job.ID]; ok {
				job = updated
			}
		}
		out = append(out, job)
	}
	for _, job := range local {
		if _, ok := present[job.ID]; ok {
			continue
		}
		if _, created := changes.Created[job.ID]; !created {
			continue
		}
		present[job.ID] = struct{}{}
		out = append(out, job)
	}
	return out
}
