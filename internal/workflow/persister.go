package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediadesk/internal/logging"
	"mediadesk/internal/queue"
)

const persistTimeout = 30 * time.Second

// persister writes job list snapshots on its own goroutine. Snapshots that
// arrive while a write is running collapse into the newest one and their
// change sets are combined, so storage is at most one write behind the
// in-memory list. Writes merge into the stored list rather than replacing
// it, which keeps jobs that other processes added or changed.
type persister struct {
	repo   *queue.Repository
	logger *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []queue.Job
	changes    queue.Changes
	hasPending bool
	requested  uint64
	written    uint64
	lastErr    error
	closed     bool
	done       chan struct{}
}

func newPersister(repo *queue.Repository, logger *slog.Logger) *persister {
	p := &persister{repo: repo, logger: logger, changes: queue.NewChanges(), done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	go p.loop()
	return p
}

// Schedule queues a snapshot and the jobs the mutation touched for writing.
// It never blocks on storage.
func (p *persister) Schedule(jobs []queue.Job, changes queue.Changes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Debug("persister closed; snapshot dropped", logging.Int("jobs", len(jobs)))
		return
	}
	p.pending = jobs
	p.changes.Add(changes)
	p.hasPending = true
	p.requested++
	p.cond.Broadcast()
}

// Flush blocks until every snapshot scheduled so far has been written or has
// failed, returning the most recent write error.
func (p *persister) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.requested
	for p.written < target {
		p.cond.Wait()
	}
	return p.lastErr
}

// Close writes any pending snapshot and stops the goroutine.
func (p *persister) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *persister) loop() {
	defer close(p.done)
	p.mu.Lock()
	for {
		for !p.hasPending && !p.closed {
			p.cond.Wait()
		}
		if !p.hasPending {
			p.mu.Unlock()
			return
		}
		jobs, changes, generation := p.pending, p.changes, p.requested
		p.pending, p.changes, p.hasPending = nil, queue.NewChanges(), false
		p.mu.Unlock()

		err := p.write(jobs, changes)

		p.mu.Lock()
		if err != nil {
			// Keep the failed change set so the next write still carries it.
			changes.Add(p.changes)
			p.changes = changes
		}
		p.lastErr = err
		p.written = generation
		p.cond.Broadcast()
	}
}

func (p *persister) write(jobs []queue.Job, changes queue.Changes) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	evicted, err := p.repo.Merge(ctx, jobs, changes)
	if err != nil {
		logging.WarnWithContext(p.logger, "job list write failed; will retry on next change", "persist_failed",
			logging.Error(err),
			logging.Int("jobs", len(jobs)),
			logging.Hint("check disk space and state_dir permissions"),
			logging.Impact("recent job changes are not yet saved"),
		)
		return err
	}
	if evicted > 0 {
		p.logger.Debug("persisted list trimmed", logging.Int("evicted", evicted))
	}
	return nil
}
