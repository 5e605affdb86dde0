package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"mediadesk/internal/config"
	"mediadesk/internal/fileutil"
	"mediadesk/internal/logging"
)

const (
	writersDir   = "writers"
	lockFileName = "writer.lock"
	metaDir      = ".mediadesk"
)

// Roles a writer announces in its liveness file.
const (
	RoleEdit = "edit"
	RoleRun  = "run"
)

// Peer describes another live writer.
type Peer struct {
	SessionID string    `json:"session"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Role      string    `json:"role,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runs reports whether the peer is processing jobs.
func (p Peer) Runs() bool { return p.Role == RoleRun }

// ConflictFunc is called when a new concurrent writer is detected.
type ConflictFunc func(Peer)

// Coordinator maintains this process's liveness signal for one workspace.
type Coordinator struct {
	dir        string
	lock       *flock.Flock
	session    string
	role       string
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
	started    time.Time

	mu         sync.Mutex
	onConflict ConflictFunc
	notified   map[string]struct{}
	peers      []Peer
	holdsLock  bool
	active     bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(c *Coordinator) { c.session = id }
}

// WithRole sets the role announced to other writers. The default is RoleEdit.
func WithRole(role string) Option {
	return func(c *Coordinator) { c.role = role }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTiming overrides the refresh interval and stale threshold.
func WithTiming(interval, staleAfter time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = interval
		c.staleAfter = staleAfter
	}
}

// New builds a coordinator for the workspace at root.
func New(root string, cfg *config.Config, logger *slog.Logger, opts ...Option) *Coordinator {
	meta := filepath.Join(root, metaDir)
	c := &Coordinator{
		dir:        filepath.Join(meta, writersDir),
		lock:       flock.New(filepath.Join(meta, lockFileName)),
		session:    uuid.NewString(),
		role:       RoleEdit,
		interval:   time.Duration(cfg.Workspace.CoordinatorIntervalSeconds) * time.Second,
		staleAfter: time.Duration(cfg.Workspace.CoordinatorStaleSeconds) * time.Second,
		logger:     logging.NewComponentLogger(logger, "coordinator"),
		now:        time.Now,
		notified:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns this process's writer id.
func (c *Coordinator) SessionID() string { return c.session }

// Setup registers the liveness signal, performs a first conflict check and
// keeps refreshing until Cleanup or ctx ends.
func (c *Coordinator) Setup(ctx context.Context, onConflict ConflictFunc) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.New("coordinator already set up")
	}
	c.active = true
	c.onConflict = onConflict
	c.started = c.now().UTC()
	c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.deactivate()
		return fmt.Errorf("create writers dir: %w", err)
	}
	if err := c.beat(); err != nil {
		c.deactivate()
		return err
	}
	c.Check()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	go c.loop(loopCtx, done)
	return nil
}

// Cleanup stops refreshing, removes the liveness file and releases the
// writer lock. It is safe to call more than once.
func (c *Coordinator) Cleanup() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if err := os.Remove(c.livenessPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove liveness file: %w", err))
	}
	c.mu.Lock()
	if c.holdsLock {
		if err := c.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release writer lock: %w", err))
		}
		c.holdsLock = false
	}
	c.mu.Unlock()
	c.deactivate()
	return errors.Join(errs...)
}

// Check refreshes the liveness file, retries the writer lock and scans for
// peers, firing the conflict callback for newly seen ones. It returns the
// currently live peers.
func (c *Coordinator) Check() []Peer {
	if err := c.beat(); err != nil {
		logging.WarnWithContext(c.logger, "liveness refresh failed", "coordinator_heartbeat_failed",
			logging.Error(err),
			logging.Impact("other processes may not see this writer"),
		)
	}
	c.tryLock()

	peers := c.scan()
	var fresh []Peer
	c.mu.Lock()
	live := make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		live[peer.SessionID] = struct{}{}
		if _, seen := c.notified[peer.SessionID]; !seen {
			c.notified[peer.SessionID] = struct{}{}
			fresh = append(fresh, peer)
		}
	}
	for id := range c.notified {
		if _, ok := live[id]; !ok {
			delete(c.notified, id)
		}
	}
	c.peers = peers
	onConflict := c.onConflict
	c.mu.Unlock()

	for _, peer := range fresh {
		logging.WarnWithContext(c.logger, "another mediadesk process is writing to this workspace", "writer_conflict",
			logging.String("peer_session", peer.SessionID),
			logging.Int("peer_pid", peer.PID),
			logging.String("peer_host", peer.Host),
			logging.Hint("close the other mediadesk process"),
			logging.Impact("job lists may overwrite each other"),
		)
		if onConflict != nil {
			onConflict(peer)
		}
	}
	return peers
}

// Peers returns the live peers seen by the last check.
func (c *Coordinator) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Peer, len(c.peers))
	copy(out, c.peers)
	return out
}

// Scan returns the live peers without registering this process. It is used
// before deciding whether to write at all.
func (c *Coordinator) Scan() []Peer {
	return c.scan()
}

// HoldsLock reports whether this process owns the writer lock.
func (c *Coordinator) HoldsLock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdsLock
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if c.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check()
		}
	}
}

func (c *Coordinator) deactivate() {
	c.mu.Lock()
	c.active = false
	c.cancel = nil
	c.done = nil
	c.onConflict = nil
	c.notified = make(map[string]struct{})
	c.peers = nil
	c.mu.Unlock()
}

func (c *Coordinator) livenessPath() string {
	return filepath.Join(c.dir, c.session+".json")
}

func (c *Coordinator) beat() error {
	host, _ := os.Hostname()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	data, err := json.Marshal(Peer{
		SessionID: c.session,
		PID:       os.Getpid(),
		Host:      host,
		Role:      c.role,
		StartedAt: started,
		UpdatedAt: c.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(c.livenessPath(), data, 0o644); err != nil {
		return fmt.Errorf("write liveness file: %w", err)
	}
	return nil
}

func (c *Coordinator) tryLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holdsLock {
		return
	}
	ok, err := c.lock.TryLock()
	if err != nil {
		c.logger.Debug("writer lock unavailable", logging.Error(err))
		return
	}
	if ok {
		c.holdsLock = true
		c.logger.Debug("writer lock acquired", logging.String("session", c.session))
	}
}

// scan reads peer liveness files, skipping our own and stale ones.
func (c *Coordinator) scan() []Peer {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Debug("writers dir unreadable", logging.Error(err))
		return nil
	}
	cutoff := c.now().Add(-c.staleAfter)
	var peers []Peer
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if id == c.session {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		var peer Peer
		if err := json.Unmarshal(data, &peer); err != nil || peer.SessionID == "" {
			continue
		}
		if peer.UpdatedAt.Before(cutoff) {
			continue
		}
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].SessionID < peers[j].SessionID })
	return peers
}
