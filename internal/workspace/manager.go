package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
)

// State is the connection state of the workspace.
type State string

const (
	StateUnconfigured     State = "unconfigured"
	StateChecking         State = "checking"
	StateReady            State = "ready"
	StatePermissionNeeded State = "permission-needed"
	StateSetupRequired    State = "setup-required"
)

// Outcome is the discriminated result of a connection attempt.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomePermissionPrompt Outcome = "permission-prompt"
	OutcomePermissionDenied Outcome = "permission-denied"
	OutcomeNoHandle         Outcome = "no-handle"
	OutcomeError            Outcome = "error"
)

var (
	// ErrPermissionNeeded means the workspace exists but needs a reconnect.
	ErrPermissionNeeded = errors.New("workspace permission needed")
	// ErrSetupRequired means the workspace reference is missing or unusable.
	ErrSetupRequired = errors.New("workspace setup required")
	// ErrGestureRequired is returned when a gesture-only operation lacks one.
	ErrGestureRequired = errors.New("user gesture required")
)

// Workspace layout directories, relative to the root.
const (
	CasesDir     = "cases"
	ArtifactsDir = "artifacts"
	ExportsDir   = "exports"
	MetaDir      = ".mediadesk"
)

var layoutDirs = []string{CasesDir, ArtifactsDir, ExportsDir, MetaDir}

// Result reports a connection attempt.
type Result struct {
	Outcome Outcome
	Err     error
}

// OK reports whether the workspace is ready.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Gesture proves that an operation was started by an explicit user action.
// The zero value is not a gesture.
type Gesture struct {
	at time.Time
}

// UserGesture records a user action happening now.
func UserGesture() Gesture { return Gesture{at: time.Now()} }

// Valid reports whether g came from UserGesture.
func (g Gesture) Valid() bool { return !g.at.IsZero() }

// HandleOpener builds a handle for a saved root.
type HandleOpener func(root string) Handle

// Status summarises the manager for display.
type Status struct {
	State      State
	Root       string
	Outcome    Outcome
	Persistent bool
	Err        error
}

// Manager owns the workspace handle and its connection state.
type Manager struct {
	refPath        string
	grantPath      string
	requireGesture bool
	logger         *slog.Logger
	opener         HandleOpener
	now            func() time.Time
	group          singleflight.Group

	mu         sync.Mutex
	state      State
	handle     Handle
	root       string
	last       Result
	persistent bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHandleOpener overrides how handles are built from saved roots.
func WithHandleOpener(opener HandleOpener) Option {
	return func(m *Manager) { m.opener = opener }
}

// WithSession overrides the session id used to scope grants.
func WithSession(session func() string) Option {
	return func(m *Manager) { m.opener = dirOpener(m.requireGesture, m.grantPath, session) }
}

// NewManager builds a manager using the reference file under the state
// directory. The state starts unconfigured or checking depending on whether a
// reference exists.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		refPath:        cfg.WorkspaceRefPath(),
		grantPath:      filepath.Join(cfg.Paths.StateDir, "workspace.grant"),
		requireGesture: cfg.Workspace.RequireGesture,
		logger:         logging.NewComponentLogger(logger, "workspace"),
		now:            time.Now,
		state:          StateUnconfigured,
	}
	m.opener = dirOpener(m.requireGesture, m.grantPath, nil)
	for _, opt := range opts {
		opt(m)
	}
	if m.IsConfigured() {
		m.state = StateChecking
	}
	return m
}

func dirOpener(requireGesture bool, grantPath string, session func() string) HandleOpener {
	grants := NewGrantStore(grantPath, session)
	return func(root string) Handle {
		return NewDirHandle(root, requireGesture, grants)
	}
}

// IsConfigured reports whether a workspace reference is saved. It never
// touches the workspace itself.
func (m *Manager) IsConfigured() bool {
	_, ok, err := loadReference(m.refPath)
	return ok && err == nil
}

// SavedRoot returns the root of the saved reference without connecting.
func (m *Manager) SavedRoot() (string, bool) {
	ref, ok, err := loadReference(m.refPath)
	if err != nil || !ok || ref.Root == "" {
		return "", false
	}
	return ref.Root, true
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Root returns the workspace root once a reference has been loaded.
func (m *Manager) Root() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// Status returns a snapshot for display.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Root: m.root, Outcome: m.last.Outcome, Persistent: m.persistent, Err: m.last.Err}
}

// Initialize reacquires the saved workspace without prompting. Concurrent
// calls share one attempt and all receive its result.
func (m *Manager) Initialize(ctx context.Context) Result {
	v, _, _ := m.group.Do("initialize", func() (any, error) {
		return m.connect(ctx, Gesture{}), nil
	})
	return v.(Result)
}

// Reconnect repeats initialization under a user gesture, requesting
// permission when the saved root needs it. Existing workspace content is left
// untouched.
func (m *Manager) Reconnect(ctx context.Context, gesture Gesture) Result {
	if !gesture.Valid() {
		return Result{Outcome: OutcomePermissionPrompt, Err: ErrGestureRequired}
	}
	v, _, _ := m.group.Do("reconnect", func() (any, error) {
		return m.connect(ctx, gesture), nil
	})
	return v.(Result)
}

// ChooseDifferent forgets the saved root so the next step is a full setup.
func (m *Manager) ChooseDifferent() error {
	if err := forgetReference(m.refPath); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = StateSetupRequired
	m.handle = nil
	m.root = ""
	m.last = Result{Outcome: OutcomeNoHandle}
	m.persistent = false
	m.mu.Unlock()
	m.logger.Info("workspace reference cleared", logging.EventType("workspace_forgotten"))
	return nil
}

// Setup makes dir the workspace: it creates the layout, requests permission
// and saves the reference. Existing content in dir is kept.
func (m *Manager) Setup(ctx context.Context, gesture Gesture, dir string) Result {
	if !gesture.Valid() {
		return Result{Outcome: OutcomeError, Err: ErrGestureRequired}
	}
	root, err := config.ExpandPath(strings.TrimSpace(dir))
	if err != nil || root == "" {
		if err == nil {
			err = errors.New("workspace directory is required")
		}
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeError, Err: err})
	}
	m.setState(StateChecking)

	for _, sub := range layoutDirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeError, Err: fmt.Errorf("create workspace layout: %w", err)})
		}
	}
	handle := m.opener(root)
	perm, err := handle.RequestPermission(ctx)
	if err != nil {
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeError, Err: err})
	}
	if perm != PermissionGranted {
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomePermissionDenied, Err: fmt.Errorf("%s is not writable", root)})
	}
	ref := Reference{Root: root, Name: handle.Name(), SavedAt: m.now().UTC()}
	if err := saveReference(m.refPath, ref); err != nil {
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeError, Err: err})
	}
	m.logger.Info("workspace set up",
		logging.String("root", root),
		logging.EventType("workspace_setup"),
	)
	return m.ready(handle, root)
}

// EnsureReady returns nil when the workspace is usable, or an error wrapping
// ErrPermissionNeeded or ErrSetupRequired.
func (m *Manager) EnsureReady(ctx context.Context) error {
	result := m.Initialize(ctx)
	switch result.Outcome {
	case OutcomeOK:
		return nil
	case OutcomePermissionPrompt, OutcomePermissionDenied:
		return fmt.Errorf("%w: run `mediadesk workspace connect`", ErrPermissionNeeded)
	default:
		if result.Err != nil {
			return fmt.Errorf("%w: %w", ErrSetupRequired, result.Err)
		}
		return ErrSetupRequired
	}
}

func (m *Manager) connect(ctx context.Context, gesture Gesture) Result {
	ref, ok, err := loadReference(m.refPath)
	if err != nil {
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeError, Err: err})
	}
	if !ok {
		return m.settle(StateSetupRequired, nil, "", Result{Outcome: OutcomeNoHandle})
	}
	m.setState(StateChecking)

	handle := m.opener(ref.Root)
	perm, err := handle.QueryPermission(ctx)
	if err == nil && perm != PermissionGranted && gesture.Valid() {
		perm, err = handle.RequestPermission(ctx)
	}
	switch {
	case errors.Is(err, ErrHandleGone):
		logging.WarnWithContext(m.logger, "workspace directory is gone", "workspace_missing",
			logging.String("root", ref.Root),
			logging.Hint("run `mediadesk workspace setup` to choose a directory"),
			logging.Impact("jobs cannot run until a workspace is set up"),
		)
		return m.settle(StateSetupRequired, nil, ref.Root, Result{Outcome: OutcomeNoHandle, Err: err})
	case err != nil:
		return m.settle(StateSetupRequired, nil, ref.Root, Result{Outcome: OutcomeError, Err: err})
	case perm == PermissionPrompt:
		return m.settle(StatePermissionNeeded, handle, ref.Root, Result{Outcome: OutcomePermissionPrompt})
	case perm == PermissionDenied:
		return m.settle(StatePermissionNeeded, handle, ref.Root, Result{Outcome: OutcomePermissionDenied})
	}

	if err := verifyLayout(handle); err != nil {
		return m.settle(StateSetupRequired, nil, ref.Root, Result{Outcome: OutcomeError, Err: err})
	}
	return m.ready(handle, ref.Root)
}

func (m *Manager) ready(handle Handle, root string) Result {
	persistent, err := ensurePersistence(root, m.now())
	if err != nil {
		logging.WarnWithContext(m.logger, "workspace storage persistence unverified", "workspace_persistence",
			logging.String("root", root),
			logging.Error(err),
			logging.Hint("move the workspace to a disk-backed filesystem"),
			logging.Impact("workspace content may not survive a reboot"),
		)
	}
	m.mu.Lock()
	wasReady := m.state == StateReady && m.root == root
	m.persistent = persistent
	m.mu.Unlock()
	result := m.settle(StateReady, handle, root, Result{Outcome: OutcomeOK})
	if !wasReady {
		m.logger.Info("workspace ready",
			logging.String("root", root),
			logging.Bool("persistent", persistent),
			logging.EventType("workspace_ready"),
		)
	}
	return result
}

func (m *Manager) settle(state State, handle Handle, root string, result Result) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.handle = handle
	m.root = root
	m.last = result
	return result
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// verifyLayout checks the workspace through its handle and recreates any
// missing layout directory.
func verifyLayout(handle Handle) error {
	root, err := handle.Open()
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer root.Close()
	for _, sub := range layoutDirs {
		info, err := root.Stat(sub)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("workspace entry %s is not a directory", sub)
			}
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", sub, err)
		}
		if err := root.Mkdir(sub, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}
