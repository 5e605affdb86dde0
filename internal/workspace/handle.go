package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Permission is the access state reported by a Handle.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

// ErrHandleGone reports that the referenced directory no longer exists.
var ErrHandleGone = errors.New("workspace directory is missing")

// Handle is a capability for a storage root.
type Handle interface {
	Name() string
	// QueryPermission reports the current permission without changing it.
	QueryPermission(ctx context.Context) (Permission, error)
	// RequestPermission asks for access. Callers must hold a user gesture.
	RequestPermission(ctx context.Context) (Permission, error)
	// Open returns the root scoped to the workspace directory.
	Open() (*os.Root, error)
}

// DirHandle is a Handle backed by a local directory. OS permissions decide
// whether access is possible at all; when a gesture is required, a session
// grant recorded by RequestPermission decides whether it is currently allowed.
type DirHandle struct {
	path           string
	requireGesture bool
	grants         *GrantStore
}

// NewDirHandle builds a handle for path. grants may be nil when no gesture
// is required.
func NewDirHandle(path string, requireGesture bool, grants *GrantStore) *DirHandle {
	return &DirHandle{path: filepath.Clean(path), requireGesture: requireGesture, grants: grants}
}

// Name returns the directory's base name.
func (h *DirHandle) Name() string { return filepath.Base(h.path) }

// Path returns the directory path.
func (h *DirHandle) Path() string { return h.path }

func (h *DirHandle) QueryPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDenied, err
	}
	if perm, err := h.osPermission(); perm != PermissionGranted || err != nil {
		return perm, err
	}
	if h.requireGesture && (h.grants == nil || !h.grants.Valid(h.path)) {
		return PermissionPrompt, nil
	}
	return PermissionGranted, nil
}

func (h *DirHandle) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDenied, err
	}
	if perm, err := h.osPermission(); perm != PermissionGranted || err != nil {
		return perm, err
	}
	if h.requireGesture {
		if h.grants == nil {
			return PermissionDenied, errors.New("no grant store configured")
		}
		if err := h.grants.Grant(h.path); err != nil {
			return PermissionDenied, fmt.Errorf("record grant: %w", err)
		}
	}
	return PermissionGranted, nil
}

func (h *DirHandle) Open() (*os.Root, error) {
	return os.OpenRoot(h.path)
}

func (h *DirHandle) osPermission() (Permission, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PermissionDenied, fmt.Errorf("%w: %s", ErrHandleGone, h.path)
		}
		if errors.Is(err, os.ErrPermission) {
			return PermissionDenied, nil
		}
		return PermissionDenied, fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return PermissionDenied, fmt.Errorf("%w: %s is not a directory", ErrHandleGone, h.path)
	}
	if err := unix.Access(h.path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}
