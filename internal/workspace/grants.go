package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediadesk/internal/fileutil"
)

const bootIDPath = "/proc/sys/kernel/random/boot_id"

var (
	processSessionOnce sync.Once
	processSession     string
)

// BootSessionID identifies the current boot. Grants recorded under one boot
// are invalid after a reboot. Without a boot id the session is the process.
func BootSessionID() string {
	if data, err := os.ReadFile(bootIDPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	processSessionOnce.Do(func() { processSession = uuid.NewString() })
	return processSession
}

type grantRecord struct {
	Root      string    `json:"root"`
	Session   string    `json:"session"`
	GrantedAt time.Time `json:"granted_at"`
}

// GrantStore records which root was granted in which session.
type GrantStore struct {
	path    string
	session func() string
	now     func() time.Time
}

// NewGrantStore stores grants at path, scoped to the id returned by session.
func NewGrantStore(path string, session func() string) *GrantStore {
	if session == nil {
		session = BootSessionID
	}
	return &GrantStore{path: path, session: session, now: time.Now}
}

// Valid reports whether root was granted in the current session.
func (g *GrantStore) Valid(root string) bool {
	record, ok := g.load()
	return ok && record.Root == filepath.Clean(root) && record.Session == g.session()
}

// Grant records root as granted for the current session.
func (g *GrantStore) Grant(root string) error {
	data, err := json.Marshal(grantRecord{Root: filepath.Clean(root), Session: g.session(), GrantedAt: g.now().UTC()})
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(g.path, data, 0o600)
}

// Revoke forgets any grant.
func (g *GrantStore) Revoke() error {
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

func (g *GrantStore) load() (grantRecord, bool) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return grantRecord{}, false
	}
	var record grantRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return grantRecord{}, false
	}
	return record, true
}
