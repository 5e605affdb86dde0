package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"mediadesk/internal/fileutil"
)

const persistenceMarker = "persisted"

// Filesystems whose content does not survive a reboot.
var volatileFilesystems = map[int64]string{
	0x01021994: "tmpfs",
	0x858458f6: "ramfs",
}

// ensurePersistence reports whether root sits on durable storage and records
// a marker the first time it does.
func ensurePersistence(root string, now time.Time) (bool, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		return false, fmt.Errorf("statfs: %w", err)
	}
	if name, volatile := volatileFilesystems[int64(stat.Type)]; volatile {
		return false, fmt.Errorf("workspace is on %s", name)
	}
	marker := filepath.Join(root, MetaDir, persistenceMarker)
	if _, err := os.Stat(marker); err == nil {
		return true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat persistence marker: %w", err)
	}
	if err := fileutil.WriteFileAtomic(marker, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("write persistence marker: %w", err)
	}
	return true, nil
}
