package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mediadesk/internal/fileutil"
	"mediadesk/internal/logging"
)

const metaSuffix = ".meta.json"

// ErrInvalidKey is returned for keys that are empty or escape the store.
var ErrInvalidKey = errors.New("invalid artifact key")

// RootFunc resolves the directory holding the store. It is called on every
// operation so a reconnected workspace is picked up.
type RootFunc func() (string, error)

// Entry summarizes one stored artifact.
type Entry struct {
	Key       string            `json:"key"`
	SizeBytes int64             `json:"size_bytes"`
	StoredAt  time.Time         `json:"stored_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Stats reports usage of the store.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

type sidecar struct {
	StoredAt time.Time         `json:"stored_at"`
	Size     int64             `json:"size"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// FileStore keeps artifacts as plain files.
type FileStore struct {
	root   RootFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore builds a store rooted at the directory root returns.
func NewFileStore(root RootFunc, logger *slog.Logger) *FileStore {
	return &FileStore{
		root:   root,
		logger: logging.NewComponentLogger(logger, "artifacts"),
		now:    time.Now,
	}
}

// Put writes data and its metadata under key, replacing any earlier value.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(sidecar{StoredAt: s.now().UTC(), Size: int64(len(data)), Meta: meta})
	if err != nil {
		return fmt.Errorf("encode artifact meta: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := fileutil.WriteFileAtomic(path+metaSuffix, encoded, 0o644); err != nil {
		return fmt.Errorf("write artifact meta %s: %w", key, err)
	}
	s.logger.Debug("artifact stored", logging.String("artifact_key", key), logging.Int("size_bytes", len(data)))
	return nil
}

// Get returns the blob and metadata stored under key. found is false when
// nothing is stored there.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, map[string]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("read artifact %s: %w", key, err)
	}
	meta, err := readSidecar(path + metaSuffix)
	if err != nil {
		s.logger.Debug("artifact meta unreadable", logging.String("artifact_key", key), logging.Error(err))
	}
	return data, meta.Meta, true, nil
}

// List returns entries whose key starts with prefix, newest first.
func (s *FileStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	base, err := s.root()
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	var entries []Entry
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := Entry{Key: key, SizeBytes: info.Size(), StoredAt: info.ModTime().UTC()}
		if meta, err := readSidecar(path + metaSuffix); err == nil {
			entry.Meta = meta.Meta
			if !meta.StoredAt.IsZero() {
				entry.StoredAt = meta.StoredAt
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StoredAt.Equal(entries[j].StoredAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].StoredAt.After(entries[j].StoredAt)
	})
	return entries, nil
}

// Stats returns the number and total size of stored artifacts.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.List(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: len(entries)}
	for _, entry := range entries {
		stats.TotalBytes += entry.SizeBytes
	}
	return stats, nil
}

func (s *FileStore) resolve(key string) (string, error) {
	cleaned := strings.TrimSpace(key)
	if cleaned == "" || strings.HasSuffix(cleaned, metaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	local := filepath.FromSlash(cleaned)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	base, err := s.root()
	if err != nil {
		return "", fmt.Errorf("artifact root: %w", err)
	}
	return filepath.Join(base, local), nil
}

func readSidecar(path string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}
