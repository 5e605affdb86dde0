package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Workspace contains configuration for the storage root and writer coordination.
type Workspace struct {
	// Root is the default directory for `mediadesk workspace setup`. Once set
	// up, the saved reference under the state directory is authoritative.
	Root string `toml:"root"`
	// RequireGesture forces an explicit reconnect after every restart before the
	// workspace is writable again.
	RequireGesture             bool `toml:"require_gesture"`
	CoordinatorIntervalSeconds int  `toml:"coordinator_interval"`
	CoordinatorStaleSeconds    int  `toml:"coordinator_stale_after"`
}

// Session identifies the user whose job list is persisted.
type Session struct {
	UserID string `toml:"user_id"`
}

// Queue contains job queue limits and timeouts.
type Queue struct {
	MaxBatch                 int  `toml:"max_batch"`
	MaxPersisted             int  `toml:"max_persisted"`
	ExtractionTimeoutSeconds int  `toml:"extraction_timeout"`
	SubmitTimeoutSeconds     int  `toml:"submit_timeout"`
	FallbackCeilingMiB       int  `toml:"fallback_ceiling_mib"`
	AutoRetry                bool `toml:"auto_retry"`
	RecentLimit              int  `toml:"recent_limit"`
}

// Worker contains configuration for the external transcription worker.
type Worker struct {
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	DefaultModel     string `toml:"default_model"`
	ConversionFormat string `toml:"conversion_format"`
}

// Media contains the external media tool binaries.
type Media struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	QueueCompleted bool   `toml:"queue_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes log files older than this many days at startup. Zero
	// disables pruning.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediadesk.
//
// Configuration sections by subsystem:
//   - Paths: state database and log directories
//   - Workspace: storage root reference and multi-writer coordination
//   - Session: user identifier that keys the persisted job list
//   - Queue: batch limits, ring buffer size, timeouts and retry policy
//   - Worker: transcription worker endpoint and defaults
//   - Media: ffmpeg/ffprobe binaries used for detection and extraction
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workspace     Workspace     `toml:"workspace"`
	Session       Session       `toml:"session"`
	Queue         Queue         `toml:"queue"`
	Worker        Worker        `toml:"worker"`
	Media         Media         `toml:"media"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediadesk/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediadesk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath returns the SQLite database holding the persisted job list.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// WorkspaceRefPath returns the file recording the chosen workspace root.
func (c *Config) WorkspaceRefPath() string {
	return filepath.Join(c.Paths.StateDir, "workspace.json")
}

// ExtractionTimeout returns the hard timeout applied to audio extraction.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Queue.ExtractionTimeoutSeconds) * time.Second
}

// SubmitTimeout returns the hard timeout applied to one worker submission.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Queue.SubmitTimeoutSeconds) * time.Second
}

// FallbackCeilingBytes returns the largest original file uploaded when
// extraction fails.
func (c *Config) FallbackCeilingBytes() int64 {
	return int64(c.Queue.FallbackCeilingMiB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
