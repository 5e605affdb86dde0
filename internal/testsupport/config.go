package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediadesk/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The workspace root is <base>/workspace and is not created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Workspace.Root = filepath.Join(base, "workspace")
	cfgVal.Session.UserID = "tester"
	cfgVal.Worker.BaseURL = "http://127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxPersisted overrides the ring-buffer bound.
func WithMaxPersisted(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxPersisted = n
	}
}

// WithMaxBatch overrides the enqueue batch limit.
func WithMaxBatch(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxBatch = n
	}
}

// WithWorkerURL points the transcription worker client at url.
func WithWorkerURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.BaseURL = url
	}
}

// WithoutGesture disables the reconnect gesture requirement.
func WithoutGesture() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workspace.RequireGesture = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
// Each stub exits 0 without output.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		scripts := make(map[string]string, len(names))
		for _, name := range names {
			scripts[name] = "#!/bin/sh\nexit 0\n"
		}
		StubBinaries(b.t, filepath.Join(b.baseDir, "bin"), scripts)
	}
}

// StubBinaries writes each script as an executable in dir and prepends dir to
// PATH for the rest of the test.
func StubBinaries(t testing.TB, dir string, scripts map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for name, script := range scripts {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
