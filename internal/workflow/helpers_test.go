package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/notifications"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
	"mediadesk/internal/testsupport"
	"mediadesk/internal/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

// scriptedWorker answers each submission with the next scripted outcome for
// the job's filename. Once the script runs out it succeeds.
type scriptedWorker struct {
	mu       sync.Mutex
	outcomes map[string][]error
	calls    []string
	payloads []services.Payload
	hook     func(ctx context.Context, payload services.Payload, observer services.Observer) error
}

func newScriptedWorker() *scriptedWorker {
	return &scriptedWorker{outcomes: make(map[string][]error)}
}

func (w *scriptedWorker) script(filename string, outcomes ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[filename] = append(w.outcomes[filename], outcomes...)
}

func (w *scriptedWorker) Submit(ctx context.Context, payload services.Payload, observer services.Observer) (services.Result, error) {
	w.mu.Lock()
	w.calls = append(w.calls, payload.Job.Source.Filename)
	w.payloads = append(w.payloads, payload)
	var outcome error
	if queued := w.outcomes[payload.Job.Source.Filename]; len(queued) > 0 {
		outcome = queued[0]
		w.outcomes[payload.Job.Source.Filename] = queued[1:]
	}
	hook := w.hook
	w.mu.Unlock()

	observer.UploadProgress(1)
	if hook != nil {
		if err := hook(ctx, payload, observer); err != nil {
			return services.Result{}, err
		}
	}
	if outcome != nil {
		return services.Result{}, outcome
	}
	observer.Stage(queue.StatusTranscribing, "Transcribing")
	observer.Stage(queue.StatusBuilding, "Building transcript")
	return services.Result{MediaKey: "media-" + payload.Job.Source.Filename}, nil
}

func (w *scriptedWorker) callLog() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.calls))
	copy(out, w.calls)
	return out
}

func (w *scriptedWorker) lastPayload() services.Payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.payloads) == 0 {
		return services.Payload{}
	}
	return w.payloads[len(w.payloads)-1]
}

type stubGate struct {
	mu  sync.Mutex
	err error
}

func (g *stubGate) EnsureReady(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

type stubExtractor struct {
	extract func(ctx context.Context, src, dst string) error
}

func (e stubExtractor) Extract(ctx context.Context, src, dst string) error {
	return e.extract(ctx, src, dst)
}

type stubDetector struct {
	codec queue.Codec
	err   error
}

func (d stubDetector) Detect(context.Context, string) (queue.Codec, error) {
	return d.codec, d.err
}

type memoryArtifacts struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func (m *memoryArtifacts) Put(_ context.Context, key string, data []byte, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = data
	return nil
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	repo     *queue.Repository
	runner   *workflow.Runner
	worker   *scriptedWorker
	notifier *recordingNotifier
	srcDir   string
}

func newHarness(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...workflow.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	repo := queue.NewRepository(store, cfg.Session.UserID, cfg.Queue.MaxPersisted)
	h := &harness{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		worker:   newScriptedWorker(),
		notifier: &recordingNotifier{},
		srcDir:   filepath.Join(testsupport.BaseDir(cfg), "src"),
	}
	seq := 0
	base := []workflow.Option{
		workflow.WithWorker(queue.KindTranscription, h.worker),
		workflow.WithWorker(queue.KindConversion, h.worker),
		workflow.WithNotifier(h.notifier),
		workflow.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("job-%02d", seq)
		}),
	}
	h.runner = workflow.NewRunner(cfg, repo, logging.NewNop(), append(base, opts...)...)
	t.Cleanup(func() { _ = h.runner.Close() })
	return h
}

// peer builds a second runner on the same repository, standing in for
// another mediadesk process. Its job ids carry prefix.
func (h *harness) peer(t *testing.T, prefix string, worker services.Worker) *workflow.Runner {
	t.Helper()
	seq := 0
	peer := workflow.NewRunner(h.cfg, h.repo, logging.NewNop(),
		workflow.WithWorker(queue.KindTranscription, worker),
		workflow.WithNotifier(&recordingNotifier{}),
		workflow.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("%s-%02d", prefix, seq)
		}),
	)
	t.Cleanup(func() { _ = peer.Close() })
	return peer
}

// source writes a fixture file and returns an Input for it.
func (h *harness) source(t *testing.T, name string, size int64) workflow.Input {
	t.Helper()
	path := filepath.Join(h.srcDir, name)
	testsupport.WriteFile(t, path, size)
	return workflow.Input{Path: path}
}

func (h *harness) enqueue(t *testing.T, names ...string) []queue.Job {
	t.Helper()
	inputs := make([]workflow.Input, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, h.source(t, name, 1024))
	}
	result, err := h.runner.Enqueue(context.Background(), inputs)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(result.Jobs) != len(names) {
		t.Fatalf("expected %d jobs, got %d (rejected %+v)", len(names), len(result.Jobs), result.Rejected)
	}
	return result.Jobs
}

func (h *harness) job(t *testing.T, id string) queue.Job {
	t.Helper()
	job, ok := h.runner.Get(id)
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return job
}

// persisted returns the raw stored list without load-time normalization.
func (h *harness) persisted(t *testing.T) []queue.Job {
	t.Helper()
	if err := h.runner.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	value, ok, err := h.store.GetValue(context.Background(), h.repo.Key())
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if !ok {
		return nil
	}
	return queue.DecodeJobs([]byte(value))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
