package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediadesk/internal/artifacts"
	"mediadesk/internal/config"
	"mediadesk/internal/coordinator"
	"mediadesk/internal/logging"
	"mediadesk/internal/media"
	"mediadesk/internal/notifications"
	"mediadesk/internal/queue"
	"mediadesk/internal/services/transcriber"
	"mediadesk/internal/staging"
	"mediadesk/internal/workflow"
	"mediadesk/internal/workspace"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withApp opens the state database, workspace manager and runner, runs fn
// and closes everything again. Pending job list writes are flushed on close,
// also when fn fails.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, a)
}

// withWriter is withApp for commands that change the job list. The process
// announces itself to the workspace coordinator before fn runs so other
// mediadesk processes see it and it sees them.
func (c *commandContext) withWriter(cmd *cobra.Command, role string, fn func(ctx context.Context, a *app) error) error {
	return c.withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.register(ctx, cmd.OutOrStdout(), role); err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

// app is the wired set of services one CLI invocation works with.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *queue.Store
	workspace   *workspace.Manager
	artifacts   *artifacts.FileStore
	runner      *workflow.Runner
	coordinator *coordinator.Coordinator
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if removed := logging.PruneLogs(logger, cfg.Paths.LogDir, "*.log*", cfg.Logging.RetentionDays, logging.LogFileName); removed > 0 {
		logger.Debug("old log files pruned", logging.Int("removed", removed))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		workspace: workspace.NewManager(cfg, logger),
	}
	a.artifacts = artifacts.NewFileStore(a.workspaceDir(workspace.ArtifactsDir), logger)

	repo := queue.NewRepository(store, cfg.Session.UserID, cfg.Queue.MaxPersisted)
	a.runner = workflow.NewRunner(cfg, repo, logger,
		workflow.WithWorker(queue.KindTranscription, transcriber.New(cfg, logger)),
		workflow.WithWorker(queue.KindConversion, media.NewConverter(cfg, a.workspaceDir(workspace.ExportsDir), logger)),
		workflow.WithWorkspace(a.workspace),
		workflow.WithDetector(media.NewDetector(cfg, logger)),
		workflow.WithExtractor(media.NewExtractor(cfg, logger)),
		workflow.WithArtifactStore(a.artifacts),
		workflow.WithRefresher(workflow.RecentRefresher{Store: store, UserID: cfg.Session.UserID, Limit: cfg.Queue.RecentLimit}),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)
	if err := a.restore(ctx, a.livePeers()); err != nil {
		_ = a.runner.Close()
		_ = store.Close()
		return nil, fmt.Errorf("restore job list: %w", err)
	}
	return a, nil
}

// workspaceDir resolves a layout directory of the connected workspace.
func (a *app) workspaceDir(sub string) func() (string, error) {
	return func() (string, error) {
		status := a.workspace.Status()
		if status.State != workspace.StateReady || status.Root == "" {
			return "", fmt.Errorf("%w: workspace is %s", workspace.ErrPermissionNeeded, status.State)
		}
		return filepath.Join(status.Root, sub), nil
	}
}

// livePeers lists the other mediadesk processes registered in the saved
// workspace without announcing this one.
func (a *app) livePeers() []coordinator.Peer {
	if a.coordinator != nil {
		return a.coordinator.Peers()
	}
	root, ok := a.workspace.SavedRoot()
	if !ok {
		return nil
	}
	return coordinator.New(root, a.cfg, a.logger).Scan()
}

// restore loads the job list. While another process is running jobs its
// in-flight jobs are left as they are instead of being marked interrupted.
func (a *app) restore(ctx context.Context, peers []coordinator.Peer) error {
	for _, peer := range peers {
		if peer.Runs() {
			return a.runner.RestoreShared(ctx)
		}
	}
	return a.runner.Restore(ctx)
}

// register announces this process as a writer with role and prints a
// warning for every other live writer. A run is refused while another
// process is already running jobs in the workspace.
func (a *app) register(ctx context.Context, out io.Writer, role string) error {
	if a.coordinator == nil {
		if a.workspace.Status().State != workspace.StateReady {
			a.workspace.Initialize(ctx)
		}
		if !a.watchWriters(ctx, out, role) {
			return nil
		}
		peers := a.coordinator.Peers()
		if len(peers) == 0 && !a.coordinator.HoldsLock() {
			fmt.Fprintln(out, "Warning: another mediadesk process holds the workspace writer lock. Job list changes are merged with theirs.")
		}
		if err := a.runner.Flush(); err != nil {
			return err
		}
		if err := a.restore(ctx, peers); err != nil {
			return fmt.Errorf("restore job list: %w", err)
		}
	}
	if role != coordinator.RoleRun {
		return nil
	}
	for _, peer := range a.coordinator.Peers() {
		if peer.Runs() {
			return fmt.Errorf("another mediadesk process (pid %d on %s) is already running jobs in this workspace", peer.PID, peer.Host)
		}
	}
	return nil
}

// watchWriters starts detection of other mediadesk processes using the same
// workspace. Conflicts are printed to out. It reports whether this process
// is registered.
func (a *app) watchWriters(ctx context.Context, out io.Writer, role string) bool {
	if a.coordinator != nil {
		return true
	}
	status := a.workspace.Status()
	if status.State != workspace.StateReady {
		a.logger.Debug("writer coordination skipped", logging.String("state", string(status.State)))
		return false
	}
	coord := coordinator.New(status.Root, a.cfg, a.logger, coordinator.WithRole(role))
	err := coord.Setup(ctx, func(peer coordinator.Peer) {
		fmt.Fprintf(out, "Warning: another mediadesk process (pid %d on %s) is using this workspace. Job list changes are merged, but edits to the same job may overwrite each other.\n", peer.PID, peer.Host)
	})
	if err != nil {
		logging.WarnWithContext(a.logger, "writer coordination unavailable", "coordinator_setup_failed",
			logging.Error(err),
			logging.Hint("check permissions on the workspace .mediadesk directory"),
			logging.Impact("concurrent mediadesk processes will not be detected"),
		)
		return false
	}
	a.coordinator = coord
	return true
}

// sweepScratch removes extraction and partial conversion files from runs
// that were interrupted. Files newer than the matching timeout may belong to
// another process and are kept.
func (a *app) sweepScratch(ctx context.Context) {
	removed := len(staging.Sweep(ctx, a.runner.ExtractionDir(), 2*a.cfg.ExtractionTimeout(), staging.AnyFile, a.logger).Removed)
	if exports, err := a.workspaceDir(workspace.ExportsDir)(); err == nil {
		removed += len(staging.Sweep(ctx, exports, 2*a.cfg.SubmitTimeout(), staging.PartialOutput, a.logger).Removed)
	}
	if removed > 0 {
		a.logger.Info("scratch files removed",
			logging.Int("removed", removed),
			logging.EventType("scratch_cleanup"),
		)
	}
}

func (a *app) Close() error {
	var errs []error
	if a.runner != nil {
		errs = append(errs, a.runner.Close())
	}
	if a.coordinator != nil {
		errs = append(errs, a.coordinator.Cleanup())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
