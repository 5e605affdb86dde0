package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediadesk/internal/coordinator"
	"mediadesk/internal/queue"
	"mediadesk/internal/workflow"
	"mediadesk/internal/workspace"
)

type runOptions struct {
	statuses []queue.Status
	connect  bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var connect bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued jobs one at a time",
		Long: "Process queued jobs one at a time.\n\n" +
			"Press Ctrl+C once to finish the current job and cancel the rest. " +
			"Press it again to abort the current job.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{connect: connect}
			for _, value := range statuses {
				status := queue.Status(strings.ToLower(strings.TrimSpace(value)))
				switch status {
				case queue.StatusQueued, queue.StatusFailed, queue.StatusCanceled:
					opts.statuses = append(opts.statuses, status)
				default:
					return fmt.Errorf("cannot run jobs with status %q (use queued, failed or canceled)", value)
				}
			}
			return ctx.withWriter(cmd, coordinator.RoleRun, func(ctx context.Context, a *app) error {
				return runQueue(ctx, cmd, a, opts)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", []string{string(queue.StatusQueued)}, "Job statuses to process")
	cmd.Flags().BoolVar(&connect, "connect", false, "Reconnect the workspace first if it needs permission")
	return cmd
}

// runQueue connects the workspace, processes matching jobs and prints each
// transition. The first interrupt requests a graceful stop and the second
// cancels the in-flight attempt.
func runQueue(ctx context.Context, cmd *cobra.Command, a *app, opts runOptions) error {
	out := cmd.OutOrStdout()

	result := a.workspace.Initialize(ctx)
	if !result.OK() && opts.connect {
		result = a.workspace.Reconnect(ctx, workspace.UserGesture())
	}
	if !result.OK() {
		if err := a.workspace.EnsureReady(ctx); err != nil {
			return err
		}
	}
	if err := a.register(ctx, out, coordinator.RoleRun); err != nil {
		return err
	}
	a.sweepScratch(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan struct{})
	defer close(done)
	go func() {
		stopped := false
		for {
			select {
			case <-done:
				return
			case <-signals:
				if !stopped && a.runner.Stop() {
					stopped = true
					fmt.Fprintln(out, "Stopping after the current job. Press Ctrl+C again to abort it.")
					continue
				}
				cancel()
				return
			}
		}
	}()

	unsubscribe := a.runner.Subscribe(newTransitionPrinter(out))
	defer unsubscribe()

	summary, err := a.runner.Run(runCtx, opts.statuses...)
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		return err
	}
	printRunSummary(cmd, summary)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("run aborted")
		}
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d job(s) failed", summary.Failed)
	}
	return nil
}

// transitionPrinter prints a line whenever a job changes status. Progress
// ticks within a status are not printed.
type transitionPrinter struct {
	out      io.Writer
	colorize bool

	mu   sync.Mutex
	seen map[string]queue.Status
}

func newTransitionPrinter(out io.Writer) *transitionPrinter {
	return &transitionPrinter{out: out, colorize: shouldColorize(out), seen: make(map[string]queue.Status)}
}

func (p *transitionPrinter) JobChanged(change workflow.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job := change.Job
	if change.Removed {
		delete(p.seen, job.ID)
		return
	}
	if prev, ok := p.seen[job.ID]; ok && prev == job.Status {
		return
	}
	p.seen[job.ID] = job.Status
	line := fmt.Sprintf("%s  %-12s %s", shortID(job.ID), jobBadge(job.Status, p.colorize), job.Title)
	if msg := jobMessage(job); msg != "" {
		line += ": " + msg
	}
	fmt.Fprintln(p.out, line)
}

func printRunSummary(cmd *cobra.Command, summary workflow.RunSummary) {
	out := cmd.OutOrStdout()
	if summary.Notice != "" {
		fmt.Fprintln(out, summary.Notice)
		return
	}
	fmt.Fprintf(out, "Processed %d job(s) in %s: %d succeeded, %d failed, %d canceled\n",
		summary.Targeted, summary.Duration.Round(time.Second), summary.Succeeded, summary.Failed, summary.Canceled)
	if summary.Stopped {
		fmt.Fprintln(out, "Queue stopped before all jobs ran. Use `mediadesk queue retry` to run canceled jobs again.")
	}
}
