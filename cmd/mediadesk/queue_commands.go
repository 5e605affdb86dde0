package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediadesk/internal/coordinator"
	"mediadesk/internal/fileutil"
	"mediadesk/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job list",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRetryFailedCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRecentCommand(ctx))
	queueCmd.AddCommand(newQueueExportCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				wanted := make(map[queue.Status]struct{}, len(listStatuses))
				for _, value := range listStatuses {
					wanted[queue.Status(strings.ToLower(strings.TrimSpace(value)))] = struct{}{}
				}
				var jobs []queue.Job
				for _, job := range a.runner.Snapshot() {
					if len(wanted) > 0 {
						if _, ok := wanted[job.Status]; !ok {
							continue
						}
					}
					jobs = append(jobs, job)
				}
				if asJSON {
					return writeJSON(cmd, toJobViews(jobs))
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(jobHeaders, jobRows(jobs, shouldColorize(out)), jobAligns))
				fmt.Fprintln(out)
				fmt.Fprintln(out, countsLine(queue.Tally(jobs)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				job, err := resolveJob(a.runner, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, toJobView(job))
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader(job.Title, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "ID:       %s\n", job.ID)
				fmt.Fprintf(out, "Kind:     %s\n", job.Kind)
				fmt.Fprintf(out, "Status:   %s\n", jobBadge(job.Status, colorize))
				fmt.Fprintf(out, "Source:   %s (%s)\n", job.Source.Path, formatBytes(job.Source.Size))
				if label := job.CaseLabel(); label != "" {
					fmt.Fprintf(out, "Case:     %s\n", label)
				}
				fmt.Fprintf(out, "Attempts: %d\n", job.AttemptCount)
				if msg := jobMessage(job); msg != "" {
					fmt.Fprintf(out, "Detail:   %s\n", msg)
				}
				if job.Conversion != nil && job.Conversion.OutputPath != "" {
					fmt.Fprintf(out, "Output:   %s\n", job.Conversion.OutputPath)
				}
				if job.MediaKey == "" || job.Kind != queue.KindTranscription {
					return nil
				}
				a.workspace.Initialize(ctx)
				text, _, ok, err := a.artifacts.Get(ctx, "transcripts/"+job.MediaKey+".txt")
				if err != nil {
					fmt.Fprintf(out, "Transcript unavailable: %v\n", err)
					return nil
				}
				if ok {
					fmt.Fprintln(out)
					fmt.Fprintln(out, strings.TrimSpace(string(text)))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Queue failed or canceled jobs again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWriter(cmd, coordinator.RoleEdit, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, ref := range args {
					job, err := resolveJob(a.runner, ref)
					if err == nil {
						job, err = a.runner.Retry(job.ID)
					}
					if err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "Job %s queued for retry (attempt %d)\n", shortID(job.ID), job.AttemptCount)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newQueueRetryFailedCommand(ctx *commandContext) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Queue every failed job again",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobKind := queue.Kind(strings.ToLower(strings.TrimSpace(kind)))
			if jobKind != "" && !jobKind.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			return ctx.withWriter(cmd, coordinator.RoleEdit, func(ctx context.Context, a *app) error {
				jobs := a.runner.RetryFailed(jobKind)
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed jobs to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d failed job(s) for retry\n", len(jobs))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only retry jobs of this kind")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Remove jobs from the list",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWriter(cmd, coordinator.RoleEdit, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, ref := range args {
					job, err := resolveJob(a.runner, ref)
					if err == nil {
						err = a.runner.Remove(job.ID)
					}
					if err != nil {
						errs = append(errs, fmt.Errorf("remove %s: %w", ref, err))
						continue
					}
					fmt.Fprintf(out, "Removed job %s\n", shortID(job.ID))
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove succeeded jobs from the list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWriter(cmd, coordinator.RoleEdit, func(ctx context.Context, a *app) error {
				removed := a.runner.ClearFinished()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished job(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueRecentCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently produced media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.store.RecentMedia(ctx, a.cfg.Session.UserID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No recent media")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.MediaKey,
						string(entry.Kind),
						entry.Title,
						entry.CaseID,
						entry.RecordedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Media", "Kind", "Title", "Case", "Recorded"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <dest>",
		Short: "Copy a conversion output out of the workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				job, err := resolveJob(a.runner, args[0])
				if err != nil {
					return err
				}
				if job.Status != queue.StatusSucceeded || job.Conversion == nil || job.Conversion.OutputPath == "" {
					return fmt.Errorf("job %s has no conversion output", shortID(job.ID))
				}
				if err := a.workspace.EnsureReady(ctx); err != nil {
					return err
				}
				dest := args[1]
				if info, err := os.Stat(dest); err == nil && info.IsDir() {
					dest = filepath.Join(dest, job.Conversion.OutputFilename)
				}
				if err := fileutil.CopyFileVerified(job.Conversion.OutputPath, dest); err != nil {
					return fmt.Errorf("export %s: %w", shortID(job.ID), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", job.Conversion.OutputFilename, dest)
				return nil
			})
		},
	}
}
