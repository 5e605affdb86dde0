package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediadesk/internal/coordinator"
	"mediadesk/internal/queue"
	"mediadesk/internal/workflow"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		kind         string
		model        string
		caseID       string
		title        string
		speakers     int
		multichannel bool
		labels       []string
		format       string
		runAfter     bool
	)

	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Queue media files for transcription or conversion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobKind := queue.Kind(strings.ToLower(strings.TrimSpace(kind)))
			if !jobKind.Valid() {
				return fmt.Errorf("unknown kind %q (use transcription or conversion)", kind)
			}
			if title != "" && len(args) > 1 {
				return errors.New("--title can only be used with a single file")
			}
			channelLabels, err := parseChannelLabels(labels)
			if err != nil {
				return err
			}

			inputs := make([]workflow.Input, 0, len(args))
			for _, path := range args {
				inputs = append(inputs, workflow.Input{
					Path:             path,
					Kind:             jobKind,
					Title:            title,
					CaseID:           caseID,
					Model:            model,
					SpeakersExpected: speakers,
					Multichannel:     multichannel,
					ChannelLabels:    channelLabels,
					TargetFormat:     format,
				})
			}

			role := coordinator.RoleEdit
			if runAfter {
				role = coordinator.RoleRun
			}
			return ctx.withWriter(cmd, role, func(ctx context.Context, a *app) error {
				result, err := a.runner.Enqueue(ctx, inputs)
				if err != nil {
					return err
				}
				printEnqueueResult(cmd, result, a.cfg.Queue.MaxBatch)
				if len(result.Jobs) == 0 {
					return errors.New("no files were queued")
				}
				if !runAfter {
					fmt.Fprintln(cmd.OutOrStdout(), "Run `mediadesk run` to process the queue.")
					return nil
				}
				return runQueue(ctx, cmd, a, runOptions{})
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(queue.KindTranscription), "Job kind: transcription or conversion")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Transcription model (assemblyai or gemini)")
	cmd.Flags().StringVar(&caseID, "case", "", "Case identifier to file the output under")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Job title (single file only)")
	cmd.Flags().IntVar(&speakers, "speakers", 0, "Expected number of speakers")
	cmd.Flags().BoolVar(&multichannel, "multichannel", false, "Transcribe each audio channel separately")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Channel label as N=Name (repeatable, with --multichannel)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Conversion target format")
	cmd.Flags().BoolVar(&runAfter, "run", false, "Process the queue after submitting")
	return cmd
}

// parseChannelLabels reads N=Name pairs. Channels are numbered from 1.
func parseChannelLabels(values []string) (map[int]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	labels := make(map[int]string, len(values))
	for _, value := range values {
		idx, name, ok := strings.Cut(value, "=")
		if !ok {
			return nil, fmt.Errorf("invalid channel label %q (want N=Name)", value)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid channel number in %q", value)
		}
		labels[n] = strings.TrimSpace(name)
	}
	return labels, nil
}

func printEnqueueResult(cmd *cobra.Command, result workflow.EnqueueResult, maxBatch int) {
	out := cmd.OutOrStdout()
	if len(result.Jobs) > 0 {
		fmt.Fprint(out, renderTable(jobHeaders, jobRows(result.Jobs, shouldColorize(out)), jobAligns))
		fmt.Fprintln(out)
	}
	for _, rejection := range result.Rejected {
		name := rejection.Input.Filename
		if name == "" {
			name = filepath.Base(rejection.Input.Path)
		}
		fmt.Fprintf(out, "Skipped %s: %s\n", name, rejection.Reason)
	}
	if result.Dropped > 0 {
		fmt.Fprintf(out, "Only %d files can be queued at once; %d were not added.\n", maxBatch, result.Dropped)
	}
	if result.Evicted > 0 {
		fmt.Fprintf(out, "%d old finished jobs were removed from the list.\n", result.Evicted)
	}
	fmt.Fprintf(out, "Queued %d job(s)\n", len(result.Jobs))
}
