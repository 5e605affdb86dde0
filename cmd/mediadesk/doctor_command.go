package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediadesk/internal/deps"
	"mediadesk/internal/services/transcriber"
	"mediadesk/internal/workspace"
)

const doctorProbeTimeout = 10 * time.Second

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check media tools, the state database, the workspace and the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				failures := 0
				emit := func(label string, kind statusKind, message string) {
					if kind == statusError {
						failures++
					}
					fmt.Fprintln(out, renderStatusLine(label, kind, message, colorize))
				}

				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(out, line)
				}
				probeCtx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
				defer cancel()
				statuses := deps.CheckBinaries(deps.MediaRequirements(a.cfg))
				ffmpegReady := len(statuses) > 0 && statuses[0].Available
				if ffmpegReady {
					statuses = append(statuses, deps.CheckFFmpegEncoders(probeCtx, a.cfg.Media.FFmpegBinary))
				}
				for _, status := range statuses {
					if status.Available {
						emit(status.Name, statusOK, fmt.Sprintf("Ready (command: %s)", status.Command))
						continue
					}
					detail := strings.TrimSpace(status.Detail)
					if detail == "" {
						detail = "not available"
					}
					kind := statusError
					if status.Optional {
						kind = statusWarn
					}
					emit(status.Name, kind, detail)
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("State", colorize) {
					fmt.Fprintln(out, line)
				}
				health, err := a.store.CheckHealth(probeCtx)
				switch {
				case err != nil:
					emit("Database", statusError, err.Error())
				case len(health.MissingTables) > 0:
					emit("Database", statusError, "missing tables: "+strings.Join(health.MissingTables, ", "))
				default:
					emit("Database", statusOK, fmt.Sprintf("schema %s, %d recent entries", health.SchemaVersion, health.RecentEntries))
				}

				a.workspace.Initialize(probeCtx)
				status := a.workspace.Status()
				switch status.State {
				case workspace.StateReady:
					if status.Persistent {
						emit("Workspace", statusOK, status.Root)
					} else {
						emit("Workspace", statusWarn, status.Root+" (temporary storage)")
					}
				case workspace.StatePermissionNeeded:
					emit("Workspace", statusWarn, "permission needed (run `mediadesk workspace connect`)")
				default:
					emit("Workspace", statusError, "setup required (run `mediadesk workspace setup <dir>`)")
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Worker", colorize) {
					fmt.Fprintln(out, line)
				}
				if err := transcriber.New(a.cfg, a.logger).Ping(probeCtx); err != nil {
					emit("Transcription", statusError, fmt.Sprintf("%s: %v", a.cfg.Worker.BaseURL, err))
				} else {
					emit("Transcription", statusOK, a.cfg.Worker.BaseURL)
				}
				if a.cfg.Worker.APIKey == "" {
					emit("API key", statusInfo, "not set")
				}

				if failures > 0 {
					return fmt.Errorf("%d check(s) failed", failures)
				}
				return nil
			})
		},
	}
}
