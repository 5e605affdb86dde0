package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediadesk/internal/workspace"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Set up and connect the storage workspace",
	}

	workspaceCmd.AddCommand(newWorkspaceSetupCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceStatusCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceConnectCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceForgetCommand(ctx))

	return workspaceCmd
}

func newWorkspaceSetupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setup [dir]",
		Short: "Choose the workspace directory and create its layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				dir := a.cfg.Workspace.Root
				if len(args) == 1 {
					dir = args[0]
				}
				if strings.TrimSpace(dir) == "" {
					return errors.New("workspace directory is required (pass it or set workspace.root)")
				}
				result := a.workspace.Setup(ctx, workspace.UserGesture(), dir)
				if !result.OK() {
					return connectError("set up workspace", result)
				}
				status := a.workspace.Status()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Workspace ready at %s\n", status.Root)
				if !status.Persistent {
					fmt.Fprintln(out, "Warning: the workspace is on temporary storage and may be cleared on reboot.")
				}
				return nil
			})
		},
	}
}

func newWorkspaceConnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Reconnect the saved workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				result := a.workspace.Reconnect(ctx, workspace.UserGesture())
				if !result.OK() {
					return connectError("connect workspace", result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", a.workspace.Root())
				return nil
			})
		},
	}
}

func newWorkspaceForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Forget the saved workspace so a different one can be chosen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.workspace.ChooseDifferent(); err != nil {
					return fmt.Errorf("forget workspace: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Workspace reference cleared. Files in the old directory were kept.")
				return nil
			})
		},
	}
}

type workspaceStatusView struct {
	State          string `json:"state"`
	Root           string `json:"root,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Persistent     bool   `json:"persistent"`
	Error          string `json:"error,omitempty"`
	Artifacts      int    `json:"artifacts"`
	ArtifactBytes  int64  `json:"artifact_bytes"`
	QueueTotal     int    `json:"queue_total"`
	QueueActive    int    `json:"queue_active"`
	UnloadWarnings bool   `json:"unload_sensitive"`
}

func newWorkspaceStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the workspace connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(ctx context.Context, a *app) error {
				a.workspace.Initialize(ctx)
				status := a.workspace.Status()
				counts := a.runner.Counts()
				view := workspaceStatusView{
					State:          string(status.State),
					Root:           status.Root,
					Outcome:        string(status.Outcome),
					Persistent:     status.Persistent,
					QueueTotal:     counts.Total,
					QueueActive:    counts.Queued + counts.InProgress,
					UnloadWarnings: a.runner.UnloadSensitive(),
				}
				if status.Err != nil {
					view.Error = status.Err.Error()
				}
				if status.State == workspace.StateReady {
					if stats, err := a.artifacts.Stats(ctx); err == nil {
						view.Artifacts = stats.Entries
						view.ArtifactBytes = stats.TotalBytes
					}
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				printWorkspaceStatus(cmd, view)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printWorkspaceStatus(cmd *cobra.Command, view workspaceStatusView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Workspace", colorize) {
		fmt.Fprintln(out, line)
	}

	kind, message := statusInfo, view.State
	switch workspace.State(view.State) {
	case workspace.StateReady:
		kind, message = statusOK, "Ready"
	case workspace.StatePermissionNeeded:
		kind, message = statusWarn, "Permission needed (run `mediadesk workspace connect`)"
	case workspace.StateSetupRequired, workspace.StateUnconfigured:
		kind, message = statusError, "Setup required (run `mediadesk workspace setup <dir>`)"
	}
	fmt.Fprintln(out, renderStatusLine("Connection", kind, message, colorize))
	if view.Root != "" {
		fmt.Fprintln(out, renderStatusLine("Root", statusInfo, view.Root, colorize))
	}
	if view.State == string(workspace.StateReady) {
		if view.Persistent {
			fmt.Fprintln(out, renderStatusLine("Storage", statusOK, "Persistent", colorize))
		} else {
			fmt.Fprintln(out, renderStatusLine("Storage", statusWarn, "Temporary storage, may be cleared", colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Artifacts", statusInfo,
			fmt.Sprintf("%d files, %s", view.Artifacts, formatBytes(view.ArtifactBytes)), colorize))
	}
	if view.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, view.Error, colorize))
	}
	queueKind := statusInfo
	if view.UnloadWarnings {
		queueKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Queue", queueKind,
		fmt.Sprintf("%d jobs, %d pending", view.QueueTotal, view.QueueActive), colorize))
}

func connectError(action string, result workspace.Result) error {
	if result.Err != nil {
		return fmt.Errorf("%s: %s: %w", action, result.Outcome, result.Err)
	}
	return fmt.Errorf("%s: %s", action, result.Outcome)
}
