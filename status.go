package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cardsync/internal/model"
)

// Connectivity states for status reporting.
const (
	remoteStateOnline  = "online"
	remoteStateOffline = "offline"
	remoteStateSkipped = "not checked"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace, session and sync status",
		Long: `Display the active workspace, the signed-in session, the last successful
sync, the changes waiting to be pushed and whether the remote store is
reachable (skipped with --offline).`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Workspace        string         `json:"workspace"`
	User             string         `json:"user,omitempty"`
	SessionWorkspace string         `json:"session_workspace,omitempty"`
	LastSync         *time.Time     `json:"last_sync,omitempty"`
	Unsynced         map[string]int `json:"unsynced"`
	PendingDeletions int            `json:"pending_deletions"`
	Remote           string         `json:"remote"`
	RemoteState      string         `json:"remote_state"`
	WatchPID         int            `json:"watch_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		out, err := buildStatus(ctx, a)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), out)
		}

		printStatusText(cmd.OutOrStdout(), out)

		return nil
	})
}

func buildStatus(ctx context.Context, a *app) (*statusOutput, error) {
	ws, err := a.store.Workspace(ctx)
	if err != nil {
		return nil, err
	}

	out := &statusOutput{
		Workspace:   ws,
		Unsynced:    make(map[string]int),
		Remote:      a.client.BaseURL(),
		RemoteState: remoteStateSkipped,
	}

	if s := a.sessions.Session(); s != nil {
		out.User = s.User
		out.SessionWorkspace = s.Workspace
	}

	last, err := a.store.LastSync(ctx)
	if err != nil {
		return nil, err
	}

	if !last.IsZero() {
		out.LastSync = &last
	}

	counts, err := a.store.CountDirty(ctx)
	if err != nil {
		return nil, err
	}

	for c, n := range counts {
		out.Unsynced[c.String()] = n
	}

	pending, err := a.store.ListPendingDeletions(ctx)
	if err != nil {
		return nil, err
	}

	out.PendingDeletions = len(pending)

	if !a.cc.Flags.Offline {
		out.RemoteState = remoteStateOffline
		if a.monitor.Probe(ctx) {
			out.RemoteState = remoteStateOnline
		}
	}

	if pid, ok := syncHolder(a.cc.Cfg.DataDir); ok {
		out.WatchPID = pid
	}

	return out, nil
}

func printStatusText(w io.Writer, out *statusOutput) {
	ws := out.Workspace
	if ws == "" {
		ws = "(none)"
	}

	fmt.Fprintf(w, "Workspace:  %s\n", ws)

	switch {
	case out.User == "":
		fmt.Fprintln(w, "Session:    not signed in")
	case out.SessionWorkspace != out.Workspace:
		fmt.Fprintf(w, "Session:    %s in %s (does not match the local workspace)\n", out.User, out.SessionWorkspace)
	default:
		fmt.Fprintf(w, "Session:    %s\n", out.User)
	}

	last := "never"
	if out.LastSync != nil {
		last = formatTime(*out.LastSync)
	}

	fmt.Fprintf(w, "Last sync:  %s\n", last)
	fmt.Fprintf(w, "Remote:     %s (%s)\n", out.Remote, out.RemoteState)

	if out.WatchPID != 0 {
		fmt.Fprintf(w, "Watching:   PID %d\n", out.WatchPID)
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(out.Unsynced)+1)
	for _, c := range model.AllCollections() {
		rows = append(rows, []string{c.String(), fmt.Sprint(out.Unsynced[c.String()])})
	}

	rows = append(rows, []string{"deletions", fmt.Sprint(out.PendingDeletions)})

	printTable(w, []string{"PENDING", "COUNT"}, rows)
}
