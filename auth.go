package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a workspace",
		Long: `Sign in to the workspace given by --workspace (or [sync] workspace).

The password is read from the first line of standard input when --password
is not given. Signing in to a different workspace than the local store holds
replaces the local data with that workspace's.`,
		RunE: runLogin,
	}

	cmd.Flags().String("user", "", "user name")
	cmd.Flags().String("password", "", "password (read from stdin when omitted)")
	cmd.Flags().Bool("force", false, "discard unsynced changes of the previous workspace")

	if err := cmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Push pending changes, wipe local data and sign out",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user and workspace",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	ws := cc.Cfg.Sync.Workspace
	if ws == "" {
		return errors.New("login needs a workspace: pass --workspace or set [sync] workspace")
	}

	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	force, _ := cmd.Flags().GetBool("force")

	if password == "" {
		var err error

		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	return withApp(ctx, func(a *app) error {
		if err := checkDiscard(ctx, a, ws, force); err != nil {
			return err
		}

		release, err := a.lockSync()
		if errors.Is(err, errSyncLocked) {
			// A running `sync --watch` follows the session file and switches
			// workspace itself.
			sess, loginErr := a.sessions.Login(ctx, ws, user, password)
			if loginErr != nil {
				return loginErr
			}

			cc.Statusf("Signed in to %s as %s; the running sync picks the session up.\n", sess.Workspace, sess.User)

			return nil
		}

		if err != nil {
			return err
		}
		defer release()

		sess, err := a.sessions.Login(ctx, ws, user, password)
		if err != nil {
			return err
		}

		if err := a.coordinator(false).SwitchWorkspace(ctx, sess.Workspace); err != nil {
			return err
		}

		cc.Statusf("Signed in to %s as %s.\n", sess.Workspace, sess.User)

		// Pull the workspace right away.
		if !cc.Flags.Offline {
			a.syncQuietly(ctx)
		}

		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		if a.sessions.Session() == nil {
			cc.Statusf("Not signed in.\n")
			return nil
		}

		release, err := a.lockSync()
		if err != nil {
			return fmt.Errorf("%w: stop it before logging out", err)
		}
		defer release()

		if !cc.Flags.Offline {
			a.monitor.Probe(ctx)
		}

		if err := a.coordinator(false).SignOut(ctx); err != nil {
			return err
		}

		cc.Statusf("Signed out.\n")

		return nil
	})
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	SignedIn  bool   `json:"signed_in"`
	User      string `json:"user,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Expiry    string `json:"token_expiry,omitempty"`
	Remote    string `json:"remote"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		out := whoamiOutput{Remote: a.client.BaseURL()}

		if s := a.sessions.Session(); s != nil {
			out.SignedIn = true
			out.User = s.User
			out.Workspace = s.Workspace

			if !s.Expiry.IsZero() {
				out.Expiry = s.Expiry.UTC().Format(time.RFC3339)
			}
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			return printJSON(w, out)
		}

		if !out.SignedIn {
			fmt.Fprintf(w, "Not signed in to %s. Run 'cardsync login' first.\n", out.Remote)
			return nil
		}

		fmt.Fprintf(w, "User:      %s\n", out.User)
		fmt.Fprintf(w, "Workspace: %s\n", out.Workspace)
		fmt.Fprintf(w, "Remote:    %s\n", out.Remote)

		return nil
	})
}

// readPassword reads one line from r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password: pass --password or pipe it on stdin")
	}

	return password, nil
}

// checkDiscard refuses to leave a workspace with unsynced changes unless
// force is set: a workspace switch wipes the local store.
func checkDiscard(ctx context.Context, a *app, target string, force bool) error {
	current, err := a.store.Workspace(ctx)
	if err != nil || current == "" || current == target {
		return err
	}

	dirty, err := countUnsynced(ctx, a)
	if err != nil {
		return err
	}

	if dirty == 0 {
		return nil
	}

	if force {
		a.cc.Statusf("Discarding %d unsynced change(s) in workspace %s.\n", dirty, current)
		return nil
	}

	return fmt.Errorf("%d unsynced change(s) in workspace %s would be discarded: run 'cardsync sync' first or pass --force",
		dirty, current)
}

// countUnsynced counts dirty records plus unacknowledged deletions.
func countUnsynced(ctx context.Context, a *app) (int, error) {
	counts, err := a.store.CountDirty(ctx)
	if err != nil {
		return 0, err
	}

	pending, err := a.store.ListPendingDeletions(ctx)
	if err != nil {
		return 0, err
	}

	total := len(pending)
	for _, n := range counts {
		total += n
	}

	return total, nil
}
