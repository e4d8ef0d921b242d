package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Show the active workspace",
		Args:  cobra.NoArgs,
		RunE:  runWorkspaceShow,
	}

	cmd.AddCommand(newWorkspaceSetCmd())

	return cmd
}

func newWorkspaceSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Switch to another workspace",
		Long: `Make <id> the active workspace. Each workspace has its own dataset, so
switching wipes the local store. Sign in to the new workspace to sync it.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkspaceSet,
	}

	cmd.Flags().Bool("force", false, "discard unsynced changes of the current workspace")

	return cmd
}

func runWorkspaceShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		ws, err := a.store.Workspace(ctx)
		if err != nil {
			return err
		}

		session := ""
		if s := a.sessions.Session(); s != nil {
			session = s.Workspace
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			return printJSON(w, map[string]string{"workspace": ws, "session_workspace": session})
		}

		if ws == "" {
			fmt.Fprintln(w, "No active workspace.")
			return nil
		}

		fmt.Fprintln(w, ws)

		if session != "" && session != ws {
			cc.Statusf("Signed in to %s: run 'cardsync login --workspace %s' to sync this workspace.\n", session, ws)
		}

		return nil
	})
}

func runWorkspaceSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	target := args[0]
	force, _ := cmd.Flags().GetBool("force")

	return withApp(ctx, func(a *app) error {
		if err := checkDiscard(ctx, a, target, force); err != nil {
			return err
		}

		release, err := a.lockSync()
		if err != nil {
			return fmt.Errorf("%w: stop it before switching workspace", err)
		}
		defer release()

		if err := a.coordinator(false).SwitchWorkspace(ctx, target); err != nil {
			return err
		}

		cc.Statusf("Active workspace: %s\n", target)

		if s := a.sessions.Session(); s == nil || s.Workspace != target {
			cc.Statusf("Run 'cardsync login --workspace %s' to sync it.\n", target)
			return nil
		}

		if !cc.Flags.Offline {
			a.syncQuietly(ctx)
		}

		return nil
	})
}
