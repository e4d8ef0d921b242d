package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	w := cmd.OutOrStdout()

	// The hub signing key never leaves the config file.
	cfg := *cc.Cfg.Config
	if cfg.Hub.SigningKey != "" {
		cfg.Hub.SigningKey = "<redacted>"
	}

	cfg.Hub.Users = nil

	if cc.Flags.JSON {
		return printJSON(w, cfg)
	}

	fmt.Fprintf(w, "# config file: %s\n# data dir:    %s\n\n", cc.Cfg.ConfigPath, cc.Cfg.DataDir)

	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
