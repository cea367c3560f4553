package main

import (
	"errors"

	"github.com/maruel/ghdocs/internal/config"
	"github.com/spf13/cobra"
)

func newReposCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List the repositories the GitHub App installation can access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.InstallationID == 0 {
				return errors.New("installation_id is required")
			}
			gh, err := appClient(cfg)
			if err != nil {
				return err
			}
			repos, err := gh.ListInstallationRepos(cmd.Context(), cfg.InstallationID)
			if err != nil {
				return err
			}
			return a.print(repos)
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			b, err := config.Schema()
			if err != nil {
				return err
			}
			b = append(b, '\n')
			_, err = a.stdout.Write(b)
			return err
		},
	}, &cobra.Command{
		Use:   "check",
		Short: "Validate the merged configuration and print it without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.PersonalAccessToken != "" {
				cfg.PersonalAccessToken = "<redacted>"
			}
			return a.print(cfg)
		},
	})
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			printVersion(a.stdout)
		},
	}
}
