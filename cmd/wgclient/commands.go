package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/go-i2p/wgclient/lib/config"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/tui"
)

func newServersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List exit locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.Servers(cfg.Servers, ""))
			return nil
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "export <server>",
		Short: "Print a wg-quick configuration for an exit location",
		Long: `Request a connection profile and print it as a wg-quick configuration.
The output contains the private key; it is valid until the service rotates it.

With --save the configuration is written to exports/<server>.conf in the
data directory instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExport(cmd, args[0], save)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write to the data directory instead of stdout")
	return cmd
}

func (a *app) runExport(cmd *cobra.Command, serverID string, save bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := knownServer(cfg, serverID); err != nil {
		return err
	}
	issuer, err := a.issuer(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Credential.RequestTimeout*4)
	defer cancel()

	grant, err := issuer.RequestConnection(ctx, serverID)
	if err != nil {
		return err
	}
	p, err := profile.Parse(grant.Profile)
	if err != nil {
		return err
	}
	tc, err := builder(cfg).Build(ctx, p, cfg.Client.ApplicationID, cfg.OutOfBandHosts())
	if err != nil {
		return err
	}

	log.WithField("server_id", serverID).
		WithField("refresh_in", grant.SecondsUntilRefresh).
		Debug("exported connection profile")
	if !save {
		fmt.Fprint(cmd.OutOrStdout(), tc.WGQuick())
		return nil
	}

	path, err := saveExport(cfg, serverID, tc.WGQuick())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.Success("saved "+path))
	return nil
}

// saveExport writes a wg-quick configuration under the data directory. The
// file holds a private key and is readable only by its owner.
func saveExport(cfg *config.Config, serverID, conf string) (string, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	path := cfg.DataPath("exports", serverID+".conf")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

func newLoginCommand(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the access token in the system keyring",
		Long: `Store the access token used to request connection profiles.
Without --token the token is read from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if token == "" {
				token, err = readToken(cmd)
				if err != nil {
					return err
				}
			}
			if err := a.tokenStore(cfg).SetToken(token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Access token saved"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "access token")
	return cmd
}

func readToken(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Access token: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.tokenStore(cfg).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Access token removed"))
			return nil
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.SaveConfig(config.DefaultConfig(), a.configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Wrote "+a.configPath))
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
