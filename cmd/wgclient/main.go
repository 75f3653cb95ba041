// wgclient keeps a single WireGuard VPN session alive against a credential
// service that issues short-lived connection profiles.
//
// Usage:
//
//	wgclient connect <server>   Connect and stay connected until interrupted
//	wgclient servers            List exit locations
//	wgclient export <server>    Print a wg-quick configuration for a server
//	wgclient login --token T    Store the access token in the system keyring
//	wgclient logout             Remove the stored access token
//	wgclient config init        Write a default configuration file
//	wgclient version            Print version information
//
// Logging verbosity follows the DEBUG_I2P environment variable
// (debug, warn or error).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-i2p/wgclient/lib/config"
	"github.com/go-i2p/wgclient/lib/tui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCommand(&app{})
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, tui.Failure(err))
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "wgclient",
		Short: "wgclient - WireGuard VPN session client",
		Long: `wgclient connects to a WireGuard exit location using short-lived
connection profiles and refreshes them before they expire.

QUICK START:

  # Store the access token issued by your account page:
  wgclient login --token <token>

  # Pick an exit location and connect:
  wgclient servers
  wgclient connect ca_tor

For more help on any command, use: wgclient <command> --help`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath(), "config file path")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable WireGuard device logging")

	root.AddCommand(
		newConnectCommand(a),
		newServersCommand(a),
		newExportCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return root
}
