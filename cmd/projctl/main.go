// Package main implements projctl, the command-line front end for a running
// projectd daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/projectd/internal/client"
)

var (
	// serverURL is the base URL of the projectd HTTP server
	serverURL string
	// jsonOutput switches structured commands to JSON output
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "projctl",
	Short: "CLI for the projectd daemon",
	Long: `projctl talks to a running projectd daemon over HTTP. Every command works
offline against the local table; sync reconciles it with the cloud.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", client.DefaultServer, "projectd server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
	rootCmd.AddCommand(healthCmd)
}

// newClient returns a client for --server.
func newClient() *client.Client {
	return client.New(serverURL)
}

// wrapErr adds a hint when the daemon is not running.
func wrapErr(err error) error {
	if client.IsUnreachable(err) {
		return fmt.Errorf("%w\nIs projectd running? Start it with `projectd serve`", err)
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check projectd server health",
	Long: `Check the health status of the projectd HTTP server.

Examples:
  # Check health
  projctl health

  # Check health on a different server
  projctl health --server http://localhost:9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := newClient().Health(cmd.Context()); err != nil {
			return wrapErr(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s projectd is healthy at %s\n", okStyle.Render("✓"), serverURL)
		return nil
	},
}
