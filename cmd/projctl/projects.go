package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

const maxStdinPayload = 16 << 20

func init() {
	rootCmd.AddCommand(saveCmd, loadCmd, listCmd, deleteCmd, offlineCmd)
}

// saveCmd stores a payload locally
var saveCmd = &cobra.Command{
	Use:   "save <id> [payload]",
	Short: "Save a project to the local table",
	Long: `Save a project payload to the local table. Without a payload argument the
payload is read from stdin.

Examples:
  # Save inline
  projctl save notes "first draft"

  # Save a file
  projctl save notes < notes.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadArg(cmd, args[1:])
		if err != nil {
			return err
		}
		v, err := newClient().Save(cmd.Context(), args[0], payload)
		if err != nil {
			return wrapErr(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (version %d)\n", args[0], v)
		return nil
	},
}

// loadCmd prints a stored payload
var loadCmd = &cobra.Command{
	Use:   "load <id>",
	Short: "Print a project payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := newClient().Load(cmd.Context(), args[0])
		if err != nil {
			return wrapErr(err)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), payload)
		return err
	},
}

// listCmd lists live project ids
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ids, err := newClient().List(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		if jsonOutput {
			if ids == nil {
				ids = []string{}
			}
			return writeJSON(cmd.OutOrStdout(), ids)
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

// deleteCmd removes a project
var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project",
	Long: `Delete a project from the local table. The deletion reaches the cloud on
the next sync.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
			return wrapErr(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

// offlineCmd dumps every live project
var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Print every locally available project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := newClient().Offline(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		if jsonOutput {
			if data == nil {
				data = map[string]string{}
			}
			return writeJSON(cmd.OutOrStdout(), data)
		}
		ids := make([]string, 0, len(data))
		for id := range data {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", labelStyle.Render(id), summarize(data[id], 60))
		}
		return nil
	},
}

// payloadArg returns the inline payload or reads stdin.
func payloadArg(cmd *cobra.Command, rest []string) (string, error) {
	if len(rest) > 0 {
		return rest[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxStdinPayload+1))
	if err != nil {
		return "", fmt.Errorf("failed to read payload from stdin: %w", err)
	}
	if len(data) > maxStdinPayload {
		return "", fmt.Errorf("payload exceeds %d bytes", maxStdinPayload)
	}
	return string(data), nil
}

// summarize shortens s to at most n runes on a single line.
func summarize(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' {
			r = append(r[:i:i], '…')
			break
		}
	}
	if len(r) > n {
		r = append(r[:n-1:n-1], '…')
	}
	return string(r)
}
