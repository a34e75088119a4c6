package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	"github.com/fyrsmithlabs/projectd/internal/monitor"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

var (
	syncPayload string
	syncAsync   bool
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func init() {
	syncCmd.Flags().StringVar(&syncPayload, "payload", "", "payload to save before syncing a single project")
	syncCmd.Flags().BoolVar(&syncAsync, "async", false, "queue a background pass instead of waiting")
	rootCmd.AddCommand(syncCmd, statsCmd)
}

// syncCmd reconciles the local table with the cloud
var syncCmd = &cobra.Command{
	Use:   "sync [id]",
	Short: "Reconcile local projects with the cloud",
	Long: `Run a reconciliation pass between the local table and the cloud remote.

With an id, the payload given by --payload is saved first and only that
project is reconciled. Without one, every project on either side is.

Examples:
  # Full pass
  projctl sync

  # Save and push a single project
  projctl sync notes --payload "final"

  # Ask the daemon to run a pass in the background
  projctl sync --async`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var report *syncengine.Report

		if len(args) == 1 {
			if syncAsync {
				return fmt.Errorf("--async only applies to full passes")
			}
			if !cmd.Flags().Changed("payload") {
				return fmt.Errorf("--payload is required when syncing a single project")
			}
			r, err := c.SyncProject(cmd.Context(), args[0], syncPayload)
			if err != nil {
				return wrapErr(err)
			}
			report = r
		} else {
			r, queued, err := c.Sync(cmd.Context(), syncAsync)
			if err != nil {
				return wrapErr(err)
			}
			if syncAsync {
				if queued {
					fmt.Fprintln(cmd.OutOrStdout(), "Sync queued")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Sync not queued: no scheduler or a pass is already pending")
				}
				return nil
			}
			report = r
		}

		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			renderReport(cmd.OutOrStdout(), report)
		}
		if report != nil {
			if n := len(report.Failed()); n > 0 {
				return fmt.Errorf("%d project(s) failed to sync", n)
			}
			if report.Cancelled {
				return fmt.Errorf("sync pass was cancelled")
			}
		}
		return nil
	},
}

// statsCmd shows store counters and the last pass
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local store and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := newClient().Stats(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		renderStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func resultStyle(r syncengine.Result) lipgloss.Style {
	switch r {
	case syncengine.ResultFailed:
		return errStyle
	case syncengine.ResultConflictResolved:
		return warnStyle
	case syncengine.ResultUnchanged:
		return dimStyle
	default:
		return okStyle
	}
}

func renderReport(w io.Writer, r *syncengine.Report) {
	if r == nil {
		fmt.Fprintln(w, dimStyle.Render("No report"))
		return
	}

	title := "Sync pass " + r.PassID
	if r.Scope != "" {
		title += " (" + r.Scope + ")"
	}
	fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(title), dimStyle.Render(monitor.FormatDuration(r.Duration())))

	width := 0
	for _, o := range r.Outcomes {
		width = max(width, len(o.ID))
	}
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-*s  %s", width, o.ID, resultStyle(o.Result).Render(string(o.Result)))
		if o.Result == syncengine.ResultFailed {
			line += dimStyle.Render("  " + o.Kind + ": " + o.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, labelStyle.Render("Summary: ")+monitor.FormatCounts(r.Counts()))
	if r.Cancelled {
		fmt.Fprintln(w, warnStyle.Render("Pass was cancelled before it finished"))
	}
}

func renderStats(w io.Writer, s *backend.Stats) {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Local store") + "\n")
	fmt.Fprintf(&b, "  %s %d   %s %d   %s %d\n",
		labelStyle.Render("Live:"), s.Projects.Live,
		labelStyle.Render("Tombstones:"), s.Projects.Tombstones,
		labelStyle.Render("Max version:"), s.Projects.MaxVersion)

	circuit := s.Circuit
	switch circuit {
	case "":
		circuit = dimStyle.Render("disabled")
	case "closed":
		circuit = okStyle.Render(circuit)
	case "open":
		circuit = errStyle.Render(circuit)
	default:
		circuit = warnStyle.Render(circuit)
	}
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Circuit:"), circuit)

	b.WriteString(titleStyle.Render("Last full pass") + "\n")
	if s.LastPass == nil {
		b.WriteString(dimStyle.Render("  none yet") + "\n")
	} else {
		p := s.LastPass
		fmt.Fprintf(&b, "  %s %s   %s %s\n",
			labelStyle.Render("Pass:"), p.PassID,
			labelStyle.Render("Finished:"), p.FinishedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "  %s %s   %s %s\n",
			labelStyle.Render("Outcomes:"), monitor.FormatCounts(p.Counts()),
			labelStyle.Render("Success:"), monitor.FormatPercentage(monitor.SuccessRatio(p)))
	}
	_, _ = io.WriteString(w, b.String())
}
