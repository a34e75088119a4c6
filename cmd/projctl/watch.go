package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/projectd/internal/monitor"
)

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(watchCmd)
}

// watchCmd runs the live sync dashboard
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of store and sync status",
	Long: `Open a terminal dashboard that polls the daemon and charts project counts,
failed outcomes and pass durations.

Keys: [q] quit  [r] refresh  [s] queue a sync pass`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		model := monitor.NewModel(newClient(), serverURL, watchInterval)
		p := tea.NewProgram(model,
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
			tea.WithInput(cmd.InOrStdin()),
			tea.WithOutput(cmd.OutOrStdout()),
		)
		_, err := p.Run()
		return err
	},
}
