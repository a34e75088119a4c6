package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/projectd/internal/backend"
	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
	maxFailedShown  = 5
)

// Source is the part of the projectd client the dashboard needs.
type Source interface {
	Stats(ctx context.Context) (*backend.Stats, error)
	Sync(ctx context.Context, async bool) (*syncengine.Report, bool, error)
}

// Model is the bubbletea model behind `projctl watch`.
type Model struct {
	source     Source
	server     string
	interval   time.Duration
	now        func() time.Time
	lastUpdate time.Time
	snapshot   Snapshot
	notice     string
	err        error
	quitting   bool

	passProgress progress.Model
}

// Snapshot holds the latest stats plus the history behind the sparklines.
type Snapshot struct {
	Stats backend.Stats

	LiveHistory     []float64
	FailedHistory   []float64
	DurationHistory []float64

	// lastPassID keeps a pass from being pushed into the histories twice.
	lastPassID string
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling source every interval. server is
// only displayed.
func NewModel(source Source, server string, interval time.Duration) Model {
	return Model{
		source:   source,
		server:   server,
		interval: interval,
		now:      time.Now,
		passProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			LiveHistory:     make([]float64, 0, historySize),
			FailedHistory:   make([]float64, 0, historySize),
			DurationHistory: make([]float64, 0, historySize),
		},
	}
}

// Snapshot returns the data the model last rendered.
func (m Model) Snapshot() Snapshot { return m.snapshot }

func circuitBadge(state string) string {
	switch state {
	case "closed":
		return healthyStyle.Render("✓ CLOSED")
	case "half-open":
		return warningStyle.Render("⚠ HALF-OPEN")
	case "open":
		return errorStyle.Render("✗ OPEN")
	default:
		return dimStyle.Render("no breaker")
	}
}

func passBadge(r *syncengine.Report) string {
	switch {
	case r == nil:
		return dimStyle.Render("no pass yet")
	case r.Cancelled:
		return warningStyle.Render("⚠ CANCELLED")
	case len(r.Failed()) > 0:
		return errorStyle.Render("✗ FAILURES")
	default:
		return healthyStyle.Render("✓ OK")
	}
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type statsMsg backend.Stats
type syncMsg struct {
	report *syncengine.Report
	queued bool
}
type errMsg struct{ err error }

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStats(m.source),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStats(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		stats, err := source.Stats(ctx)
		if err != nil {
			return errMsg{err}
		}
		return statsMsg(*stats)
	}
}

func triggerSync(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		report, queued, err := source.Sync(ctx, true)
		if err != nil {
			return errMsg{err}
		}
		return syncMsg{report: report, queued: queued}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStats(m.source)
		case "s":
			m.notice = "sync requested"
			return m, triggerSync(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStats(m.source),
		)

	case statsMsg:
		m.snapshot = m.snapshot.with(backend.Stats(msg))
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case syncMsg:
		switch {
		case msg.queued:
			m.notice = "sync queued"
		case msg.report != nil:
			m.notice = "sync finished: " + FormatCounts(msg.report.Counts())
		default:
			m.notice = "sync not queued"
		}
		return m, fetchStats(m.source)

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// with folds stats into the snapshot. The live count is sampled on every
// refresh; pass figures only when a new pass shows up.
func (s Snapshot) with(stats backend.Stats) Snapshot {
	next := Snapshot{
		Stats:           stats,
		LiveHistory:     appendToHistory(s.LiveHistory, float64(stats.Projects.Live)),
		FailedHistory:   s.FailedHistory,
		DurationHistory: s.DurationHistory,
		lastPassID:      s.lastPassID,
	}
	if p := stats.LastPass; p != nil && p.PassID != s.lastPassID {
		next.FailedHistory = appendToHistory(s.FailedHistory, float64(len(p.Failed())))
		next.DurationHistory = appendToHistory(s.DurationHistory, float64(p.Duration().Milliseconds()))
		next.lastPassID = p.PassID
	}
	return next
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" projectd sync ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach projectd") + "\n\n")
	b.WriteString(dimStyle.Render("Server: ") + valueStyle.Render(m.server) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the backend with `projectd serve`.") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	st := m.snapshot.Stats
	pass := st.LastPass

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" projectd sync ") + "\n")
	fmt.Fprintf(&b, "%s   %s   %s\n",
		passBadge(pass),
		dimStyle.Render(m.server),
		dimStyle.Render(lastUpdate))

	b.WriteString("\n" + sectionStyle.Render("┃ Local store") + "\n")
	b.WriteString(labelStyle.Render("  Live: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.Projects.Live)) +
		labelStyle.Render("  Tombstones: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.Projects.Tombstones)) +
		labelStyle.Render("  Max version: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.Projects.MaxVersion)) + "\n")
	b.WriteString(labelStyle.Render("  History: ") + createSparkline(m.snapshot.LiveHistory) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Remote") + "\n")
	b.WriteString(labelStyle.Render("  Circuit: ") + circuitBadge(st.Circuit) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Last pass") + "\n")
	if pass == nil {
		b.WriteString(dimStyle.Render("  No full pass has run yet.") + "\n")
	} else {
		b.WriteString(labelStyle.Render("  Pass: ") + valueStyle.Render(pass.PassID) +
			dimStyle.Render("  "+FormatAge(pass.FinishedAt, m.now())) +
			labelStyle.Render("  Took: ") + valueStyle.Render(FormatDuration(pass.Duration())) + "\n")
		b.WriteString(labelStyle.Render("  Outcomes: ") + valueStyle.Render(FormatCounts(pass.Counts())) + "\n")

		ratio := SuccessRatio(pass)
		b.WriteString(labelStyle.Render("  Success: ") +
			m.passProgress.ViewAs(ratio) +
			" " + dimStyle.Render(FormatPercentage(ratio)) + "\n")

		failed := pass.Failed()
		for i, o := range failed {
			if i == maxFailedShown {
				b.WriteString(dimStyle.Render(fmt.Sprintf("    ... %d more", len(failed)-maxFailedShown)) + "\n")
				break
			}
			b.WriteString("    " + errorStyle.Render("✗ "+o.ID) + dimStyle.Render(" "+o.Kind+": "+o.Error) + "\n")
		}
	}
	b.WriteString(labelStyle.Render("  Failed/pass: ") + createSparkline(m.snapshot.FailedHistory) + "\n")
	b.WriteString(labelStyle.Render("  Duration ms: ") + createSparkline(m.snapshot.DurationHistory) + "\n")

	if m.notice != "" {
		b.WriteString("\n" + dimStyle.Render(m.notice) + "\n")
	}

	b.WriteString("\n" +
		footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[s]") + footerStyle.Render(" sync  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval)))

	return containerStyle.Render(b.String())
}
