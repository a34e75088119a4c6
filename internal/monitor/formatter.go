package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/projectd/internal/syncengine"
)

// FormatDuration formats a pass duration as "850ms", "1.2s" or "3m 5s".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// FormatAge formats the time since t as "12s ago", "4m ago" or "2h 5m ago".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatCounts renders outcome counts in a fixed order, skipping zeros.
func FormatCounts(counts map[syncengine.Result]int) string {
	order := []struct {
		result syncengine.Result
		label  string
	}{
		{syncengine.ResultAppliedLocal, "pushed"},
		{syncengine.ResultAppliedRemote, "pulled"},
		{syncengine.ResultConflictResolved, "conflicts"},
		{syncengine.ResultUnchanged, "unchanged"},
		{syncengine.ResultFailed, "failed"},
	}
	var parts []string
	for _, o := range order {
		if n := counts[o.result]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o.label))
		}
	}
	if len(parts) == 0 {
		return "no projects"
	}
	return strings.Join(parts, "  ")
}

// SuccessRatio is the share of outcomes in r that did not fail. An empty
// pass counts as fully successful.
func SuccessRatio(r *syncengine.Report) float64 {
	if r == nil || len(r.Outcomes) == 0 {
		return 1
	}
	failed := len(r.Failed())
	return float64(len(r.Outcomes)-failed) / float64(len(r.Outcomes))
}

// FormatPercentage formats a ratio (0-1) as percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
