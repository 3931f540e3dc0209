package ui

import (
	"fmt"
	"strings"
	"time"

	"landscraper/pkg/checkpoint"
	"landscraper/pkg/guard"
	"landscraper/pkg/models"
	"landscraper/pkg/scraper"
	"landscraper/pkg/watchdog"
)

const (
	barFull  = "━"
	barEmpty = "─"
	barWidth = 20
)

// Status is everything the status command shows
type Status struct {
	CheckpointPath string
	Summary        checkpoint.Summary
	MarkerPath     string
	Marker         *guard.Marker
	MarkerErr      error
	OwnerAlive     bool
	Decision       watchdog.Decision
	Now            time.Time
}

// PrintStatus prints checkpoint progress, the run marker and the watchdog's
// verdict
func PrintStatus(s Status) {
	if IsQuietMode() {
		return
	}

	sum := s.Summary
	done := sum.Completed
	total := sum.Valid

	fmt.Fprintf(Out, "\n%s %s\n", Magenta("[CHECKPOINT]"), Dim(s.CheckpointPath))
	fmt.Fprintf(Out, "  [%s] %d/%d regions extracted\n", progressBar(done, total), done, total)
	fmt.Fprintf(Out, "  %s valid %d • completed %d • pending %d • failed %d\n",
		Dim("•"), sum.Valid, sum.Completed, len(sum.Pending), sum.Failed)
	if len(sum.Pending) > 0 {
		fmt.Fprintf(Out, "  %s pending: %s\n", Dim("•"), joinIDs(sum.Pending))
	}
	if len(sum.FailedIDs) > 0 {
		fmt.Fprintf(Out, "  %s failed: %s\n", Red("•"), joinIDs(sum.FailedIDs))
	}
	if !sum.LastRun.IsZero() {
		fmt.Fprintf(Out, "  %s last saved %s ago\n", Dim("•"), formatDuration(s.Now.Sub(sum.LastRun)))
	}

	fmt.Fprintf(Out, "\n%s %s\n", Magenta("[RUN MARKER]"), Dim(s.MarkerPath))
	switch {
	case s.Marker != nil:
		state := Red("dead")
		if s.OwnerAlive {
			state = Green("alive")
		}
		fmt.Fprintf(Out, "  pid %d (%s) • acquired %s ago", s.Marker.PID, state, formatDuration(s.Marker.Age(s.Now)))
		if s.Marker.RunID != "" {
			fmt.Fprintf(Out, " • run %s", s.Marker.RunID)
		}
		fmt.Fprintln(Out)
	case s.MarkerErr != nil:
		fmt.Fprintf(Out, "  %s\n", Yellow(s.MarkerErr.Error()))
	default:
		fmt.Fprintln(Out, "  none")
	}

	verdict := Green("healthy")
	if s.Decision.Restart {
		verdict = Yellow("restart needed")
	}
	fmt.Fprintf(Out, "\n%s %s\n", Magenta("[WATCHDOG]"), verdict)
	fmt.Fprintf(Out, "  %s %s: %s\n\n", Dim("•"), s.Decision.Step, s.Decision.Reason)
}

// PrintReport prints the outcome of a run
func PrintReport(r *scraper.Report) {
	if IsQuietMode() || r == nil {
		return
	}

	succeeded := r.Succeeded()
	features := 0
	for _, o := range succeeded {
		features += o.FeatureCount
	}

	mark := Green("✓")
	if r.Interrupted {
		mark = Yellow("⚠")
	}
	fmt.Fprintf(Out, "\n%s Downloaded %d of %d regions (%d features)\n", mark, len(succeeded), len(r.Outcomes), features)
	fmt.Fprintf(Out, "  %s probed %d • valid %d • invalid %d • unreachable %d\n",
		Dim("•"), r.Probed, len(r.Valid), len(r.Invalid), len(r.Unreach))
	fmt.Fprintf(Out, "  %s %d regions completed in total, took %s\n", Dim("•"), r.TotalCompleted, formatDuration(r.Duration))

	if len(r.Failed) > 0 {
		fmt.Fprintf(Out, "  %s failed: %s\n", Red("•"), joinIDs(r.Failed))
	}
	if len(r.RetryCandidates) > 0 {
		fmt.Fprintf(Out, "  %s retry next run: %s\n", Yellow("•"), joinIDs(r.RetryCandidates))
	}
	if r.Interrupted {
		fmt.Fprintf(Out, "  %s interrupted, progress saved\n", Yellow("•"))
	}
}

// PrintOutcome prints the result of a single region download
func PrintOutcome(o models.DownloadOutcome) {
	switch {
	case o.Skipped:
		PrintInfo(fmt.Sprintf("Region %s", o.ID), "already extracted")
	case o.Completed:
		PrintSuccess(fmt.Sprintf("✓ Region %s: %d features → %s", o.ID, o.FeatureCount, o.Path))
	default:
		PrintError(fmt.Sprintf("✗ Region %s failed", o.ID), o.Err)
	}
}

func progressBar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat(barFull, filled) + strings.Repeat(barEmpty, barWidth-filled)
}

func joinIDs(ids []models.RegionID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.Key()
	}
	return strings.Join(parts, ", ")
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
