package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aide-sh/aide/internal/supervisor"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Terminal progress for downloads and long install steps.
// Shows: [=========>..........] 42% | 1.2 GB / 2.8 GB | ETA 35s

const barWidth = 30

type progressBar struct {
	started time.Time
}

func newProgressBar() *progressBar {
	return &progressBar{started: time.Now()}
}

// callback is compatible with the supervisor and fetch progress hooks.
func (p *progressBar) callback(status string, pct float64) {
	if !strings.HasPrefix(status, "downloading") {
		// Status lines from non-download steps, plain text.
		clearLine()
		if pct >= 100 {
			fmt.Fprintf(os.Stderr, "[done] %s\n", status)
		} else {
			fmt.Fprintf(os.Stderr, "  %s", status)
		}
		return
	}
	p.renderBar(status, pct)
}

func (p *progressBar) renderBar(status string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	switch {
	case filled == barWidth:
		bar = strings.Repeat("=", filled)
	case filled > 0:
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	default:
		bar = strings.Repeat(".", barWidth)
	}

	clearLine()
	fmt.Fprintf(os.Stderr, "  %s %3.0f%% | %s | %s",
		bar, pct, strings.TrimPrefix(status, "downloading "), p.eta(pct))
	if pct >= 100 {
		fmt.Fprintln(os.Stderr)
	}
}

func (p *progressBar) eta(pct float64) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}
	elapsed := time.Since(p.started).Seconds()
	if elapsed < 1 {
		return "ETA --"
	}

	remaining := elapsed/(pct/100) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	switch {
	case remaining < 60:
		return fmt.Sprintf("ETA %ds", int(remaining))
	case remaining < 3600:
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	default:
		return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
	}
}

func clearLine() {
	fmt.Fprintf(os.Stderr, "\r\033[K")
}

// ─── Install Summary ────────────────────────────────────────────────────────

// printSummary renders the outcome of an install or doctor pass.
func printSummary(w io.Writer, r *supervisor.Report) {
	clearLine()
	for _, s := range r.Steps {
		mark := "ok"
		switch {
		case !s.Healthy:
			mark = "FAIL"
		case s.Repaired:
			mark = "fixed"
		}
		line := fmt.Sprintf("[%-5s] %-12s %s", mark, s.Step, s.Duration.Round(time.Millisecond))
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Fprintln(w, line)
	}
	if len(r.FailedFeatures) > 0 {
		fmt.Fprintf(w, "Some optional features failed and will be retried: %s\n",
			strings.Join(r.FailedFeatures, ", "))
	}
	fmt.Fprintf(w, "State: %s\n", r.Phase)
}
