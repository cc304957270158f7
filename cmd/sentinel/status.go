package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show scheduler state and upcoming checks",
	Aliases: []string{"st"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client.Status()
		if err != nil {
			return fmt.Errorf("failed to fetch status: %w", err)
		}
		renderStatus(os.Stdout, st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(w io.Writer, st models.Status) {
	state := unhealthy.Render("stopped")
	if st.Running {
		state = healthy.Render("running")
	}
	fmt.Fprintln(w, bannerStyle.Render("SENTINEL")+"  "+statusDot(st.Running)+" "+state)
	fmt.Fprintln(w)

	fmt.Fprintln(w, keyStyle.Render("Sources")+fmt.Sprintf("%d active / %d total", st.ActiveSources, st.TotalSources))
	if len(st.SourcesByType) > 0 {
		types := make([]string, 0, len(st.SourcesByType))
		for t, n := range st.SourcesByType {
			types = append(types, fmt.Sprintf("%s=%d", t, n))
		}
		sort.Strings(types)
		fmt.Fprintln(w, keyStyle.Render("By type")+strings.Join(types, " "))
	}

	perf := st.Performance
	ticks := fmt.Sprintf("%d (%d ok)", perf.TotalTicks, perf.SuccessfulTicks)
	if perf.SuccessfulTicks < perf.TotalTicks {
		ticks = warning.Render(ticks)
	}
	fmt.Fprintln(w, keyStyle.Render("Ticks")+ticks)
	fmt.Fprintln(w, keyStyle.Render("Tick latency")+fmt.Sprintf("avg %.3fs  p95 %.3fs", perf.AvgTickSeconds, perf.P95TickSeconds))
	fmt.Fprintln(w, keyStyle.Render("Patterns")+fmt.Sprintf("%d", perf.PatternsDetected))
	fmt.Fprintln(w, keyStyle.Render("Alerts")+fmt.Sprintf("%d", perf.AlertsGenerated))
	fmt.Fprintln(w)

	if len(st.Upcoming) == 0 {
		fmt.Fprintln(w, dimText.Render("No upcoming checks."))
		return
	}
	header := fmt.Sprintf("  %-24s %-10s %s", "SOURCE", "TIER", "NEXT")
	fmt.Fprintln(w, tableHeader.Render(header))
	for _, up := range st.Upcoming {
		name := up.Name
		if name == "" {
			name = up.SourceID
		}
		next := utils.HumanDuration(up.TimeUntil)
		if up.TimeUntil <= 0 {
			next = warning.Render(next)
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			boldText.Render(padRight(name, 24)),
			tierBadge.Render(padRight(string(up.Frequency), 10)),
			next,
		)
	}
}
