package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var sourcesCmd = &cobra.Command{
	Use:     "sources",
	Short:   "List and manage monitored sources",
	Aliases: []string{"src"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := client.ListSources()
		if err != nil {
			return fmt.Errorf("failed to fetch sources: %w", err)
		}
		renderSources(os.Stdout, sources, time.Now())
		return nil
	},
}

var (
	addName       string
	addFrequency  string
	addWeight     float64
	addDisabled   bool
	addParams     []string
	addThresholds []string
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add <id> <type>",
	Short: "Register or update a source",
	Example: `  sentinel sources add orders-api http --param url=https://orders/api/items --frequency high
  sentinel sources add billing-db sql --param dsn=postgres://... --param "query=SELECT count(*) FROM invoices" --threshold changes_detected=100`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseKeyValues(addParams)
		if err != nil {
			return err
		}
		thresholds, err := parseKeyValues(addThresholds)
		if err != nil {
			return err
		}
		enabled := !addDisabled
		src, err := client.RegisterSource(sourcePayload{
			ID:              args[0],
			Type:            args[1],
			Name:            addName,
			Frequency:       addFrequency,
			Enabled:         &enabled,
			FreshnessWeight: addWeight,
			QueryParameters: params,
			AlertThresholds: thresholds,
		})
		if err != nil {
			return err
		}
		fmt.Println(successBox.Render("registered " + src.ID))
		return nil
	},
}

var historyLimit int

var sourcesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a source and its recent probe results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := client.GetSource(args[0])
		if err != nil {
			return err
		}
		results, err := client.RecentResults(args[0], historyLimit)
		if err != nil {
			return err
		}
		renderSourceDetail(os.Stdout, src, results, time.Now())
		return nil
	},
}

func sourceActionCmd(action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := client.SourceAction(args[0], action)
			if err != nil {
				return err
			}
			fmt.Println(successBox.Render(done + " " + src.ID))
			return nil
		},
	}
}

func init() {
	sourcesAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	sourcesAddCmd.Flags().StringVar(&addFrequency, "frequency", "normal", "Frequency tier (critical, high, normal, low, minimal)")
	sourcesAddCmd.Flags().Float64Var(&addWeight, "freshness-weight", 1, "Interval multiplier applied to the tier")
	sourcesAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Register without scheduling")
	sourcesAddCmd.Flags().StringArrayVar(&addParams, "param", nil, "Query parameter as key=value (repeatable)")
	sourcesAddCmd.Flags().StringArrayVar(&addThresholds, "threshold", nil, "Alert threshold as key=value (repeatable)")

	sourcesShowCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of recent results to show")

	sourcesCmd.AddCommand(
		sourcesAddCmd,
		sourcesShowCmd,
		sourceActionCmd("enable", "Enable a source and schedule it immediately", "enabled"),
		sourceActionCmd("disable", "Stop scheduling a source", "disabled"),
		sourceActionCmd("trigger", "Probe a source on the next tick", "triggered"),
	)
	rootCmd.AddCommand(sourcesCmd)
}

// parseKeyValues turns key=value flags into a map. Values that parse as JSON
// (numbers, booleans) keep their type; everything else stays a string.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			switch decoded.(type) {
			case float64, bool:
				out[key] = decoded
				continue
			}
		}
		out[key] = value
	}
	return out, nil
}

func renderSources(w io.Writer, sources []models.Source, now time.Time) {
	if len(sources) == 0 {
		fmt.Fprintln(w, dimText.Render("No sources registered."))
		return
	}
	fmt.Fprintln(w, bannerStyle.Render("SOURCES")+subtitle.Render(fmt.Sprintf("  %d registered", len(sources))))
	fmt.Fprintln(w)

	header := fmt.Sprintf("  %-2s  %-24s %-8s %-10s %-9s %-8s %s", "", "SOURCE", "TYPE", "TIER", "SUCCESS", "FAILS", "NEXT")
	fmt.Fprintln(w, tableHeader.Render(header))
	for _, src := range sources {
		fmt.Fprintf(w, "  %s  %s %s %s %s %s %s\n",
			statusDot(src.Enabled && src.FailureCount == 0),
			boldText.Render(padRight(src.ID, 24)),
			padRight(string(src.Type), 8),
			tierBadge.Render(padRight(string(src.Frequency), 10)),
			padRight(fmt.Sprintf("%.0f%%", src.SuccessRate*100), 9),
			padRight(fmt.Sprintf("%d", src.FailureCount), 8),
			nextCheckLabel(src, now),
		)
	}
}

func nextCheckLabel(src models.Source, now time.Time) string {
	switch {
	case !src.Enabled:
		return dimText.Render("disabled")
	case src.NextCheck == nil:
		return dimText.Render("unscheduled")
	default:
		return utils.HumanDuration(src.NextCheck.Sub(now))
	}
}

func renderSourceDetail(w io.Writer, src models.Source, results []models.ProbeResult, now time.Time) {
	title := src.ID
	if src.Name != "" && src.Name != src.ID {
		title = src.Name + dimText.Render(" ("+src.ID+")")
	}
	fmt.Fprintln(w, statusDot(src.Enabled && src.FailureCount == 0)+" "+bannerStyle.Render(title))
	fmt.Fprintln(w)
	fmt.Fprintln(w, keyStyle.Render("Type")+string(src.Type))
	fmt.Fprintln(w, keyStyle.Render("Tier")+tierBadge.Render(string(src.Frequency)))
	fmt.Fprintln(w, keyStyle.Render("Next check")+nextCheckLabel(src, now))
	fmt.Fprintln(w, keyStyle.Render("Success rate")+fmt.Sprintf("%.1f%%", src.SuccessRate*100))
	fmt.Fprintln(w, keyStyle.Render("Failures")+fmt.Sprintf("%d", src.FailureCount))
	fmt.Fprintln(w, keyStyle.Render("Avg probe time")+fmt.Sprintf("%.3fs", src.AvgProcessingTime))
	fmt.Fprintln(w, keyStyle.Render("Freshness weight")+fmt.Sprintf("%.2f", src.DataFreshnessWeight))
	fmt.Fprintln(w)

	if len(results) == 0 {
		fmt.Fprintln(w, dimText.Render("No probe results yet."))
		return
	}
	header := fmt.Sprintf("  %-2s  %-20s %-8s %-8s %-8s %s", "", "WHEN", "CHANGES", "POINTS", "TIME", "ERROR")
	fmt.Fprintln(w, tableHeader.Render(header))
	for _, r := range results {
		errText := ""
		if r.ErrorMessage != nil {
			errText = unhealthy.Render(*r.ErrorMessage)
		}
		fmt.Fprintf(w, "  %s  %s %s %s %s %s\n",
			statusDot(r.Success),
			padRight(r.Timestamp.Local().Format("2006-01-02 15:04:05"), 20),
			padRight(fmt.Sprintf("%d", r.ChangesDetected), 8),
			padRight(fmt.Sprintf("%d", r.DataPoints), 8),
			padRight(fmt.Sprintf("%.2fs", r.ProcessingTime), 8),
			errText,
		)
	}
}
