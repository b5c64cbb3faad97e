package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/store"
)

// DefaultHistoryLimit is the default number of runs to show
const DefaultHistoryLimit = 20

// HistoryOutput represents the JSON output structure for run history
type HistoryOutput struct {
	Count int         `json:"count"`
	Runs  []store.Run `json:"runs"`
}

// RunHistory lists recent runs from the ledger.
func RunHistory(ctx context.Context, cfg *config.Config, cfgPath string, limit int, jsonOutput bool) error {
	if cfg.Store.Disabled {
		return fmt.Errorf("run ledger is disabled in the configuration")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	ledger, err := store.Open(cfg.StorePath(cfgPath))
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer func() { _ = ledger.Close() }()

	runs, err := ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(HistoryOutput{Count: len(runs), Runs: runs})
	}

	if len(runs) == 0 {
		fmt.Printf("%sNo runs recorded yet%s\n", colorYellow, colorReset)
		return nil
	}

	fmt.Printf("\n%s%sRun History%s (%d run(s))\n", colorBold, colorCyan, colorReset, len(runs))
	fmt.Printf("%s───────────────────────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("\n%s%-17s %-14s %-12s %6s %6s %9s  %s%s\n",
		colorBold, "STARTED", "MODE", "MODEL", "UNITS", "ARRAYS", "DURATION", "STATUS", colorReset)

	for _, run := range runs {
		model := run.Model
		if len(model) > 10 {
			model = model[:7] + "..."
		}
		fmt.Printf("%-17s %-14s %-12s %6d %6d %9s  %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Mode,
			model,
			run.UnitCount,
			run.ExtractionCount,
			formatRunDuration(run),
			formatRunStatus(run.Status))
	}

	fmt.Printf("\n%s───────────────────────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	return nil
}

func formatRunDuration(run store.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	d := run.FinishedAt.Sub(run.StartedAt)
	if d < 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatRunStatus(status string) string {
	switch status {
	case store.StatusCompleted:
		return colorGreen + status + colorReset
	case store.StatusFailed:
		return colorRed + status + colorReset
	case store.StatusRunning:
		return colorYellow + status + colorReset
	default:
		return status
	}
}
