// Package cmd provides CLI command implementations for the JSON Remodeler.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/llm"
	"github.com/router-for-me/JSONRemodeler/internal/store"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
	"github.com/router-for-me/JSONRemodeler/sdk/tokencount"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// RemodelOptions carries the flags of the default remodel command.
type RemodelOptions struct {
	InputPath        string
	InstructionsPath string
	Instructions     string
	OutputPath       string
	DryRun           bool
}

// engineOptions assembles pipeline options from the configuration. The
// sizer is shared so repeated invocations reuse cached codecs.
func engineOptions(cfg *config.Config, sizer remodel.Sizer) []remodel.Option {
	opts := []remodel.Option{
		remodel.WithSizer(sizer),
		remodel.WithModel(cfg.Model),
		remodel.WithTokenBudget(cfg.TokenBudget),
		remodel.WithBudgetMultiplier(cfg.GetBudgetMultiplier()),
		remodel.WithConcurrency(cfg.GetConcurrency()),
		remodel.WithIndent(cfg.GetOutputIndent()),
	}
	if cfg.Placeholder != "" || cfg.RootWrapperKey != "" {
		marker := cfg.Placeholder
		if marker == "" {
			marker = remodel.DefaultPlaceholder
		}
		wrapper := cfg.RootWrapperKey
		if wrapper == "" {
			wrapper = remodel.DefaultRootWrapperKey
		}
		opts = append(opts, remodel.WithPlaceholders(marker, wrapper))
	}
	return opts
}

// resolveInstructions returns the instruction text from the inline flag or
// the instructions file, inline winning when both are set.
func resolveInstructions(opts RemodelOptions) (string, error) {
	if strings.TrimSpace(opts.Instructions) != "" {
		return opts.Instructions, nil
	}
	if opts.InstructionsPath == "" {
		return "", fmt.Errorf("no instructions given: use -instructions or -instructions-file")
	}
	data, err := os.ReadFile(opts.InstructionsPath)
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("instructions file %s is empty", opts.InstructionsPath)
	}
	return string(data), nil
}

// defaultOutputPath derives the output location from the input file name.
func defaultOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + ".remodeled.json"
}

// openLedger opens the run ledger unless it is disabled. A nil store with
// a nil error means recording is off.
func openLedger(cfg *config.Config, cfgPath string) (*store.Store, error) {
	if cfg.Store.Disabled {
		return nil, nil
	}
	st, err := store.Open(cfg.StorePath(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	return st, nil
}

// RunRemodel executes the full pipeline for one document: decompose, send
// every unit through the collaborator, recombine, and write the result.
func RunRemodel(ctx context.Context, cfg *config.Config, cfgPath string, opts RemodelOptions) error {
	if opts.InputPath == "" {
		return fmt.Errorf("no input document: use -input")
	}
	instructions, err := resolveInstructions(opts)
	if err != nil {
		return err
	}
	input, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	eng, err := remodel.New(input, engineOptions(cfg, tokencount.New())...)
	if err != nil {
		return err
	}
	plan, err := eng.Decompose()
	if err != nil {
		return err
	}

	log.Debugf("planned %d work units (%d extracted arrays)", len(plan.Units), plan.Extractions.Len())

	if opts.DryRun {
		printPlan(plan, cfg.Model)
		return nil
	}

	ledger, err := openLedger(cfg, cfgPath)
	if err != nil {
		return err
	}
	var runID string
	if ledger != nil {
		defer func() { _ = ledger.Close() }()
		runID, err = ledger.RecordStart(ctx, store.Run{
			Mode:            "remodel",
			Model:           cfg.Model,
			InputPath:       opts.InputPath,
			UnitCount:       len(plan.Units),
			ExtractionCount: plan.Extractions.Len(),
			PromptTokens:    planPromptTokens(plan, cfg.GetBudgetMultiplier()),
		})
		if err != nil {
			log.Warnf("record run start: %v", err)
			runID = ""
		}
	}

	out, err := eng.Remodel(ctx, cfg.Collaborator.ComposeInstructions(instructions), llm.NewCollaborator(cfg))
	if ledger != nil && runID != "" {
		if errFinish := ledger.RecordFinish(context.WithoutCancel(ctx), runID, err); errFinish != nil {
			log.Warnf("record run finish: %v", errFinish)
		}
	}
	if err != nil {
		return err
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = defaultOutputPath(opts.InputPath)
	}
	if err = os.WriteFile(outputPath, out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Printf("%s✓ Remodeled %d unit(s) -> %s%s\n", colorGreen, len(plan.Units), outputPath, colorReset)
	return nil
}

// printPlan shows the planned work units without running them.
func printPlan(plan *remodel.Plan, model string) {
	fmt.Printf("\n%s%sRemodel Plan%s (model %s)\n", colorBold, colorCyan, colorReset, model)
	fmt.Printf("%s────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)

	fmt.Printf("\n%s%-28s %12s %12s%s\n", colorBold, "ADDRESS", "PAYLOAD B", "BUDGET", colorReset)
	for _, unit := range plan.Units {
		addr := unit.Address.String()
		if len(addr) > 26 {
			addr = addr[:23] + "..."
		}
		fmt.Printf("%-28s %12d %12d\n", addr, len(unit.Payload), unit.SizeBudget)
	}

	fmt.Printf("\n%s────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("  %d unit(s), %d extracted array(s)\n\n", len(plan.Units), plan.Extractions.Len())
}

// planPromptTokens derives the measured prompt tokens from the planned
// response budgets.
func planPromptTokens(plan *remodel.Plan, multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	total := 0
	for _, unit := range plan.Units {
		total += unit.SizeBudget
	}
	return total / multiplier
}

// outputJSON writes data to stdout as indented JSON
func outputJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
