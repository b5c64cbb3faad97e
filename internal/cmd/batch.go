package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/store"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
	"github.com/router-for-me/JSONRemodeler/sdk/tokencount"
)

// BatchOptions carries the flags of the prepare-batch command.
type BatchOptions struct {
	InputPath        string
	InstructionsPath string
	Instructions     string
	BatchPath        string
}

// RunPrepareBatch decomposes the input document and writes one NDJSON
// request line per planned work unit, for upload to a batch API.
func RunPrepareBatch(ctx context.Context, cfg *config.Config, cfgPath string, opts BatchOptions) error {
	if opts.InputPath == "" {
		return fmt.Errorf("no input document: use -input")
	}
	instructions, err := resolveInstructions(RemodelOptions{
		Instructions:     opts.Instructions,
		InstructionsPath: opts.InstructionsPath,
	})
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

	batchPath := opts.BatchPath
	if batchPath == "" {
		batchPath = cfg.BatchFilePath
	}

	composed := cfg.Collaborator.ComposeInstructions(instructions)
	if err = remodel.WriteBatchFile(batchPath, plan.Units, composed, cfg.Model); err != nil {
		return fmt.Errorf("write batch file: %w", err)
	}

	ledger, err := openLedger(cfg, cfgPath)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer func() { _ = ledger.Close() }()
		runID, errStart := ledger.RecordStart(ctx, store.Run{
			Mode:            "prepare-batch",
			Model:           cfg.Model,
			InputPath:       opts.InputPath,
			UnitCount:       len(plan.Units),
			ExtractionCount: plan.Extractions.Len(),
			PromptTokens:    planPromptTokens(plan, cfg.GetBudgetMultiplier()),
			BatchPath:       batchPath,
		})
		if errStart != nil {
			log.Warnf("record run start: %v", errStart)
		} else if errFinish := ledger.RecordFinish(ctx, runID, nil); errFinish != nil {
			log.Warnf("record run finish: %v", errFinish)
		}
	}

	fmt.Printf("%s✓ Wrote %d batch request(s) -> %s%s\n", colorGreen, len(plan.Units), batchPath, colorReset)
	return nil
}

// BatchLineOutput represents one batch request for JSON output
type BatchLineOutput struct {
	CustomID  string `json:"custom_id"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	PayloadB  int    `json:"payload_bytes"`
}

// RunInspectBatch reads a batch file back and summarizes its requests.
func RunInspectBatch(path string, jsonOutput bool) error {
	if path == "" {
		return fmt.Errorf("no batch file given")
	}
	requests, err := remodel.ReadBatchFile(path)
	if err != nil {
		return err
	}

	if jsonOutput {
		lines := make([]BatchLineOutput, len(requests))
		for i, req := range requests {
			payload := 0
			if len(req.Body.Messages) > 0 {
				payload = len(req.Body.Messages[0].Content)
			}
			lines[i] = BatchLineOutput{
				CustomID:  req.CustomID,
				Model:     req.Body.Model,
				MaxTokens: req.Body.MaxTokens,
				PayloadB:  payload,
			}
		}
		return outputJSON(map[string]any{"count": len(lines), "requests": lines})
	}

	if len(requests) == 0 {
		fmt.Printf("%sNo requests found in %s%s\n", colorYellow, path, colorReset)
		return nil
	}

	fmt.Printf("\n%s%sBatch File%s %s (%d request(s))\n", colorBold, colorCyan, colorReset, path, len(requests))
	fmt.Printf("%s────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("\n%s%-28s %-14s %10s %10s%s\n", colorBold, "CUSTOM_ID", "MODEL", "MAX_TOK", "PAYLOAD B", colorReset)
	for _, req := range requests {
		id := req.CustomID
		if len(id) > 26 {
			id = id[:23] + "..."
		}
		model := req.Body.Model
		if len(model) > 12 {
			model = model[:9] + "..."
		}
		payload := 0
		if len(req.Body.Messages) > 0 {
			payload = len(req.Body.Messages[0].Content)
		}
		fmt.Printf("%-28s %-14s %10d %10d\n", id, model, req.Body.MaxTokens, payload)
	}
	fmt.Println()
	return nil
}
