package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/JSONRemodeler/internal/api/middleware"
	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/store"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
)

// remodelParams carries the parsed fields of a remodel or decompose request.
type remodelParams struct {
	doc          []byte
	instructions string
	model        string
	tokenBudget  int
}

// parseRemodelBody extracts the document and options from a request body of
// the form {"json": <any>, "instructions": "...", "model": "...",
// "token-budget": N}. The document is kept as raw bytes so splicing later
// preserves key order.
func parseRemodelBody(body []byte, needInstructions bool) (*remodelParams, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("request body must be a JSON object")
	}
	doc := root.Get("json")
	if !doc.Exists() {
		return nil, fmt.Errorf("missing %q field", "json")
	}

	p := &remodelParams{doc: []byte(doc.Raw)}
	if instr := root.Get("instructions"); instr.Exists() {
		p.instructions = instr.String()
	}
	if needInstructions && strings.TrimSpace(p.instructions) == "" {
		return nil, fmt.Errorf("missing %q field", "instructions")
	}
	if m := root.Get("model"); m.Exists() {
		p.model = m.String()
	}
	if b := root.Get("token-budget"); b.Exists() {
		if b.Int() <= 0 {
			return nil, fmt.Errorf("token-budget must be positive")
		}
		p.tokenBudget = int(b.Int())
	}
	return p, nil
}

// newEngine builds a pipeline engine for one request, applying per-request
// overrides on top of the configured defaults.
func (s *Server) newEngine(p *remodelParams, cfg *config.Config) (*remodel.Engine, string, error) {
	model := cfg.Model
	if p.model != "" {
		model = p.model
	}
	budget := cfg.TokenBudget
	if p.tokenBudget > 0 {
		budget = p.tokenBudget
	}

	opts := []remodel.Option{
		remodel.WithSizer(s.sizer),
		remodel.WithModel(model),
		remodel.WithTokenBudget(budget),
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

	eng, err := remodel.New(p.doc, opts...)
	return eng, model, err
}

// handleRemodel runs the full pipeline for one document and returns the
// recombined result.
func (s *Server) handleRemodel(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read request body: %v", err)})
		return
	}
	params, err := parseRemodelBody(body, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.getConfig()
	eng, model, err := s.newEngine(params, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := eng.Decompose()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	middleware.RecordArraysExtracted(plan.Extractions.Len())
	promptTokens := planPromptTokens(plan, cfg.GetBudgetMultiplier())
	middleware.RecordPromptTokens(model, promptTokens)

	runID := s.recordStart(c, store.Run{
		Mode:            "serve",
		Model:           model,
		InputPath:       "http:" + c.ClientIP(),
		UnitCount:       len(plan.Units),
		ExtractionCount: plan.Extractions.Len(),
		PromptTokens:    promptTokens,
	})

	timeout := time.Duration(cfg.Server.GetRequestTimeoutSeconds()) * time.Second
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	instructions := cfg.Collaborator.ComposeInstructions(params.instructions)
	out, err := eng.Remodel(ctx, instructions, s.currentProcessor())
	if err != nil {
		s.recordFinish(runID, err)
		middleware.RecordRun("serve", "failed")
		status, kind := classifyPipelineError(err)
		if kind != "" {
			middleware.RecordCollaboratorError(kind, model)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.recordFinish(runID, nil)
	middleware.RecordRun("serve", "completed")
	middleware.RecordUnitsProcessed(model, len(plan.Units))
	c.Data(http.StatusOK, "application/json", out)
}

// handleDecompose runs extraction and planning only, returning the working
// document and the planned unit addresses without calling the collaborator.
func (s *Server) handleDecompose(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read request body: %v", err)})
		return
	}
	params, err := parseRemodelBody(body, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.getConfig()
	eng, model, err := s.newEngine(params, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan, err := eng.Decompose()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chains := make([]string, 0, plan.Extractions.Len())
	for _, chain := range plan.Extractions.Chains() {
		chains = append(chains, chain.String())
	}
	units := make([]gin.H, 0, len(plan.Units))
	for _, unit := range plan.Units {
		units = append(units, gin.H{
			"address":       unit.Address.String(),
			"payload_bytes": len(unit.Payload),
			"size_budget":   unit.SizeBudget,
		})
	}

	middleware.RecordArraysExtracted(plan.Extractions.Len())
	c.JSON(http.StatusOK, gin.H{
		"model":       model,
		"working":     json.RawMessage(plan.Working),
		"extractions": chains,
		"units":       units,
	})
}

// handleRuns lists recent runs from the ledger.
func (s *Server) handleRuns(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run ledger is disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, errConv := strconv.Atoi(raw)
		if errConv != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.ledger.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// recordStart writes a run row when the ledger is attached. It returns an
// empty id when recording is disabled or fails.
func (s *Server) recordStart(c *gin.Context, run store.Run) string {
	if s.ledger == nil {
		return ""
	}
	id, err := s.ledger.RecordStart(c.Request.Context(), run)
	if err != nil {
		log.Warnf("record run start: %v", err)
		return ""
	}
	return id
}

func (s *Server) recordFinish(runID string, runErr error) {
	if s.ledger == nil || runID == "" {
		return
	}
	// Use a fresh context: the request context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.RecordFinish(ctx, runID, runErr); err != nil {
		log.Warnf("record run finish: %v", err)
	}
}

// planPromptTokens derives the measured prompt tokens from the planned
// response budgets. Budgets are exact multiples of the per-unit counts.
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

// classifyPipelineError maps pipeline failures to an HTTP status and a
// metrics label. Collaborator output problems surface as 502 because the
// upstream model, not the caller, produced the bad payload.
func classifyPipelineError(err error) (int, string) {
	var malformed *remodel.MalformedRecoveryError
	var incomplete *remodel.IncompleteResultsError
	switch {
	case errors.As(err, &malformed):
		return http.StatusBadGateway, "malformed"
	case errors.As(err, &incomplete):
		return http.StatusBadGateway, "incomplete"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, ""
	default:
		return http.StatusInternalServerError, "upstream"
	}
}
