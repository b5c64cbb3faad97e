package remodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Engine drives the full decompose, process, recover pipeline for one
// document. The plan is computed once and cached; sharing one engine
// across simultaneous decompositions is not supported.
type Engine struct {
	working []byte
	wrapped bool

	sizer       Sizer
	model       string
	budget      int
	multiplier  int
	concurrency int
	indent      int
	placeholder string
	wrapperKey  string

	plan    *Plan
	planErr error
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithSizer injects the token counter used for extraction decisions and
// unit budgets.
func WithSizer(sz Sizer) Option {
	return func(e *Engine) {
		if sz != nil {
			e.sizer = sz
		}
	}
}

// WithModel sets the model name handed to the sizer.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithTokenBudget sets the array extraction threshold in tokens.
func WithTokenBudget(n int) Option {
	return func(e *Engine) { e.budget = n }
}

// WithBudgetMultiplier overrides the factor scaling a unit's token count
// into its response budget.
func WithBudgetMultiplier(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.multiplier = n
		}
	}
}

// WithConcurrency bounds parallel unit processing during Remodel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithIndent sets the indentation of recovered output. Zero keeps it
// compact.
func WithIndent(n int) Option {
	return func(e *Engine) { e.indent = n }
}

// WithPlaceholders overrides the slot marker and the root wrapper key.
func WithPlaceholders(marker, wrapperKey string) Option {
	return func(e *Engine) {
		e.placeholder = marker
		e.wrapperKey = wrapperKey
	}
}

// Plan is the decomposition product: the placeholder-bearing working
// document, the extraction map, and the ordered work units.
type Plan struct {
	Working     []byte
	Extractions *ExtractionMap
	Units       []WorkUnit
}

// New validates the input document and prepares a private working copy.
// Array-rooted documents are wrapped under the root wrapper key so the
// traversal always starts from an object. Input containing the
// placeholder marker or the wrapper key anywhere fails with
// ErrPlaceholderCollision.
func New(input []byte, opts ...Option) (*Engine, error) {
	e := &Engine{
		sizer:       estimateSizer,
		model:       DefaultModel,
		budget:      DefaultTokenBudget,
		multiplier:  ResponseBudgetMultiplier,
		concurrency: DefaultConcurrency,
		placeholder: DefaultPlaceholder,
		wrapperKey:  DefaultRootWrapperKey,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.placeholder == "" || e.wrapperKey == "" || e.placeholder == e.wrapperKey {
		return nil, fmt.Errorf("remodel: placeholder marker and wrapper key must be non-empty and distinct")
	}
	if e.budget <= 0 {
		return nil, fmt.Errorf("remodel: token budget must be positive, got %d", e.budget)
	}

	compact, err := Compact(input)
	if err != nil {
		return nil, fmt.Errorf("remodel: input is not valid JSON: %w", err)
	}
	if err := e.checkCollisions(compact); err != nil {
		return nil, err
	}
	e.working = compact
	if len(compact) > 0 && compact[0] == '[' {
		wrapped, wrapErr := sjson.SetRawBytes([]byte("{}"), sjsonPath(KeyChain{e.wrapperKey}), compact)
		if wrapErr != nil {
			return nil, fmt.Errorf("remodel: wrap array root: %w", wrapErr)
		}
		e.working = wrapped
		e.wrapped = true
	}
	return e, nil
}

func (e *Engine) checkCollisions(doc []byte) error {
	quotedMarker, _ := json.Marshal(e.placeholder)
	if bytes.Contains(doc, quotedMarker) {
		return fmt.Errorf("%w: document contains %q", ErrPlaceholderCollision, e.placeholder)
	}
	quotedKey, _ := json.Marshal(e.wrapperKey)
	if bytes.Contains(doc, quotedKey) {
		return fmt.Errorf("%w: document contains %q", ErrPlaceholderCollision, e.wrapperKey)
	}
	return nil
}

// Decompose runs the indexing pass and unit planning once and caches the
// outcome; later calls return the same plan.
func (e *Engine) Decompose() (*Plan, error) {
	if e.plan != nil || e.planErr != nil {
		return e.plan, e.planErr
	}
	indexer := &Indexer{
		Sizer:       e.sizer,
		Model:       e.model,
		TokenBudget: e.budget,
		Placeholder: e.placeholder,
	}
	working, ext, err := indexer.Index(e.working)
	if err != nil {
		e.planErr = err
		return nil, err
	}
	planner := &Planner{Sizer: e.sizer, Model: e.model, Multiplier: e.multiplier}
	units, err := planner.Plan(working, ext)
	if err != nil {
		e.planErr = err
		return nil, err
	}
	e.plan = &Plan{Working: working, Extractions: ext, Units: units}
	log.Debugf("decomposed document into %d units (%d arrays extracted)", len(units), ext.Len())
	return e.plan, nil
}

// Remodel runs the full pipeline: decompose, fan the units out to the
// processor, recover the finished document, and render it with the
// configured indentation.
func (e *Engine) Remodel(ctx context.Context, instructions string, proc Processor) ([]byte, error) {
	plan, err := e.Decompose()
	if err != nil {
		return nil, err
	}
	results, err := RunUnits(ctx, plan.Units, instructions, proc, e.concurrency)
	if err != nil {
		return nil, err
	}
	return e.Recover(plan, results)
}

// Recover validates externally produced results against a plan from this
// engine and splices them into the finished document.
func (e *Engine) Recover(plan *Plan, results *ResultSet) ([]byte, error) {
	formatter := Formatter{Indent: e.indent}
	assembler := &Assembler{Formatter: formatter, WrapperKey: e.wrapperKey}
	out, err := assembler.RecoverPlanned(plan.Units, results)
	if err != nil {
		return nil, err
	}
	return formatter.ToJSON(out)
}
