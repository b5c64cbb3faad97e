package remodel

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProcessRequest carries one work unit to a processor.
type ProcessRequest struct {
	Address      UnitAddress
	Payload      string
	Instructions string
	MaxTokens    int
}

// Processor rewrites a single unit payload. Implementations own their
// retry policy; an error returned here cancels the whole batch.
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) (string, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req ProcessRequest) (string, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, req ProcessRequest) (string, error) {
	return f(ctx, req)
}

// EchoProcessor returns every payload unchanged. It backs dry runs, where
// the pipeline must reproduce its input exactly.
type EchoProcessor struct{}

// Process returns the unit payload as the result text.
func (EchoProcessor) Process(_ context.Context, req ProcessRequest) (string, error) {
	return req.Payload, nil
}

// RunUnits fans the units out to the processor with bounded concurrency
// and waits for all of them. The first failure cancels the remaining
// units and is returned with its unit address; a partial result set is
// never handed to recovery.
func RunUnits(ctx context.Context, units []WorkUnit, instructions string, proc Processor, concurrency int) (*ResultSet, error) {
	if proc == nil {
		return nil, fmt.Errorf("remodel: processor is required")
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	results := NewResultSet()
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, unit := range units {
		unit := unit
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := proc.Process(ctx, ProcessRequest{
				Address:      unit.Address,
				Payload:      string(unit.Payload),
				Instructions: instructions,
				MaxTokens:    unit.SizeBudget,
			})
			if err != nil {
				log.WithError(err).Debugf("unit %s failed", unit.Address)
				return fmt.Errorf("unit %s: %w", unit.Address, err)
			}
			results.Put(unit.Address, text)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
