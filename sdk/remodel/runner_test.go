package remodel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func runnerTestUnits(n int) []WorkUnit {
	units := make([]WorkUnit, 0, n)
	for i := 0; i < n; i++ {
		units = append(units, WorkUnit{
			Address:    UnitAddress{Chain: KeyChain{"items"}, Index: i},
			Payload:    []byte(fmt.Sprintf(`{"id":%d}`, i)),
			SizeBudget: 10,
		})
	}
	return units
}

func TestRunUnitsCollectsAllResults(t *testing.T) {
	units := runnerTestUnits(6)
	proc := ProcessorFunc(func(_ context.Context, req ProcessRequest) (string, error) {
		// Later units finish first, so completion order differs from
		// submission order.
		time.Sleep(time.Duration(len(units)-req.Address.Index) * time.Millisecond)
		return "done:" + req.Address.String(), nil
	})

	results, err := RunUnits(context.Background(), units, "instr", proc, 3)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results.Len() != len(units) {
		t.Fatalf("collected %d results, want %d", results.Len(), len(units))
	}
	for _, unit := range units {
		text, ok := results.Get(unit.Address)
		if !ok || text != "done:"+unit.Address.String() {
			t.Fatalf("unit %s recorded (%q, %v)", unit.Address, text, ok)
		}
	}
}

func TestRunUnitsPassesRequestFields(t *testing.T) {
	unit := WorkUnit{
		Address:    UnitAddress{Chain: KeyChain{"a"}, Index: 0},
		Payload:    []byte(`{"x":1}`),
		SizeBudget: 42,
	}
	var got ProcessRequest
	proc := ProcessorFunc(func(_ context.Context, req ProcessRequest) (string, error) {
		got = req
		return "ok", nil
	})

	if _, err := RunUnits(context.Background(), []WorkUnit{unit}, "rewrite", proc, 1); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Payload != `{"x":1}` || got.Instructions != "rewrite" || got.MaxTokens != 42 {
		t.Fatalf("request was %+v", got)
	}
}

func TestRunUnitsFirstErrorCancelsBatch(t *testing.T) {
	units := runnerTestUnits(8)
	proc := ProcessorFunc(func(ctx context.Context, req ProcessRequest) (string, error) {
		if req.Address.Index == 3 {
			return "", errors.New("boom")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return "ok", nil
		}
	})

	results, err := RunUnits(context.Background(), units, "instr", proc, 2)
	if err == nil {
		t.Fatal("run succeeded despite a failing unit")
	}
	if results != nil {
		t.Fatal("a partial result set was returned alongside the error")
	}
	if !strings.Contains(err.Error(), "unit items/3") {
		t.Fatalf("error does not name the failing unit: %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error does not carry the cause: %v", err)
	}
}

func TestRunUnitsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := ProcessorFunc(func(context.Context, ProcessRequest) (string, error) {
		return "ok", nil
	})
	if _, err := RunUnits(ctx, runnerTestUnits(2), "instr", proc, 2); err == nil {
		t.Fatal("run succeeded on a canceled context")
	}
}

func TestRunUnitsNilProcessor(t *testing.T) {
	if _, err := RunUnits(context.Background(), runnerTestUnits(1), "instr", nil, 1); err == nil {
		t.Fatal("run succeeded without a processor")
	}
}

func TestRunUnitsBoundsConcurrency(t *testing.T) {
	var active, peak int32
	proc := ProcessorFunc(func(context.Context, ProcessRequest) (string, error) {
		now := atomic.AddInt32(&active, 1)
		for {
			seen := atomic.LoadInt32(&peak)
			if now <= seen || atomic.CompareAndSwapInt32(&peak, seen, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "ok", nil
	})

	if _, err := RunUnits(context.Background(), runnerTestUnits(10), "instr", proc, 2); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("observed %d concurrent units, limit was 2", got)
	}
}

func TestEchoProcessorReturnsPayload(t *testing.T) {
	out, err := EchoProcessor{}.Process(context.Background(), ProcessRequest{Payload: `{"a":1}`})
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("echo returned %q", out)
	}
}
