package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/registry"
)

// Execute invokes the operation handler exactly once under the family's
// wall-clock budget. Handlers are not retried; transformations are not
// assumed idempotent. Panics inside a handler surface as execution errors.
func Execute(ctx context.Context, spec *registry.OperationSpec, req *registry.Request, limits *config.LimitsConfig) (*registry.OutputSet, error) {
	budget := limits.Timeout(spec.Family)
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		out *registry.OutputSet
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("executor", "handler panic", "operation", spec.ID, "panic", fmt.Sprintf("%v", r))
				done <- outcome{err: fmt.Errorf("%w: handler panic", ErrExecution)}
			}
		}()
		out, err := spec.Handler(execCtx, req)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-execCtx.Done():
		// The handler goroutine may still be running; its partial outputs
		// live under the request work dir and are reclaimed with it.
		logging.Warn("executor", "execution timed out", "operation", spec.ID, "budget", budget)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, spec.ID, budget)
	case res := <-done:
		if res.err != nil {
			if IsValidation(res.err) {
				return nil, res.err
			}
			logging.Error("executor", "handler failed", "operation", spec.ID, "error", res.err)
			return nil, fmt.Errorf("%w: %s: %v", ErrExecution, spec.ID, res.err)
		}
		if res.out == nil {
			return nil, fmt.Errorf("%w: %s returned no result", ErrExecution, spec.ID)
		}
		if spec.Kind == registry.Transform && len(res.out.Outputs) == 0 {
			return nil, fmt.Errorf("%w: %s produced no outputs", ErrExecution, spec.ID)
		}
		if err := statOutputs(res.out); err != nil {
			return nil, err
		}
		logging.Info("executor", "handler completed", "operation", spec.ID, "outputs", len(res.out.Outputs), "elapsed", time.Since(start).Round(time.Millisecond))
		return res.out, nil
	}
}

// statOutputs fills in output sizes and confirms every declared output
// actually exists on disk before packaging trusts it.
func statOutputs(out *registry.OutputSet) error {
	for i := range out.Outputs {
		info, err := os.Stat(out.Outputs[i].Path)
		if err != nil {
			return fmt.Errorf("%w: missing output %s", ErrExecution, out.Outputs[i].SuggestedName)
		}
		out.Outputs[i].SizeBytes = info.Size()
	}
	return nil
}
