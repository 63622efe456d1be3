package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/grants"
	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/infra/metrics"
	"github.com/snapconvert/snapconvert/core/registry"
)

// Pipeline runs the full intake → execute → package → grant sequence for
// one request. Stages are strictly sequential within a request; requests
// are isolated from each other by their UUID-scoped directories.
type Pipeline struct {
	registry *registry.Registry
	store    assets.Store
	limits   *config.LimitsConfig
	grants   *grants.Manager
	metrics  metrics.PipelineMetrics
	events   func(event string, payload map[string]any)
}

// Result is the successful outcome of one request. Grant is nil for
// computation-only operations.
type Result struct {
	Grant     *grants.Grant
	Stats     map[string]any
	Processed int
	Skipped   int
}

func New(reg *registry.Registry, store assets.Store, limits *config.LimitsConfig, mgr *grants.Manager, m metrics.PipelineMetrics) *Pipeline {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Pipeline{
		registry: reg,
		store:    store,
		limits:   limits,
		grants:   mgr,
		metrics:  m,
	}
}

// OnEvent registers a publisher for pipeline lifecycle events.
func (p *Pipeline) OnEvent(fn func(event string, payload map[string]any)) { p.events = fn }

// Registry exposes the operation table for route mounting.
func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// Grants exposes the grant manager for the download handler.
func (p *Pipeline) Grants() *grants.Manager { return p.grants }

// Limits exposes the family ceilings for the catalog endpoint.
func (p *Pipeline) Limits() *config.LimitsConfig { return p.limits }

// Handle processes one request end to end. Whatever the outcome, all
// request-scoped state (uploads and intermediate outputs) is removed before
// it returns; on success only the delivery copy survives, owned by the
// grant's expiry timer.
func (p *Pipeline) Handle(ctx context.Context, operationID string, r *http.Request) (*Result, error) {
	spec, err := p.registry.Lookup(operationID)
	if err != nil {
		return nil, &ValidationError{Reason: "Unsupported operation"}
	}
	p.metrics.IncRequests(spec.ID)

	in, err := Receive(r, spec, p.store, p.limits)
	if err != nil {
		p.metrics.IncCompleted(spec.ID, "rejected")
		return nil, err
	}
	defer func() {
		if failures := p.store.RemoveRequest(in.RequestID); failures > 0 {
			logging.Warn("pipeline", "request cleanup incomplete", "request", in.RequestID, "failures", failures)
		}
	}()

	workDir, err := p.store.WorkDir(in.RequestID)
	if err != nil {
		p.metrics.IncCompleted(spec.ID, "error")
		return nil, wrapExecution(err)
	}

	start := time.Now()
	out, err := Execute(ctx, spec, &registry.Request{
		Inputs:  in.Inputs,
		Text:    in.Text,
		Params:  in.Params,
		WorkDir: workDir,
	}, p.limits)
	p.metrics.ObserveExecution(spec.ID, time.Since(start).Seconds())
	if err != nil {
		p.metrics.IncCompleted(spec.ID, "error")
		return nil, err
	}

	result := &Result{
		Stats:     out.Stats,
		Processed: len(in.Inputs),
		Skipped:   len(in.Skipped),
	}

	if spec.Kind == registry.Compute {
		p.metrics.IncCompleted(spec.ID, "ok")
		p.Publish("request.completed", map[string]any{"operation": spec.ID, "kind": "compute"})
		return result, nil
	}

	deliverable, err := Package(spec, out.Outputs, workDir)
	if err != nil {
		p.metrics.IncCompleted(spec.ID, "error")
		return nil, err
	}

	g, err := p.grants.Issue(ctx, deliverable)
	if err != nil {
		p.metrics.IncCompleted(spec.ID, "error")
		return nil, wrapExecution(err)
	}
	p.metrics.IncGrantsIssued()
	p.metrics.IncCompleted(spec.ID, "ok")
	result.Grant = &g

	p.Publish("grant.issued", map[string]any{
		"operation":  spec.ID,
		"grant":      g.ID,
		"file_name":  g.FileName,
		"expires_at": g.ExpiresAt.Format(time.RFC3339),
	})
	logging.Info("pipeline", "request completed", "operation", spec.ID, "request", in.RequestID, "grant", g.ID, "processed", result.Processed, "skipped", result.Skipped)
	return result, nil
}

// Publish emits a pipeline lifecycle event to the registered sink.
func (p *Pipeline) Publish(event string, payload map[string]any) {
	if p.events != nil {
		p.events(event, payload)
	}
}

func wrapExecution(err error) error {
	return fmt.Errorf("%w: %v", ErrExecution, err)
}
