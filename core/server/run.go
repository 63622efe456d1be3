package server

import (
	"context"
	"fmt"
	"time"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/cleanup"
	"github.com/snapconvert/snapconvert/core/grants"
	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/infra/metrics"
	"github.com/snapconvert/snapconvert/core/pipeline"
	"github.com/snapconvert/snapconvert/core/registry"
	imageops "github.com/snapconvert/snapconvert/packages/ops/image"
	pdfops "github.com/snapconvert/snapconvert/packages/ops/pdf"
	textops "github.com/snapconvert/snapconvert/packages/ops/text"
	utilops "github.com/snapconvert/snapconvert/packages/ops/util"
)

// Run wires every component from configuration and serves until the HTTP
// listener fails.
func Run(cfg *config.Config) error {
	limits, err := config.LoadLimits(cfg.LimitsPath)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	store, err := assets.NewLocalStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	reg := registry.New()
	for _, register := range []func(*registry.Registry) error{
		pdfops.Register, imageops.Register, textops.Register, utilops.Register,
	} {
		if err := register(reg); err != nil {
			return fmt.Errorf("register operations: %w", err)
		}
	}
	logging.Info("server", "operations registered", "count", len(reg.List()), "families", len(reg.Families()))

	var index grants.Index
	switch cfg.GrantBackend {
	case "redis":
		index, err = grants.NewRedisIndex(cfg.RedisURL, cfg.Retention)
		if err != nil {
			return fmt.Errorf("connect grant index: %w", err)
		}
		logging.Info("server", "grant index", "backend", "redis")
	default:
		index = grants.NewMemoryIndex()
		logging.Info("server", "grant index", "backend", "memory")
	}
	defer index.Close()

	pipelineMetrics := metrics.NewProm("snapconvert")
	mgr := grants.NewManager(index, store, cfg.Retention)
	sched := cleanup.NewScheduler(
		store, index, cleanup.RealClock(), pipelineMetrics,
		time.Duration(limits.Sweep.IntervalSeconds)*time.Second,
		time.Duration(limits.Sweep.MaxAgeSeconds)*time.Second,
	)
	mgr.OnIssue(sched.ScheduleGrant)
	defer sched.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	p := pipeline.New(reg, store, limits, mgr, pipelineMetrics)
	sched.OnExpire(func(id string) {
		p.Publish("grant.expired", map[string]any{"grant": id})
	})
	s := New(p, metrics.NewGatewayProm("snapconvert"))
	return s.Start(cfg.HTTPAddr, cfg.MetricsAddr)
}
