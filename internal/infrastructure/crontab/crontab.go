package crontab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mileusna/crontab"

	"ultra-server/services/orchestrator-api/internal/config"
	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/infrastructure/logger"
	"ultra-server/services/orchestrator-api/internal/infrastructure/metrics"
)

const (
	DefaultProbeInterval = 5               // in minutes
	ProbeJobTimeout      = 2 * time.Minute // timeout for one full sweep
	maxConcurrentProbes  = 10
)

// Crontab runs the periodic health probe: a TestConnection sweep over every
// registered model that feeds the provider_health gauge. Probes bypass the
// resilience layer's breaker accounting so a sweep can never trip circuits.
type Crontab struct {
	ctab     *crontab.Crontab
	registry *model.Registry
}

func NewCrontab(registry *model.Registry) *Crontab {
	return &Crontab{
		ctab:     crontab.New(),
		registry: registry,
	}
}

func (c *Crontab) Run(ctx context.Context) error {
	log := logger.GetLogger()

	cfg := config.GetGlobal()
	if cfg == nil || !cfg.HealthProbeEnabled {
		log.Info().Msg("health probe disabled")
		<-ctx.Done()
		return nil
	}

	// execute once on server start
	c.probeAllModels(ctx)

	interval := cfg.HealthProbeIntervalMinutes
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	cronExpr := fmt.Sprintf("*/%d * * * *", interval)
	if err := c.ctab.AddJob(cronExpr, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), ProbeJobTimeout)
		defer cancel()
		c.probeAllModels(jobCtx)
	}); err != nil {
		return fmt.Errorf("failed to add health probe job: %w", err)
	}
	log.Info().Msgf("Health probe scheduled: every %d minute(s)", interval)

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) probeAllModels(ctx context.Context) {
	descriptors := c.registry.List(model.DescriptorFilter{})
	if len(descriptors) == 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrentProbes)
	var wg sync.WaitGroup

	for _, descriptor := range descriptors {
		wg.Add(1)
		go func(d model.ModelDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			c.probeModel(ctx, d)
		}(descriptor)
	}
	wg.Wait()
}

func (c *Crontab) probeModel(ctx context.Context, descriptor model.ModelDescriptor) {
	log := logger.GetLogger()

	adapter, err := c.registry.Get(descriptor.ID)
	if err != nil {
		// deregistered between List and Get
		return
	}

	err = adapter.TestConnection(ctx)
	metrics.SetProviderHealth(descriptor.ID, string(descriptor.Provider), err == nil)
	if err != nil {
		log.Warn().
			Err(err).
			Str("model_id", descriptor.ID).
			Str("provider", string(descriptor.Provider)).
			Msg("health probe failed")
	}
}
