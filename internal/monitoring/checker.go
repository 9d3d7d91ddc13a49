package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadore/distill/internal/config"
)

// Checker periodically collects metrics across the configured tenants and
// pushes threshold breaches through the alerter.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// Consecutive collect failures. Escalates logging once the collector
	// itself looks unhealthy rather than just unlucky.
	collectFails int
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled. An
// early first pass surfaces a bad webhook URL or empty tenant list at startup
// instead of one interval later.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("tenants", len(c.cfg.Organizations)),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.Organizations)
	if err != nil {
		c.collectFails++
		if c.collectFails >= 3 {
			log.Error("monitoring: metrics collection failing repeatedly",
				zap.Int("consecutive_failures", c.collectFails),
				zap.Error(err),
			)
		} else {
			log.Warn("monitoring: failed to collect metrics", zap.Error(err))
		}
		return
	}
	c.collectFails = 0

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
