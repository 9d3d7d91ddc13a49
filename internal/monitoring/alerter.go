package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/config"
	"github.com/leadore/distill/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDiscoveryFailureRate AlertType = "discovery_failure_rate"
	AlertBlockSpike           AlertType = "block_spike"
	AlertStorageCostOverrun   AlertType = "storage_cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Discovery failure rate, only once there is a meaningful sample.
	if snap.Discoveries >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDiscoveryFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Discovery failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d total)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failures, snap.Discoveries,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failures":  snap.Failures,
				"total":     snap.Discoveries,
			},
			Timestamp: now,
		})
	}

	// Anti-bot block spike: a rising count means the fingerprint or proxy
	// pool has gone stale.
	if a.cfg.BlockedThreshold > 0 && snap.Blocked >= a.cfg.BlockedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBlockSpike,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d fetches blocked by anti-bot protection (threshold %d)",
				snap.Blocked, a.cfg.BlockedThreshold,
			),
			Details: map[string]any{
				"blocked":   snap.Blocked,
				"threshold": a.cfg.BlockedThreshold,
			},
			Timestamp: now,
		})
	}

	// Storage cost overrun across tenants.
	if a.cfg.StorageCostThresholdUSD > 0 {
		total := snap.TotalStorageUSD()
		if total > a.cfg.StorageCostThresholdUSD {
			alerts = append(alerts, Alert{
				Type:     AlertStorageCostOverrun,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Estimated storage cost $%.2f/month exceeds threshold $%.2f",
					total, a.cfg.StorageCostThresholdUSD,
				),
				Details: map[string]any{
					"cost_usd":      total,
					"threshold_usd": a.cfg.StorageCostThresholdUSD,
					"tenants":       len(snap.StorageCosts),
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	// One quick retry covers a flaky webhook endpoint without delaying the
	// checker loop for long.
	policy := resilience.RetryPolicy{Attempts: 2, BaseDelay: 200 * time.Millisecond}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Retry(ctx, policy, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
