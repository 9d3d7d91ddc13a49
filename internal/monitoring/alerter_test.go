package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadore/distill/internal/config"
	"github.com/leadore/distill/internal/model"
)

func TestEvaluateNoAlertsWhenHealthy(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:    0.5,
		BlockedThreshold:        10,
		StorageCostThresholdUSD: 100,
	})
	snap := &MetricsSnapshot{
		Discoveries: 20,
		Failures:    2,
		FailRate:    0.1,
		CollectedAt: time.Now().UTC(),
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	snap := &MetricsSnapshot{Discoveries: 10, Failures: 8, FailRate: 0.8}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDiscoveryFailureRate, alerts[0].Type)

	// Too small a sample never alerts.
	snap = &MetricsSnapshot{Discoveries: 3, Failures: 3, FailRate: 1.0}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateBlockSpike(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{BlockedThreshold: 5})

	alerts := a.Evaluate(&MetricsSnapshot{Blocked: 5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBlockSpike, alerts[0].Type)

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{Blocked: 4}))
}

func TestEvaluateStorageCostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StorageCostThresholdUSD: 1.0})

	snap := &MetricsSnapshot{
		StorageCosts: map[string]*model.StorageCost{
			"org-1": {EstimatedMonthlyUSD: 0.80},
			"org-2": {EstimatedMonthlyUSD: 0.40},
		},
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStorageCostOverrun, alerts[0].Type)
}

func TestSendAlertsPostsWebhook(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertBlockSpike, alert.Type)
		received.Add(1)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertBlockSpike, Severity: "high", Message: "blocked"},
	})

	assert.Equal(t, 1, sent)
	assert.EqualValues(t, 1, received.Load())
}

func TestSendAlertsNoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBlockSpike}})
	assert.Zero(t, sent)
}

func TestSendAlertsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertBlockSpike}})
	assert.Zero(t, sent)
}
