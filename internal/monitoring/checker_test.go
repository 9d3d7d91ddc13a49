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
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/config"
	"github.com/leadore/distill/internal/model"
)

func TestCheckerRunStopsOnCancel(t *testing.T) {
	c, _ := newTestCollector(t)
	checker := NewChecker(c, NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{
		CheckIntervalSecs: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}

func TestCheckerSendsAlertsOnThresholdBreach(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertBlockSpike, alert.Type)
		received.Add(1)
	}))
	defer srv.Close()

	c, _ := newTestCollector(t)
	blockErr := &model.FetchError{Kind: model.FetchBlocked, URL: "https://x", Err: assert.AnError}
	c.RecordDiscovery(&model.DiscoveredRecord{State: model.StateFailed}, 0, blockErr)
	c.RecordDiscovery(&model.DiscoveredRecord{State: model.StateFailed}, 0, blockErr)

	cfg := config.MonitoringConfig{BlockedThreshold: 2, WebhookURL: srv.URL}
	checker := NewChecker(c, NewAlerter(cfg), cfg)
	checker.check(context.Background(), zap.NewNop())

	assert.EqualValues(t, 1, received.Load())
}

func TestCheckerNoAlertsBelowThresholds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("webhook should not be called")
	}))
	defer srv.Close()

	c, _ := newTestCollector(t)
	c.RecordDiscovery(&model.DiscoveredRecord{Source: model.SourceFresh, State: model.StateDone}, 0, nil)

	cfg := config.MonitoringConfig{
		BlockedThreshold:     10,
		FailureRateThreshold: 0.5,
		WebhookURL:           srv.URL,
	}
	checker := NewChecker(c, NewAlerter(cfg), cfg)
	checker.check(context.Background(), zap.NewNop())
}
