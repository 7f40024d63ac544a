package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// DefaultAlertTTL bounds how long a published alert batch stays readable.
const DefaultAlertTTL = 15 * time.Minute

// AlertPublisher writes the latest accepted alert batch per server for other consumers.
type AlertPublisher struct {
	provider Provider
	ttl      time.Duration
	prefix   string
}

// NewAlertPublisher wraps provider; a nil provider publishes nowhere.
func NewAlertPublisher(provider Provider, ttl time.Duration) *AlertPublisher {
	if provider == nil {
		provider = NoopProvider{}
	}
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	return &AlertPublisher{provider: provider, ttl: ttl, prefix: "anomaly:alerts:"}
}

// PublishAlerts stores alerts under the server's key, replacing the previous batch.
func (p *AlertPublisher) PublishAlerts(ctx context.Context, serverID string, alerts []models.AnomalyAlert) error {
	payload, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("encode alerts for %s: %w", serverID, err)
	}
	if err := p.provider.Set(ctx, p.Key(serverID), payload, p.ttl); err != nil {
		return fmt.Errorf("publish alerts for %s: %w", serverID, err)
	}
	return nil
}

// Key returns the cache key for serverID.
func (p *AlertPublisher) Key(serverID string) string {
	return p.prefix + serverID
}
