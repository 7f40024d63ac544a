package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// ErrBackendDisabled is returned when no pattern backend endpoint is configured.
var ErrBackendDisabled = errors.New("pattern backend not configured")

// BackendConfig configures the remote pattern backend.
type BackendConfig struct {
	Endpoint         string
	APIKey           string
	Timeout          time.Duration
	SyncPath         string
	LearnedPath      string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	LearnedTTL       time.Duration
	// SyncLease bounds how often any instance sharing the cache may sync. Zero disables the lease.
	SyncLease time.Duration
}

// PatternBackend syncs pattern quality to, and reads learned patterns from, a remote store.
// Calls go through a circuit breaker so a failing backend is not hammered every interval.
type PatternBackend struct {
	cfg        BackendConfig
	httpClient *http.Client
	cache      cache.Provider
	instance   string
	breaker    *gobreaker.CircuitBreaker[[]models.AnomalyPattern]
	logger     *slog.Logger
}

// NewPatternBackend constructs a backend client.
func NewPatternBackend(cfg BackendConfig, cacheProvider cache.Provider, logger *slog.Logger) *PatternBackend {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SyncPath == "" {
		cfg.SyncPath = "/api/v1/patterns/sync"
	}
	if cfg.LearnedPath == "" {
		cfg.LearnedPath = "/api/v1/patterns/learned"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.LearnedTTL < 0 {
		cfg.LearnedTTL = 0
	}
	if cfg.SyncLease < 0 {
		cfg.SyncLease = 0
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	b := &PatternBackend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cacheProvider,
		instance:   uuid.NewString(),
		logger:     logger,
	}
	b.breaker = gobreaker.NewCircuitBreaker[[]models.AnomalyPattern](gobreaker.Settings{
		Name:        "pattern-backend",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return b
}

// SyncPatterns pushes the enabled patterns and their quality numbers to the backend.
// With a sync lease configured, only the instance holding the lease pushes; the others
// return nil. A failed push releases the lease so a peer can retry.
func (b *PatternBackend) SyncPatterns(ctx context.Context, patterns []models.AnomalyPattern) error {
	if b == nil {
		return fmt.Errorf("pattern backend not initialised")
	}
	if b.cfg.Endpoint == "" {
		return ErrBackendDisabled
	}

	leased := false
	if b.cfg.SyncLease > 0 {
		ok, err := b.cache.SetNX(ctx, b.syncLeaseKey(), []byte(b.instance), b.cfg.SyncLease)
		switch {
		case err != nil:
			b.logger.Debug("sync lease unavailable, syncing without it", slog.Any("error", err))
		case !ok:
			b.logger.Debug("pattern sync lease held by another instance")
			return nil
		default:
			leased = true
		}
	}

	payload := map[string]any{
		"syncedAt": time.Now().UTC().Format(time.RFC3339),
		"patterns": patterns,
	}
	_, err := b.breaker.Execute(func() ([]models.AnomalyPattern, error) {
		return nil, doJSON(ctx, b.httpClient, http.MethodPost, resolve(b.cfg.Endpoint, b.cfg.SyncPath), b.cfg.APIKey, payload, nil)
	})
	if err != nil {
		if leased {
			if delErr := b.cache.Del(context.WithoutCancel(ctx), b.syncLeaseKey()); delErr != nil {
				b.logger.Debug("sync lease release failed", slog.Any("error", delErr))
			}
		}
		return fmt.Errorf("sync patterns: %w", err)
	}
	return nil
}

// FetchLearnedPatterns reads the learned-pattern feed, serving from cache while fresh.
func (b *PatternBackend) FetchLearnedPatterns(ctx context.Context) ([]models.AnomalyPattern, error) {
	if b == nil {
		return nil, fmt.Errorf("pattern backend not initialised")
	}
	if b.cfg.Endpoint == "" {
		return nil, ErrBackendDisabled
	}

	cacheKey := b.learnedCacheKey()
	if b.cfg.LearnedTTL > 0 {
		if data, err := b.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.AnomalyPattern
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	patterns, err := b.breaker.Execute(func() ([]models.AnomalyPattern, error) {
		var response struct {
			Patterns []models.AnomalyPattern `json:"patterns"`
		}
		if err := doJSON(ctx, b.httpClient, http.MethodGet, resolve(b.cfg.Endpoint, b.cfg.LearnedPath), b.cfg.APIKey, nil, &response); err != nil {
			return nil, err
		}
		return response.Patterns, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch learned patterns: %w", err)
	}

	if b.cfg.LearnedTTL > 0 && len(patterns) > 0 {
		if payload, err := json.Marshal(patterns); err == nil {
			if err := b.cache.Set(ctx, cacheKey, payload, b.cfg.LearnedTTL); err != nil {
				b.logger.Debug("learned pattern cache write failed", slog.Any("error", err))
			}
		}
	}
	return patterns, nil
}

func (b *PatternBackend) syncLeaseKey() string {
	return "anomaly:patterns:sync-lease:" + b.cfg.Endpoint
}

func (b *PatternBackend) learnedCacheKey() string {
	return "anomaly:patterns:learned:" + b.cfg.Endpoint
}
