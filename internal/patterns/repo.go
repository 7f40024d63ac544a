package patterns

import (
	"context"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Syncer pushes the registry's pattern quality to a remote backend.
type Syncer interface {
	SyncPatterns(ctx context.Context, patterns []models.AnomalyPattern) error
}

// Source supplies learned patterns to merge into the registry.
type Source interface {
	FetchLearnedPatterns(ctx context.Context) ([]models.AnomalyPattern, error)
}

// SyncFunc adapts a function to the Syncer interface.
type SyncFunc func(ctx context.Context, patterns []models.AnomalyPattern) error

// SyncPatterns implements Syncer.
func (f SyncFunc) SyncPatterns(ctx context.Context, patterns []models.AnomalyPattern) error {
	return f(ctx, patterns)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.AnomalyPattern, error)

// FetchLearnedPatterns implements Source.
func (f SourceFunc) FetchLearnedPatterns(ctx context.Context) ([]models.AnomalyPattern, error) {
	return f(ctx)
}
