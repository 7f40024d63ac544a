package scoring

import (
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

const trendWindow = 10

// Trend compares the mean of the last ten points against the ten before them.
// A move of more than 10% of the older mean counts as a trend.
func Trend(history []float64) models.Trend {
	n := len(history)
	if n < trendWindow {
		return models.TrendStable
	}

	recent := history[n-trendWindow:]
	olderStart := n - 2*trendWindow
	if olderStart < 0 {
		olderStart = 0
	}
	older := history[olderStart : n-trendWindow]
	if len(older) == 0 {
		return models.TrendStable
	}

	recentMean := stat.Mean(recent, nil)
	olderMean := stat.Mean(older, nil)
	threshold := olderMean * 0.1

	switch {
	case recentMean > olderMean+threshold:
		return models.TrendIncreasing
	case recentMean < olderMean-threshold:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// Context summarises a series for the alert's historical context block.
func Context(history []float64) models.HistoricalContext {
	if len(history) == 0 {
		return models.HistoricalContext{RecentTrend: models.TrendStable}
	}
	mean, std := stat.PopMeanStdDev(history, nil)
	return models.HistoricalContext{
		Average:           mean,
		StandardDeviation: std,
		RecentTrend:       Trend(history),
	}
}
