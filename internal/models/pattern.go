package models

import "time"

// Built-in pattern identifiers.
const (
	PatternCPUSpike   = "cpu_spike"
	PatternMemoryLeak = "memory_leak"
	PatternDisk       = "disk_anomaly"
	PatternNetwork    = "network_anomaly"
	PatternComposite  = "composite_anomaly"
)

// AnomalyPattern is a named, toggleable detection rule.
type AnomalyPattern struct {
	ID                string  `json:"id" yaml:"id"`
	Name              string  `json:"name" yaml:"name"`
	Description       string  `json:"description" yaml:"description"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	Accuracy          float64 `json:"accuracy" yaml:"accuracy"`
	FalsePositiveRate float64 `json:"falsePositiveRate" yaml:"falsePositiveRate"`
}

// DetectionModel carries per-metric algorithm parameters for adaptive thresholds.
// Detectors fall back to their fixed thresholds when no model is supplied.
type DetectionModel struct {
	Metric       string             `json:"metric" yaml:"metric"`
	Algorithm    string             `json:"algorithm" yaml:"algorithm"`
	Parameters   map[string]float64 `json:"parameters" yaml:"parameters"`
	Accuracy     float64            `json:"accuracy" yaml:"accuracy"`
	LastTrained  time.Time          `json:"lastTrained" yaml:"lastTrained"`
	TrainingSize int                `json:"trainingSize" yaml:"trainingSize"`
}

// Param returns the named parameter, or fallback when absent or non-positive.
func (m *DetectionModel) Param(name string, fallback float64) float64 {
	if m == nil {
		return fallback
	}
	if v, ok := m.Parameters[name]; ok && v > 0 {
		return v
	}
	return fallback
}
