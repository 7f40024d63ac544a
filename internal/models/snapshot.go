package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Metric names used as history keys.
const (
	MetricCPU          = "cpu_usage"
	MetricMemory       = "memory_usage"
	MetricDisk         = "disk_usage"
	MetricResponseTime = "response_time"

	MetricSystemHealth  = "system_health"
	MetricPredictedLoad = "predicted_load"
)

// SystemServerID is the pseudo server id carried by system-wide alerts.
const SystemServerID = "SYSTEM"

// ErrMalformedSnapshot marks a snapshot that cannot be ingested.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// MetricSnapshot is one server's instantaneous reading.
type MetricSnapshot struct {
	ServerID       string    `json:"serverId"`
	Timestamp      time.Time `json:"timestamp"`
	CPUUsage       float64   `json:"cpuUsage"`
	MemoryUsage    float64   `json:"memoryUsage"`
	DiskUsage      float64   `json:"diskUsage"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Status         string    `json:"status"`
	UptimeSeconds  float64   `json:"uptimeSeconds"`
}

// MetricValue is a single named reading taken from a snapshot.
type MetricValue struct {
	Name  string
	Value float64
}

// Metrics returns the per-metric readings tracked in history, in a fixed order.
func (s MetricSnapshot) Metrics() []MetricValue {
	return []MetricValue{
		{Name: MetricCPU, Value: s.CPUUsage},
		{Name: MetricMemory, Value: s.MemoryUsage},
		{Name: MetricDisk, Value: s.DiskUsage},
		{Name: MetricResponseTime, Value: s.ResponseTimeMs},
	}
}

// Validate reports whether the snapshot can be ingested.
func (s MetricSnapshot) Validate() error {
	if s.ServerID == "" {
		return fmt.Errorf("%w: server id is required", ErrMalformedSnapshot)
	}
	for _, m := range []MetricValue{
		{Name: MetricCPU, Value: s.CPUUsage},
		{Name: MetricMemory, Value: s.MemoryUsage},
		{Name: MetricDisk, Value: s.DiskUsage},
	} {
		if !finite(m.Value) || m.Value < 0 || m.Value > 100 {
			return fmt.Errorf("%w: %s=%v out of range for %s", ErrMalformedSnapshot, m.Name, m.Value, s.ServerID)
		}
	}
	if !finite(s.ResponseTimeMs) || s.ResponseTimeMs < 0 {
		return fmt.Errorf("%w: response_time=%v for %s", ErrMalformedSnapshot, s.ResponseTimeMs, s.ServerID)
	}
	if !finite(s.UptimeSeconds) || s.UptimeSeconds < 0 {
		return fmt.Errorf("%w: uptime=%v for %s", ErrMalformedSnapshot, s.UptimeSeconds, s.ServerID)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
