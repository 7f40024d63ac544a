package repo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// CollectorClient pulls per-tick metric snapshots from the metric source.
type CollectorClient struct {
	baseURL      string
	snapshotPath string
	httpClient   *http.Client
}

// NewCollectorClient constructs a client targeting the configured collector.
func NewCollectorClient(baseURL, snapshotPath string, timeout time.Duration) *CollectorClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CollectorClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		snapshotPath: snapshotPath,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// FetchSnapshots returns the current batch of server snapshots.
func (c *CollectorClient) FetchSnapshots(ctx context.Context) ([]models.MetricSnapshot, error) {
	if c == nil {
		return nil, fmt.Errorf("collector client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("collector base URL not configured")
	}

	var response struct {
		Servers []struct {
			ServerID       string    `json:"serverId"`
			Timestamp      time.Time `json:"timestamp"`
			CPUUsage       float64   `json:"cpu"`
			MemoryUsage    float64   `json:"memory"`
			DiskUsage      float64   `json:"disk"`
			ResponseTimeMs float64   `json:"responseTime"`
			Status         string    `json:"status"`
			UptimeSeconds  float64   `json:"uptime"`
		} `json:"servers"`
	}

	if err := c.getJSON(ctx, c.resolvePath(c.snapshotPath), &response); err != nil {
		return nil, fmt.Errorf("collector snapshot request failed: %w", err)
	}

	snapshots := make([]models.MetricSnapshot, 0, len(response.Servers))
	for _, s := range response.Servers {
		snapshots = append(snapshots, models.MetricSnapshot{
			ServerID:       s.ServerID,
			Timestamp:      s.Timestamp,
			CPUUsage:       s.CPUUsage,
			MemoryUsage:    s.MemoryUsage,
			DiskUsage:      s.DiskUsage,
			ResponseTimeMs: s.ResponseTimeMs,
			Status:         s.Status,
			UptimeSeconds:  s.UptimeSeconds,
		})
	}
	return snapshots, nil
}

func (c *CollectorClient) resolvePath(p string) string {
	return resolve(c.baseURL, p)
}

func (c *CollectorClient) getJSON(ctx context.Context, endpoint string, out any) error {
	return doJSON(ctx, c.httpClient, http.MethodGet, endpoint, "", nil, out)
}

func resolve(baseURL, p string) string {
	if baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %s", method, endpoint, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
