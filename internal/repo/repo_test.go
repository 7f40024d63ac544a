package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestCollectorFetchSnapshots(t *testing.T) {
	client := NewCollectorClient("https://collector.example.com/base", "/api/servers", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/base/api/servers" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"servers": []map[string]any{
				{"serverId": "web-1", "cpu": 42.5, "memory": 61, "disk": 70, "responseTime": 120, "status": "online", "uptime": 3600},
			},
		}), nil
	}))

	snapshots, err := client.FetchSnapshots(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].ServerID != "web-1" || snapshots[0].CPUUsage != 42.5 {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}
}

func TestCollectorRequiresBaseURL(t *testing.T) {
	if _, err := NewCollectorClient("", "/x", 0).FetchSnapshots(context.Background()); err == nil {
		t.Fatalf("expected error without base URL")
	}
}

func TestPatternBackendSync(t *testing.T) {
	var body map[string]any
	backend := NewPatternBackend(BackendConfig{Endpoint: "https://backend.example.com", APIKey: "secret"}, nil, nil)
	backend.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/api/v1/patterns/sync" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"ok": true}), nil
	}))

	err := backend.SyncPatterns(context.Background(), []models.AnomalyPattern{{ID: models.PatternCPUSpike, Accuracy: 0.9}})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if patterns, ok := body["patterns"].([]any); !ok || len(patterns) != 1 {
		t.Fatalf("unexpected sync payload: %v", body)
	}
}

func TestPatternBackendBreakerOpens(t *testing.T) {
	calls := 0
	backend := NewPatternBackend(BackendConfig{Endpoint: "https://backend.example.com", FailureThreshold: 2, OpenTimeout: time.Hour}, nil, nil)
	backend.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(t, http.StatusServiceUnavailable, map[string]any{}), nil
	}))

	for i := 0; i < 4; i++ {
		if err := backend.SyncPatterns(context.Background(), nil); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}
	if calls != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d", calls)
	}
}

func TestPatternBackendFetchLearnedUsesCache(t *testing.T) {
	hits := 0
	mem := cache.NewMemoryProvider()
	backend := NewPatternBackend(BackendConfig{Endpoint: "https://backend.example.com", LearnedTTL: time.Minute}, mem, nil)
	backend.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if !strings.HasSuffix(req.URL.Path, "/patterns/learned") {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"patterns": []map[string]any{{"id": "cpu_spike", "accuracy": 0.8, "falsePositiveRate": 0.1}},
		}), nil
	}))

	ctx := context.Background()
	first, err := backend.FetchLearnedPatterns(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := backend.FetchLearnedPatterns(ctx)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream request, got %d", hits)
	}
	if len(first) != 1 || len(second) != 1 || second[0].Accuracy != 0.8 {
		t.Fatalf("unexpected learned patterns: %+v %+v", first, second)
	}
}

func TestPatternBackendDisabled(t *testing.T) {
	backend := NewPatternBackend(BackendConfig{}, nil, nil)
	if err := backend.SyncPatterns(context.Background(), nil); !errors.Is(err, ErrBackendDisabled) {
		t.Fatalf("expected ErrBackendDisabled, got %v", err)
	}
	if _, err := backend.FetchLearnedPatterns(context.Background()); !errors.Is(err, ErrBackendDisabled) {
		t.Fatalf("expected ErrBackendDisabled, got %v", err)
	}
}

func TestPatternBackendSyncLeaseSharedAcrossInstances(t *testing.T) {
	calls := 0
	transport := newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(t, http.StatusOK, map[string]any{"ok": true}), nil
	}))
	mem := cache.NewMemoryProvider()
	cfg := BackendConfig{Endpoint: "https://backend.example.com", SyncLease: time.Hour}

	first := NewPatternBackend(cfg, mem, nil)
	first.httpClient = transport
	second := NewPatternBackend(cfg, mem, nil)
	second.httpClient = transport

	ctx := context.Background()
	if err := first.SyncPatterns(ctx, nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if err := second.SyncPatterns(ctx, nil); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream sync while the lease is held, got %d", calls)
	}
}

func TestPatternBackendSyncFailureReleasesLease(t *testing.T) {
	fail := true
	calls := 0
	mem := cache.NewMemoryProvider()
	backend := NewPatternBackend(BackendConfig{Endpoint: "https://backend.example.com", SyncLease: time.Hour}, mem, nil)
	backend.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		if fail {
			return jsonResponse(t, http.StatusBadGateway, map[string]any{}), nil
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"ok": true}), nil
	}))

	ctx := context.Background()
	if err := backend.SyncPatterns(ctx, nil); err == nil {
		t.Fatalf("expected upstream failure")
	}
	if _, err := mem.Get(ctx, backend.syncLeaseKey()); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("lease should be released after a failed sync, got %v", err)
	}

	fail = false
	if err := backend.SyncPatterns(ctx, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach upstream, got %d calls", calls)
	}
	if _, err := mem.Get(ctx, backend.syncLeaseKey()); err != nil {
		t.Fatalf("successful sync should keep the lease: %v", err)
	}
}
