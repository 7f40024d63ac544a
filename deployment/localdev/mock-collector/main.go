package main

import (
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

type serverSnapshot struct {
	ServerID     string    `json:"serverId"`
	Timestamp    time.Time `json:"timestamp"`
	CPU          float64   `json:"cpu"`
	Memory       float64   `json:"memory"`
	Disk         float64   `json:"disk"`
	ResponseTime float64   `json:"responseTime"`
	Status       string    `json:"status"`
	Uptime       float64   `json:"uptime"`
}

type learnedPattern struct {
	ID                string  `json:"id"`
	Accuracy          float64 `json:"accuracy"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
}

// fleet simulates a handful of servers; every spikeEvery ticks one server runs hot.
type fleet struct {
	mu         sync.Mutex
	tick       int
	spikeEvery int
	started    time.Time
	servers    []string
}

func (f *fleet) next() []serverSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick++

	now := time.Now().UTC()
	out := make([]serverSnapshot, 0, len(f.servers))
	for i, id := range f.servers {
		s := serverSnapshot{
			ServerID:     id,
			Timestamp:    now,
			CPU:          20 + rand.Float64()*15,
			Memory:       40 + rand.Float64()*10,
			Disk:         55 + rand.Float64()*5,
			ResponseTime: 80 + rand.Float64()*40,
			Status:       "online",
			Uptime:       now.Sub(f.started).Seconds(),
		}
		if f.spikeEvery > 0 && f.tick%f.spikeEvery == 0 && i == f.tick/f.spikeEvery%len(f.servers) {
			s.CPU = 92 + rand.Float64()*6
			s.ResponseTime = 1500
		}
		out = append(out, s)
	}
	return out
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	spikeEvery := flag.Int("spike-every", 20, "ticks between simulated spikes (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	fl := &fleet{
		spikeEvery: *spikeEvery,
		started:    time.Now(),
		servers:    []string{"web-1", "web-2", "api-1", "db-1"},
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/v1/servers/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"servers": fl.next()})
	})
	r.Post("/api/v1/patterns/sync", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SyncedAt string            `json:"syncedAt"`
			Patterns []json.RawMessage `json:"patterns"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("patterns synced", slog.Int("patterns", len(body.Patterns)), slog.String("synced_at", body.SyncedAt))
		writeJSON(w, map[string]any{"accepted": len(body.Patterns)})
	})
	r.Get("/api/v1/patterns/learned", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"patterns": []learnedPattern{
				{ID: "cpu_spike", Accuracy: 0.9, FalsePositiveRate: 0.06},
				{ID: "network_anomaly", Accuracy: 0.82, FalsePositiveRate: 0.12},
			},
		})
	})

	logger.Info("mock collector listening", slog.String("addr", *addr))
	server := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("mock collector exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
