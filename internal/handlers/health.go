package handlers

import (
	"encoding/json"
	"net/http"

	"admission-gateway/internal/redis"
	"admission-gateway/internal/snapshot"
)

// healthResponse reports gateway readiness. "initializing" means no snapshot
// has been installed yet; the process is up but fail-closing every request.
type healthResponse struct {
	Status          string `json:"status"`
	WorkerType      string `json:"worker_type"`
	SnapshotVersion int64  `json:"snapshot_version,omitempty"`
	SnapshotAgeSecs int64  `json:"snapshot_age_seconds,omitempty"`
	RedisOK         bool   `json:"redis_ok"`
}

// Health serves GET /health.
type Health struct {
	store *snapshot.Store
	redis *redis.Client
}

func NewHealth(store *snapshot.Store, redisClient *redis.Client) *Health {
	return &Health{
		store: store,
		redis: redisClient,
	}
}

func (h *Health) Handle(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		WorkerType: "stateless",
		RedisOK:    h.redis != nil && h.redis.Health() == nil,
	}

	if snap := h.store.Current(); snap != nil {
		resp.SnapshotVersion = snap.Version()
		resp.SnapshotAgeSecs = int64(h.store.Age().Seconds())
	} else {
		resp.Status = "initializing"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
