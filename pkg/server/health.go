package server

import (
	"encoding/json"
	"sync"
	"time"
)

// Status is the coarse health tier reported at /health.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// HealthStatus tracks per-dependency connectivity so /health can
// report the same tri-state (ok/degraded/error) the underlying
// components actually observe, rather than a single up/down bit.
type HealthStatus struct {
	mu sync.RWMutex

	l1         string // "connected" | "disconnected" | "unknown"
	attestation string
	store      string
	chains     map[string]string // chainName -> "connected" | "disconnected" | "unknown"

	startTime time.Time
}

// NewHealthStatus constructs a HealthStatus with every dependency
// "unknown" until the owner calls the corresponding setter.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		l1:          "unknown",
		attestation: "unknown",
		store:       "unknown",
		chains:      make(map[string]string),
		startTime:   time.Now(),
	}
}

func (h *HealthStatus) SetL1(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.l1 = status
}

func (h *HealthStatus) SetAttestation(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attestation = status
}

func (h *HealthStatus) SetStore(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store = status
}

func (h *HealthStatus) SetChain(chainName, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chains[chainName] = status
}

// snapshot is the JSON wire shape for both /health and /health/detailed.
type snapshot struct {
	Status        Status            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	L1            string            `json:"l1"`
	Attestation   string            `json:"attestation"`
	Store         string            `json:"store"`
	Chains        map[string]string `json:"chains"`
}

func (h *HealthStatus) snapshot() snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	chains := make(map[string]string, len(h.chains))
	for k, v := range h.chains {
		chains[k] = v
	}

	return snapshot{
		Status:        h.overallStatus(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		L1:            h.l1,
		Attestation:   h.attestation,
		Store:         h.store,
		Chains:        chains,
	}
}

// overallStatus mirrors the teacher's tiering: L1/store disconnection
// is critical (error), a single chain or the attestation client being
// disconnected is degraded (the orchestrator keeps running the other
// chains' passes).
func (h *HealthStatus) overallStatus() Status {
	if h.l1 == "disconnected" || h.store == "disconnected" {
		return StatusError
	}
	if h.attestation == "disconnected" {
		return StatusDegraded
	}
	for _, status := range h.chains {
		if status == "disconnected" {
			return StatusDegraded
		}
	}
	if h.l1 == "connected" && h.store == "connected" {
		return StatusOK
	}
	return StatusDegraded
}

func (h *HealthStatus) toJSON() []byte {
	b, err := json.Marshal(h.snapshot())
	if err != nil {
		return []byte(`{"status":"error"}`)
	}
	return b
}
