package api

import (
	"net/http"
	"strings"

	"github.com/okian/crewmap/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps    Dependencies
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps Dependencies) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Tracking      bool   `json:"tracking"`
	FeedConnected bool   `json:"feed_connected"`
}

// HandleHealth handles GET /healthz. Clients asking for JSON get a liveness
// summary; everyone else gets Prometheus metrics.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		st := h.deps.Stats(r.Context())
		writeJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			Tracking:      st.Started,
			FeedConnected: st.FeedConnected,
		})
		return
	}
	h.metrics.ServeHTTP(w, r)
}
