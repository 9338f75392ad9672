package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	types "github.com/sebas/relayengine/api/types/v1"
	"github.com/sebas/relayengine/internal/relay/worker"
)

// EngineProvider provides relay state for the API.
// Implemented by engine.Engine.
type EngineProvider interface {
	Stats(ctx context.Context) ([]worker.Stats, error)
	Legs(ctx context.Context) ([]worker.Leg, error)
}

// Server provides the HTTP admin API (read only).
type Server struct {
	addr       string
	httpServer *http.Server
	engine     EngineProvider
	log        *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. A nil gatherer leaves /metrics out.
func NewServer(addr string, e EngineProvider, g prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:      addr,
		engine:    e,
		log:       log,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/legs", s.handleLegs)
	if g != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the API's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log.Info("[API] Starting HTTP API server", "addr", s.addr)
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("[API] Shutdown error", "error", err)
		}
	})
	defer stop()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.log.Error("[API] Stats failed", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	response := types.StatsResponse{Shards: make([]types.ShardStats, 0, len(stats))}
	for i, st := range stats {
		response.TotalLegs += st.Legs
		response.ActiveLegs += st.Active
		response.ActiveCalls += st.Calls
		response.TotalFreePorts += st.FreePorts
		response.Shards = append(response.Shards, types.ShardStats{
			Shard:     i,
			Legs:      st.Legs,
			Pending:   st.Pending,
			Active:    st.Active,
			Calls:     st.Calls,
			FreePorts: st.FreePorts,
		})
	}
	s.writeJSON(w, response)
}

// --- Legs ---

func (s *Server) handleLegs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	legs, err := s.engine.Legs(r.Context())
	if err != nil {
		s.log.Error("[API] Legs failed", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Optional filter: ?call_id=
	callID := r.URL.Query().Get("call_id")

	now := time.Now()
	response := make([]types.Leg, 0, len(legs))
	for _, l := range legs {
		if callID != "" && l.CallID != callID {
			continue
		}
		response = append(response, types.Leg{
			ID:          l.ID,
			CallID:      l.CallID,
			LegID:       l.LegID,
			State:       l.State,
			Port:        l.Port,
			Local:       l.Local,
			Remote:      l.Remote,
			Duration:    int(now.Sub(l.Created).Seconds()),
			CreatedAt:   l.Created.Format(time.RFC3339),
			PacketsIn:   l.Stats.PacketsIn,
			PacketsOut:  l.Stats.PacketsOut,
			BytesIn:     l.Stats.BytesIn,
			BytesOut:    l.Stats.BytesOut,
			Lost:        l.Stats.Lost,
			LossRate:    l.Stats.LossRate,
			SSRC:        l.Stats.SSRC,
			PayloadType: l.Stats.PayloadType,
		})
	}
	s.writeJSON(w, response)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("[API] Failed to encode JSON", "error", err)
	}
}
