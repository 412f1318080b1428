// Package api exposes the read-only HTTP surface: health probes for the
// orchestrator and public auction snapshots. All mutating operations go
// through the engine directly; this server never writes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/health"
)

// Server bundles the handlers behind the HTTP surface.
type Server struct {
	engine *auction.Engine
	health *health.Handler
	logger *slog.Logger
}

// NewServer returns a Server serving snapshots from the given engine.
func NewServer(engine *auction.Engine, h *health.Handler, logger *slog.Logger) *Server {
	return &Server{engine: engine, health: h, logger: logger}
}

// Router builds the chi router with health probes and auction routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())
	r.Get("/auctions/{auctionID}", s.getAuction)

	return r
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auctionID")

	snap, err := s.engine.GetSnapshot(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if auction.KindOf(err) == auction.KindNotFound {
			status = http.StatusNotFound
		} else {
			s.logger.ErrorContext(r.Context(), "snapshot lookup failed",
				slog.String("auction_id", id), slog.Any("error", err))
		}
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
