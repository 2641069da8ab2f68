// Package httpapi exposes a read-only status surface over the gateway's
// live state: channels, decoder stats, the active gateway config, and diff
// suppression stats. It carries no mutation endpoints — configuration
// changes happen through the YAML file and a restart/reload, not the wire.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/phnahes/can-gateway/internal/busmgr"
	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/gateway"
	"github.com/phnahes/can-gateway/internal/logging"
)

// RequestIDHeader carries a per-request correlation id, generated if the
// caller didn't supply one, so a status-API request can be traced through
// the daemon's logs.
const RequestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		logging.L().Debug("http_request", "request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Server wires the status endpoints to the live components they report on.
type Server struct {
	buses    *busmgr.Manager
	registry *decoder.Registry
	gw       *gateway.Config
	diffEng  *diff.Engine
}

// New returns a Server reporting on the given components. Any may be nil;
// the corresponding endpoint then reports an empty/disabled result instead
// of panicking.
func New(buses *busmgr.Manager, registry *decoder.Registry, gw *gateway.Config, diffEng *diff.Engine) *Server {
	return &Server{buses: buses, registry: registry, gw: gw, diffEng: diffEng}
}

// Router builds the mux.Router serving /api/v1/*.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	api.HandleFunc("/decoders", s.handleDecoders).Methods(http.MethodGet)
	api.HandleFunc("/gateway/config", s.handleGatewayConfig).Methods(http.MethodGet)
	api.HandleFunc("/diff/stats", s.handleDiffStats).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.buses != nil {
		names = s.buses.Names()
	}
	writeJSON(w, map[string]any{"buses": names})
}

type decoderStat struct {
	Name          string  `json:"name"`
	Priority      int     `json:"priority"`
	Enabled       bool    `json:"enabled"`
	Decoded       uint64  `json:"decoded"`
	Failed        uint64  `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgConfidence float64 `json:"avg_confidence"`
}

func (s *Server) handleDecoders(w http.ResponseWriter, r *http.Request) {
	var out []decoderStat
	if s.registry != nil {
		for _, d := range s.registry.Decoders() {
			st := s.registry.StatsFor(d.Name())
			out = append(out, decoderStat{
				Name:          d.Name(),
				Priority:      d.Priority(),
				Enabled:       d.Enabled(),
				Decoded:       st.Decoded,
				Failed:        st.Failed,
				SuccessRate:   st.SuccessRate(),
				AvgConfidence: st.AvgConfidence(),
			})
		}
	}
	writeJSON(w, map[string]any{"decoders": out})
}

func (s *Server) handleGatewayConfig(w http.ResponseWriter, r *http.Request) {
	if s.gw == nil {
		writeJSON(w, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, map[string]any{
		"enabled":                 s.gw.Enabled,
		"loop_prevention_enabled": s.gw.LoopPreventionEnabled,
		"max_hops":                s.gw.MaxHops,
		"routes":                  s.gw.Routes,
		"block_rules":             len(s.gw.BlockRules),
		"dynamic_blocks":          len(s.gw.DynamicBlocks),
		"modify_rules":            len(s.gw.ModifyRules),
	})
}

func (s *Server) handleDiffStats(w http.ResponseWriter, r *http.Request) {
	if s.diffEng == nil {
		writeJSON(w, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, s.diffEng.Statistics())
}
