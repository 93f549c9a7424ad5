// Package admin serves the management API. Mutations go through the upstream
// manager and are observed by the next proxied request.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
	"github.com/kestrelgw/kestrel/internal/gateway"
	"github.com/kestrelgw/kestrel/internal/upstream"
)

type Handler struct {
	gw        *gateway.Gateway
	startTime time.Time
	logger    *zap.Logger
}

// New builds the admin router mounted under /admin.
func New(gw *gateway.Gateway, corsCfg *config.CORSConfig, logger *zap.Logger) http.Handler {
	h := &Handler{
		gw:        gw,
		startTime: time.Now(),
		logger:    logger.Named("admin"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/admin/", h.status).Methods(http.MethodGet)
	r.HandleFunc("/admin/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/admin/upstreams", h.listUpstreams).Methods(http.MethodGet)
	r.HandleFunc("/admin/upstreams", h.createUpstream).Methods(http.MethodPost)
	r.HandleFunc("/admin/upstreams/{name}", h.getUpstream).Methods(http.MethodGet)
	r.HandleFunc("/admin/upstreams/{name}", h.deleteUpstream).Methods(http.MethodDelete)
	r.HandleFunc("/admin/upstreams/{name}/targets", h.listTargets).Methods(http.MethodGet)
	r.HandleFunc("/admin/upstreams/{name}/targets", h.addTarget).Methods(http.MethodPost)
	r.HandleFunc("/admin/upstreams/{name}/health", h.listTargets).Methods(http.MethodGet)
	r.HandleFunc("/admin/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/admin/routes", h.listRoutes).Methods(http.MethodGet)
	r.HandleFunc("/admin/plugins", h.listPlugins).Methods(http.MethodGet)

	var handler http.Handler = r
	if corsCfg != nil {
		handler = cors.New(cors.Options{
			AllowedOrigins: corsCfg.AllowedOrigins,
			AllowedMethods: corsCfg.AllowedMethods,
			AllowedHeaders: corsCfg.AllowedHeaders,
			MaxAge:         corsCfg.MaxAge,
		}).Handler(r)
	}
	return handler
}

type upstreamSummary struct {
	Name           string `json:"name"`
	Targets        int    `json:"targets"`
	HealthyTargets int    `json:"healthy_targets"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	m := h.gw.Manager()

	summaries := make([]upstreamSummary, 0)
	for _, name := range m.Names() {
		statuses, err := m.Status(name)
		if err != nil {
			continue
		}
		s := upstreamSummary{Name: name, Targets: len(statuses)}
		for _, ts := range statuses {
			if ts.Healthy {
				s.HealthyTargets++
			}
		}
		summaries = append(summaries, s)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"uptime":    time.Since(h.startTime).String(),
		"upstreams": summaries,
	})
}

func (h *Handler) listUpstreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"upstreams": h.gw.Manager().Names()})
}

func (h *Handler) createUpstream(w http.ResponseWriter, r *http.Request) {
	var cfg config.Upstream
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "round-robin"
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Weight == 0 {
			cfg.Targets[i].Weight = 1
		}
	}

	if err := h.gw.Manager().AddUpstream(cfg); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Info("upstream created", zap.String("upstream", cfg.Name))
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "name": cfg.Name})
}

func (h *Handler) getUpstream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pool, err := h.gw.Manager().Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	statuses, _ := h.gw.Manager().Status(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      pool.Name,
		"algorithm": pool.Algorithm,
		"targets":   statuses,
	})
}

func (h *Handler) deleteUpstream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.gw.Manager().RemoveUpstream(name); err != nil {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	h.logger.Info("upstream deleted", zap.String("upstream", name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	statuses, err := h.gw.Manager().Status(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "upstream not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upstream": name, "targets": statuses})
}

func (h *Handler) addTarget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var target config.Target
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if target.Host == "" || target.Port < 1 || target.Port > 65535 {
		writeError(w, http.StatusBadRequest, "valid host and port are required")
		return
	}

	if err := h.gw.Manager().AddTarget(name, target); err != nil {
		if errors.Is(err, upstream.ErrUnknownUpstream) {
			writeError(w, http.StatusNotFound, "upstream not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	cfg := h.gw.Config()
	writeJSON(w, http.StatusOK, map[string]any{"services": cfg.Services})
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	cfg := h.gw.Config()

	type routeInfo struct {
		Service   string   `json:"service"`
		Name      string   `json:"name"`
		Paths     []string `json:"paths"`
		Methods   []string `json:"methods,omitempty"`
		StripPath bool     `json:"strip_path"`
	}
	routes := make([]routeInfo, 0)
	for _, svc := range cfg.Services {
		for _, route := range svc.Routes {
			routes = append(routes, routeInfo{
				Service:   svc.Name,
				Name:      route.Name,
				Paths:     route.Paths,
				Methods:   route.Methods,
				StripPath: route.StripPath,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (h *Handler) listPlugins(w http.ResponseWriter, r *http.Request) {
	cfg := h.gw.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"available":  h.gw.Registry().Names(),
		"configured": cfg.Plugins,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
