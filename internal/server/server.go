package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kestrelgw/kestrel/internal/admin"
	"github.com/kestrelgw/kestrel/internal/config"
	"github.com/kestrelgw/kestrel/internal/gateway"
	"github.com/kestrelgw/kestrel/internal/metrics"
)

// Server owns the listener sockets: the gateway port, plus either an inline
// /admin mount or a dedicated admin port.
type Server struct {
	cfg    *config.Config
	gw     *gateway.Gateway
	logger *zap.Logger

	httpServer  *http.Server
	adminServer *http.Server
}

func New(cfg *config.Config, gw *gateway.Gateway, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		gw:     gw,
		logger: logger.Named("server"),
	}

	adminHandler := admin.New(gw, cfg.Gateway.Admin.CORS, logger)

	var handler http.Handler
	if cfg.Gateway.AdminPort != 0 {
		handler = s.buildHandler(gw, nil)
		s.adminServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Gateway.AdminPort),
			Handler: adminHandler,
		}
	} else {
		handler = s.buildHandler(gw, adminHandler)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Gateway.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Gateway.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Gateway.IdleTimeout) * time.Second,
	}

	return s
}

// buildHandler dispatches /admin and the metrics path before the gateway,
// and optionally wraps everything for h2c.
func (s *Server) buildHandler(gw *gateway.Gateway, adminHandler http.Handler) http.Handler {
	metricsPath := s.cfg.Gateway.Metrics.Path
	metricsEnabled := s.cfg.Gateway.Metrics.Enabled
	metricsHandler := metrics.Handler()

	handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminHandler != nil && (r.URL.Path == "/admin" || strings.HasPrefix(r.URL.Path, "/admin/")) {
			if r.URL.Path == "/admin" {
				http.Redirect(w, r, "/admin/", http.StatusMovedPermanently)
				return
			}
			adminHandler.ServeHTTP(w, r)
			return
		}
		if metricsEnabled && r.URL.Path == metricsPath {
			metricsHandler.ServeHTTP(w, r)
			return
		}
		gw.ServeHTTP(w, r)
	}))

	if s.cfg.Gateway.HTTP2 {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 2)

	go func() {
		s.logger.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
		errChan <- s.httpServer.ListenAndServe()
	}()

	if s.adminServer != nil {
		go func() {
			s.logger.Info("admin listening", zap.String("addr", s.adminServer.Addr))
			errChan <- s.adminServer.ListenAndServe()
		}()
	}

	if s.cfg.Gateway.Metrics.Enabled {
		go s.publishHealthGauges(ctx)
	}

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if s.adminServer != nil {
			s.adminServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// publishHealthGauges periodically exports per-upstream healthy-target
// counts.
func (s *Server) publishHealthGauges(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := s.gw.Manager()
			for _, name := range m.Names() {
				statuses, err := m.Status(name)
				if err != nil {
					continue
				}
				healthy := 0
				for _, ts := range statuses {
					if ts.Healthy {
						healthy++
					}
				}
				metrics.SetHealthyTargets(name, healthy)
			}
		case <-ctx.Done():
			return
		}
	}
}
