package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
	"github.com/kestrelgw/kestrel/internal/metrics"
	"github.com/kestrelgw/kestrel/internal/plugin"
	"github.com/kestrelgw/kestrel/internal/proxy"
	"github.com/kestrelgw/kestrel/internal/router"
	"github.com/kestrelgw/kestrel/internal/upstream"
)

// routeTable is the immutable routing state swapped atomically on reload.
type routeTable struct {
	cfg    *config.Config
	router *router.Router
	chains map[*config.Route]*plugin.Chain
}

// Gateway glues router, plugin chains, and upstream forwarding into one
// http.Handler.
type Gateway struct {
	mu    sync.RWMutex
	table *routeTable

	manager   *upstream.Manager
	registry  *plugin.Registry
	forwarder *proxy.Forwarder
	logger    *zap.Logger

	metricsEnabled bool
}

// New builds a gateway from a validated config. Plugin names are resolved
// against the registry here, before any request is served.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	registry := plugin.NewRegistry(logger)
	manager := upstream.NewManager(logger)
	if err := manager.Start(ctx, cfg.Upstreams); err != nil {
		return nil, err
	}

	g := &Gateway{
		manager:        manager,
		registry:       registry,
		logger:         logger.Named("gateway"),
		metricsEnabled: cfg.Gateway.Metrics.Enabled,
	}
	g.forwarder = proxy.NewForwarder(manager, time.Duration(cfg.Gateway.UpstreamTimeout)*time.Second, logger)

	table, err := g.buildTable(cfg)
	if err != nil {
		manager.Stop()
		return nil, err
	}
	g.table = table

	return g, nil
}

// buildTable compiles the router and per-route plugin chains.
func (g *Gateway) buildTable(cfg *config.Config) (*routeTable, error) {
	table := &routeTable{
		cfg:    cfg,
		router: router.New(cfg.Services),
		chains: make(map[*config.Route]*plugin.Chain),
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		base := plugin.Merge(cfg.Plugins, svc.Plugins)
		for j := range svc.Routes {
			route := &svc.Routes[j]
			chain, err := plugin.NewChain(g.registry, base, route.Plugins, g.logger)
			if err != nil {
				return nil, err
			}
			table.chains[route] = chain
		}
	}
	return table, nil
}

// Reload swaps in a new configuration. The upstream map is rebuilt; a failed
// build leaves the running state untouched.
func (g *Gateway) Reload(ctx context.Context, cfg *config.Config) error {
	newManager := upstream.NewManager(g.logger)
	if err := newManager.Start(ctx, cfg.Upstreams); err != nil {
		newManager.Stop()
		return err
	}

	oldManager := g.manager
	oldForwarder := g.forwarder

	g.mu.Lock()
	g.manager = newManager
	g.forwarder = proxy.NewForwarder(newManager, time.Duration(cfg.Gateway.UpstreamTimeout)*time.Second, g.logger)
	table, err := g.buildTable(cfg)
	if err != nil {
		g.manager = oldManager
		g.forwarder = oldForwarder
		g.mu.Unlock()
		newManager.Stop()
		return err
	}
	g.table = table
	g.mu.Unlock()

	oldManager.Stop()
	g.logger.Info("configuration reloaded")
	return nil
}

// Manager exposes the upstream manager to the admin surface.
func (g *Gateway) Manager() *upstream.Manager {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.manager
}

// Registry exposes the plugin registry to the admin surface.
func (g *Gateway) Registry() *plugin.Registry {
	return g.registry
}

// Config returns the active configuration snapshot.
func (g *Gateway) Config() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table.cfg
}

func (g *Gateway) snapshot() (*routeTable, *upstream.Manager, *proxy.Forwarder) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table, g.manager, g.forwarder
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table, _, forwarder := g.snapshot()

	received := time.Now()

	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	match, err := table.router.Match(r.Method, r.URL.Path)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "route not found")
		return
	}

	pctx := &plugin.Context{
		Request:     r,
		Body:        body,
		ClientIP:    clientIP,
		ServiceName: match.Service.Name,
		RouteName:   match.Route.Name,
		ReceivedAt:  received,
		Values:      make(map[string]any),
	}

	chain := table.chains[match.Route]
	executed, err := chain.Access(pctx)
	if err != nil {
		g.logger.Error("access phase failed", zap.String("route", match.Route.Name), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var resp *plugin.Response
	if sc := pctx.ShortCircuit; sc != nil {
		header := sc.Header
		if header == nil {
			header = http.Header{}
		}
		resp = &plugin.Response{StatusCode: sc.Status, Header: header, Body: sc.Body}
	} else {
		resp, err = forwarder.Forward(r.Context(), pctx, match.Service.Upstream, match.ForwardPath)
		if err != nil {
			status, message := mapForwardError(err)
			header := http.Header{}
			header.Set("Content-Type", "application/json")
			resp = &plugin.Response{
				StatusCode: status,
				Header:     header,
				Body:       []byte(`{"error":"` + message + `"}`),
			}
		}
	}

	if err := chain.Response(pctx, resp, executed); err != nil {
		g.logger.Error("response phase failed", zap.String("route", match.Route.Name), zap.Error(err))
	}

	writeResponse(w, resp)
	pctx.FinishedAt = time.Now()

	if g.metricsEnabled {
		metrics.RecordRequest(match.Service.Name, r.Method, resp.StatusCode, pctx.FinishedAt.Sub(received))
	}

	// Log phase runs outside the critical path, after the response is
	// flushed.
	go chain.Log(pctx, resp, executed)
}

func writeResponse(w http.ResponseWriter, resp *plugin.Response) {
	for k, values := range resp.Header {
		w.Header()[k] = values
	}
	if len(resp.Body) > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// mapForwardError turns a forwarding failure into the client-facing status.
func mapForwardError(err error) (int, string) {
	switch {
	case errors.Is(err, upstream.ErrNoHealthyTarget),
		errors.Is(err, upstream.ErrCircuitOpen),
		errors.Is(err, upstream.ErrUnknownUpstream):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "upstream timeout"
	default:
		return http.StatusBadGateway, "bad gateway"
	}
}
