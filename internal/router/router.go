package router

import (
	"errors"
	"strings"

	"github.com/kestrelgw/kestrel/internal/config"
)

// ErrRouteNotFound is returned when no enabled route matches the request.
var ErrRouteNotFound = errors.New("route not found")

// Match is the materialized result of routing one request.
type Match struct {
	Service *config.Service
	Route   *config.Route
	// ForwardPath is the path to send upstream, after strip_path and the
	// service path prefix have been applied.
	ForwardPath string
}

type compiledPattern struct {
	service *config.Service
	route   *config.Route

	raw      string
	prefix   string // pattern minus the wildcard tail
	wildcard bool
	order    int
}

// Router matches (method, path) tuples against all enabled services' routes.
// It is immutable once built; configuration changes swap in a new Router.
type Router struct {
	patterns []compiledPattern
	methods  map[*config.Route]map[string]bool
}

// New compiles the routing table. The services slice must outlive the router;
// matches reference its elements directly.
func New(services []config.Service) *Router {
	r := &Router{methods: make(map[*config.Route]map[string]bool)}

	order := 0
	for i := range services {
		svc := &services[i]
		if !svc.IsEnabled() {
			continue
		}
		for j := range svc.Routes {
			route := &svc.Routes[j]

			if len(route.Methods) > 0 {
				set := make(map[string]bool, len(route.Methods))
				for _, m := range route.Methods {
					set[strings.ToUpper(m)] = true
				}
				r.methods[route] = set
			}

			for _, p := range route.Paths {
				cp := compiledPattern{
					service: svc,
					route:   route,
					raw:     p,
					order:   order,
				}
				if strings.HasSuffix(p, "/*") {
					cp.wildcard = true
					cp.prefix = strings.TrimSuffix(p, "/*")
				}
				r.patterns = append(r.patterns, cp)
				order++
			}
		}
	}

	return r
}

// Match resolves a request. Among matching patterns the longest wins; ties
// are broken by declaration order.
func (r *Router) Match(method, path string) (*Match, error) {
	var best *compiledPattern

	for i := range r.patterns {
		cp := &r.patterns[i]
		if !r.methodAllowed(cp.route, method) {
			continue
		}
		if !cp.matches(path) {
			continue
		}
		if best == nil || len(cp.raw) > len(best.raw) {
			best = cp
		}
	}

	if best == nil {
		return nil, ErrRouteNotFound
	}

	return &Match{
		Service:     best.service,
		Route:       best.route,
		ForwardPath: best.forwardPath(path),
	}, nil
}

func (r *Router) methodAllowed(route *config.Route, method string) bool {
	set, ok := r.methods[route]
	if !ok {
		return true // no method restriction
	}
	return set[strings.ToUpper(method)]
}

func (cp *compiledPattern) matches(path string) bool {
	if !cp.wildcard {
		return path == cp.raw
	}
	return path == cp.prefix || strings.HasPrefix(path, cp.prefix+"/")
}

// forwardPath applies strip_path and the service path prefix.
func (cp *compiledPattern) forwardPath(path string) string {
	forward := path
	if cp.route.StripPath {
		stripped := cp.raw
		if cp.wildcard {
			stripped = cp.prefix
		}
		forward = strings.TrimPrefix(path, stripped)
		if !strings.HasPrefix(forward, "/") {
			forward = "/" + forward
		}
	}
	if cp.service.Path != "" {
		forward = strings.TrimSuffix(cp.service.Path, "/") + forward
	}
	return forward
}
