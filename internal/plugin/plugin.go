package plugin

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

// Plugin is the uniform three-phase contract. Access runs before the upstream
// call and may short-circuit through the context. Response runs after the
// upstream call (or over a short-circuit response) and may mutate it. Log
// runs after the response has been written to the client and must not block
// it.
type Plugin interface {
	Name() string
	Access(ctx *Context) error
	Response(ctx *Context, resp *Response) error
	Log(ctx *Context, resp *Response)
}

// Base provides no-op phases so concrete plugins implement only what they
// declare.
type Base struct {
	PluginName string
}

func (b Base) Name() string                     { return b.PluginName }
func (Base) Access(*Context) error              { return nil }
func (Base) Response(*Context, *Response) error { return nil }
func (Base) Log(*Context, *Response)            {}

// Consumer is the identity an auth plugin attaches to a request.
type Consumer struct {
	Username string
	CustomID string
	UserID   string
}

// ShortCircuit is a synthetic response produced in the access phase.
type ShortCircuit struct {
	Status int
	Header http.Header
	Body   []byte
}

// Response is the mutable view of the upstream (or synthetic) response as it
// flows back through the chain.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Context is the per-request state threaded through the chain. It is owned by
// the in-flight request and dropped when it completes.
type Context struct {
	Request *http.Request
	// Body is the buffered request body; mutations here are forwarded.
	Body []byte
	// ClientIP is the socket peer address.
	ClientIP string

	ServiceName string
	RouteName   string

	Consumer   *Consumer
	Credential string

	ShortCircuit *ShortCircuit

	ReceivedAt         time.Time
	UpstreamSentAt     time.Time
	UpstreamReceivedAt time.Time
	FinishedAt         time.Time

	// Values carries inter-plugin state.
	Values map[string]any
}

// Reject short-circuits the access phase with a JSON error body.
func (c *Context) Reject(status int, message string) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	c.ShortCircuit = &ShortCircuit{
		Status: status,
		Header: header,
		Body:   []byte(`{"error":"` + message + `"}`),
	}
}

// RestrictedIP is the address policy plugins filter on: the leftmost
// X-Forwarded-For entry when present, the socket address otherwise.
func (c *Context) RestrictedIP() string {
	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return c.ClientIP
}

// Factory builds a plugin instance from its effective options.
type Factory func(opts Options, logger *zap.Logger) (Plugin, error)

// Registry maps plugin names to factories.
type Registry struct {
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry returns a registry with all built-in plugins registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Named("plugin"),
	}

	r.Register("jwt-auth", newJWTAuth)
	r.Register("key-auth", newKeyAuth)
	r.Register("rate-limiting", newRateLimiting)
	r.Register("cors", newCORS)
	r.Register("request-transformer", newRequestTransformer)
	r.Register("response-transformer", newResponseTransformer)
	r.Register("ip-restriction", newIPRestriction)
	r.Register("request-size-limiting", newSizeLimiting)
	r.Register("logging", newLogging)

	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Known(name string) bool {
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates a plugin from its config entry.
func (r *Registry) Build(cfg config.PluginConfig) (Plugin, error) {
	factory, ok := r.factories[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", cfg.Name)
	}
	p, err := factory(Options(cfg.Options), r.logger.Named(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", cfg.Name, err)
	}
	return p, nil
}
