package plugin

import (
	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

// Merge composes the effective plugin list for a route: the global list in
// config order, with route entries overriding same-named globals in place and
// new route entries appended.
func Merge(global, route []config.PluginConfig) []config.PluginConfig {
	merged := make([]config.PluginConfig, len(global))
	copy(merged, global)

	for _, rp := range route {
		replaced := false
		for i := range merged {
			if merged[i].Name == rp.Name {
				merged[i] = rp
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, rp)
		}
	}
	return merged
}

// Chain executes an ordered plugin list for one route. Instances are built
// once at configuration time and shared across requests; per-request state
// lives in the Context.
type Chain struct {
	plugins []Plugin
	logger  *zap.Logger
}

// NewChain builds plugin instances for the merged global+route config.
func NewChain(reg *Registry, global, route []config.PluginConfig, logger *zap.Logger) (*Chain, error) {
	merged := Merge(global, route)
	plugins := make([]Plugin, 0, len(merged))
	for _, cfg := range merged {
		p, err := reg.Build(cfg)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return &Chain{plugins: plugins, logger: logger.Named("chain")}, nil
}

// Plugins exposes the chain's ordered plugin list.
func (c *Chain) Plugins() []Plugin {
	return c.plugins
}

// Access runs the access phase in list order and returns the plugins that
// executed. The first plugin to set a short-circuit ends the phase; it is
// included in the executed set so the mirror response phase reaches it.
func (c *Chain) Access(ctx *Context) ([]Plugin, error) {
	executed := make([]Plugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		executed = append(executed, p)
		if err := p.Access(ctx); err != nil {
			return executed, err
		}
		if ctx.ShortCircuit != nil {
			break
		}
	}
	return executed, nil
}

// Response runs the response phase in reverse order over the plugins that
// executed access, so the outermost plugin sees the final response.
func (c *Chain) Response(ctx *Context, resp *Response, executed []Plugin) error {
	for i := len(executed) - 1; i >= 0; i-- {
		if err := executed[i].Response(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

// Log runs the log phase in forward order. The gateway calls it after the
// response has been flushed, off the critical path.
func (c *Chain) Log(ctx *Context, resp *Response, executed []Plugin) {
	for _, p := range executed {
		p.Log(ctx, resp)
	}
}
