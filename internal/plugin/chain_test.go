package plugin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

// recordingPlugin appends phase markers to a shared trace.
type recordingPlugin struct {
	Base
	trace        *[]string
	shortCircuit bool
}

func (p *recordingPlugin) Access(ctx *Context) error {
	*p.trace = append(*p.trace, "access:"+p.PluginName)
	if p.shortCircuit {
		ctx.Reject(http.StatusForbidden, "stopped by "+p.PluginName)
	}
	return nil
}

func (p *recordingPlugin) Response(ctx *Context, resp *Response) error {
	*p.trace = append(*p.trace, "response:"+p.PluginName)
	return nil
}

func (p *recordingPlugin) Log(ctx *Context, resp *Response) {
	*p.trace = append(*p.trace, "log:"+p.PluginName)
}

func newTestContext(r *http.Request) *Context {
	return &Context{
		Request:    r,
		ClientIP:   "192.0.2.1",
		ReceivedAt: time.Now(),
		Values:     make(map[string]any),
	}
}

func recordingChain(trace *[]string, shortCircuitAt string, names ...string) *Chain {
	plugins := make([]Plugin, 0, len(names))
	for _, name := range names {
		plugins = append(plugins, &recordingPlugin{
			Base:         Base{PluginName: name},
			trace:        trace,
			shortCircuit: name == shortCircuitAt,
		})
	}
	return &Chain{plugins: plugins, logger: zap.NewNop()}
}

func TestChainResponseMirrorsAccess(t *testing.T) {
	var trace []string
	chain := recordingChain(&trace, "", "a", "b", "c")
	ctx := newTestContext(httptest.NewRequest(http.MethodGet, "/x", nil))

	executed, err := chain.Access(ctx)
	require.NoError(t, err)
	require.Len(t, executed, 3)

	resp := &Response{StatusCode: 200, Header: http.Header{}}
	require.NoError(t, chain.Response(ctx, resp, executed))
	chain.Log(ctx, resp, executed)

	assert.Equal(t, []string{
		"access:a", "access:b", "access:c",
		"response:c", "response:b", "response:a",
		"log:a", "log:b", "log:c",
	}, trace)
}

func TestChainShortCircuitStopsAccess(t *testing.T) {
	var trace []string
	chain := recordingChain(&trace, "b", "a", "b", "c")
	ctx := newTestContext(httptest.NewRequest(http.MethodGet, "/x", nil))

	executed, err := chain.Access(ctx)
	require.NoError(t, err)
	require.NotNil(t, ctx.ShortCircuit)
	assert.Equal(t, http.StatusForbidden, ctx.ShortCircuit.Status)
	require.Len(t, executed, 2, "c never ran")

	// The response phase still runs, in reverse, over the plugins that
	// completed access.
	resp := &Response{StatusCode: ctx.ShortCircuit.Status, Header: http.Header{}}
	require.NoError(t, chain.Response(ctx, resp, executed))

	assert.Equal(t, []string{
		"access:a", "access:b",
		"response:b", "response:a",
	}, trace)
}

func TestMergeOverridesByName(t *testing.T) {
	global := []config.PluginConfig{
		{Name: "cors", Options: map[string]any{"origins": []any{"*"}}},
		{Name: "rate-limiting", Options: map[string]any{"minute": 100}},
	}
	route := []config.PluginConfig{
		{Name: "rate-limiting", Options: map[string]any{"minute": 5}},
		{Name: "ip-restriction", Options: map[string]any{"deny": []any{"10.0.0.0/8"}}},
	}

	merged := Merge(global, route)
	require.Len(t, merged, 3)

	// The route entry replaces the global one at the global position.
	assert.Equal(t, "cors", merged[0].Name)
	assert.Equal(t, "rate-limiting", merged[1].Name)
	assert.Equal(t, 5, merged[1].Options["minute"])
	assert.Equal(t, "ip-restriction", merged[2].Name)
}

func TestMergeDoesNotMutateGlobal(t *testing.T) {
	global := []config.PluginConfig{
		{Name: "rate-limiting", Options: map[string]any{"minute": 100}},
	}
	route := []config.PluginConfig{
		{Name: "rate-limiting", Options: map[string]any{"minute": 5}},
	}

	Merge(global, route)
	assert.Equal(t, 100, global[0].Options["minute"])
}

func TestNewChainUnknownPlugin(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, err := NewChain(reg, nil, []config.PluginConfig{{Name: "nope"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRegistryBuildsAllBuiltins(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	for _, name := range []string{
		"jwt-auth", "key-auth", "rate-limiting", "cors",
		"request-transformer", "response-transformer",
		"ip-restriction", "request-size-limiting", "logging",
	} {
		assert.True(t, reg.Known(name), name)
	}
}
