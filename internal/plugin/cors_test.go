package plugin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCORSPlugin(t *testing.T, opts Options) Plugin {
	t.Helper()
	p, err := newCORS(opts, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	p := newCORSPlugin(t, Options{"origins": []any{"https://app.example.com"}})

	r := httptest.NewRequest(http.MethodOptions, "/x", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	ctx := newTestContext(r)

	require.NoError(t, p.Access(ctx))
	require.NotNil(t, ctx.ShortCircuit)
	assert.Equal(t, http.StatusNoContent, ctx.ShortCircuit.Status)
	assert.Equal(t, "https://app.example.com", ctx.ShortCircuit.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, ctx.ShortCircuit.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.NotEmpty(t, ctx.ShortCircuit.Header.Get("Access-Control-Max-Age"))
}

func TestCORSPreflightUnlistedOriginOmitsACAO(t *testing.T) {
	p := newCORSPlugin(t, Options{"origins": []any{"https://app.example.com"}})

	r := httptest.NewRequest(http.MethodOptions, "/x", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	ctx := newTestContext(r)

	require.NoError(t, p.Access(ctx))
	require.NotNil(t, ctx.ShortCircuit)
	assert.Empty(t, ctx.ShortCircuit.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSNonPreflightPassesThrough(t *testing.T) {
	p := newCORSPlugin(t, Options{})

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Origin", "https://app.example.com")
	ctx := newTestContext(r)

	require.NoError(t, p.Access(ctx))
	assert.Nil(t, ctx.ShortCircuit)

	// OPTIONS without Origin is not a preflight either.
	ctx = newTestContext(httptest.NewRequest(http.MethodOptions, "/x", nil))
	require.NoError(t, p.Access(ctx))
	assert.Nil(t, ctx.ShortCircuit)
}

func TestCORSResponseHeaders(t *testing.T) {
	p := newCORSPlugin(t, Options{
		"origins":         []any{"*"},
		"credentials":     true,
		"exposed_headers": []any{"X-Request-ID"},
	})

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Origin", "https://anywhere.example.com")
	ctx := newTestContext(r)

	resp := &Response{StatusCode: 200, Header: http.Header{}}
	require.NoError(t, p.Response(ctx, resp))
	assert.Equal(t, "https://anywhere.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "X-Request-ID", resp.Header.Get("Access-Control-Expose-Headers"))
}

func TestCORSResponseSkipsDisallowedOrigin(t *testing.T) {
	p := newCORSPlugin(t, Options{"origins": []any{"https://app.example.com"}})

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	ctx := newTestContext(r)

	resp := &Response{StatusCode: 200, Header: http.Header{}}
	require.NoError(t, p.Response(ctx, resp))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
