package router

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelgw/kestrel/internal/config"
)

func boolPtr(v bool) *bool { return &v }

func testServices() []config.Service {
	return []config.Service{
		{
			Name:     "users",
			Upstream: "users-backend",
			Routes: []config.Route{
				{
					Name:    "users-exact",
					Paths:   []string{"/api/users"},
					Methods: []string{"GET", "POST"},
				},
				{
					Name:      "users-wild",
					Paths:     []string{"/api/users/*"},
					Methods:   []string{"GET"},
					StripPath: true,
				},
			},
		},
		{
			Name:     "catchall",
			Upstream: "misc-backend",
			Routes: []config.Route{
				{
					Name:  "any",
					Paths: []string{"/api/*"},
				},
			},
		},
	}
}

func TestExactMatch(t *testing.T) {
	r := New(testServices())

	match, err := r.Match(http.MethodGet, "/api/users")
	require.NoError(t, err)
	assert.Equal(t, "users", match.Service.Name)
	// "/api/users/*" is longer than "/api/users" and also matches the bare
	// prefix, so the wildcard route wins the priority rule.
	assert.Equal(t, "users-wild", match.Route.Name)
}

func TestWildcardMatch(t *testing.T) {
	r := New(testServices())

	match, err := r.Match(http.MethodGet, "/api/users/42/orders")
	require.NoError(t, err)
	assert.Equal(t, "users-wild", match.Route.Name)
}

func TestWildcardDoesNotMatchSiblingPrefix(t *testing.T) {
	r := New(testServices())

	// "/api/userscan" must not match "/api/users/*".
	match, err := r.Match(http.MethodGet, "/api/userscan")
	require.NoError(t, err)
	assert.Equal(t, "any", match.Route.Name)
}

func TestLongestPatternWins(t *testing.T) {
	r := New(testServices())

	match, err := r.Match(http.MethodGet, "/api/users/1")
	require.NoError(t, err)
	assert.Equal(t, "users-wild", match.Route.Name, "more specific than /api/*")
}

func TestMethodFiltering(t *testing.T) {
	r := New(testServices())

	// DELETE is not allowed on the users routes but the catchall takes it.
	match, err := r.Match(http.MethodDelete, "/api/users/1")
	require.NoError(t, err)
	assert.Equal(t, "any", match.Route.Name)
}

func TestRouteNotFound(t *testing.T) {
	r := New(testServices())

	_, err := r.Match(http.MethodDelete, "/other/orders")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestDeclarationOrderBreaksTies(t *testing.T) {
	services := []config.Service{
		{
			Name:     "first",
			Upstream: "u1",
			Routes:   []config.Route{{Name: "a", Paths: []string{"/same/path"}}},
		},
		{
			Name:     "second",
			Upstream: "u2",
			Routes:   []config.Route{{Name: "b", Paths: []string{"/same/path"}}},
		},
	}
	r := New(services)

	match, err := r.Match(http.MethodGet, "/same/path")
	require.NoError(t, err)
	assert.Equal(t, "a", match.Route.Name)
}

func TestDisabledServiceSkipped(t *testing.T) {
	services := testServices()
	services[0].Enabled = boolPtr(false)
	r := New(services)

	match, err := r.Match(http.MethodGet, "/api/users")
	require.NoError(t, err)
	assert.Equal(t, "catchall", match.Service.Name)
}

func TestStripPath(t *testing.T) {
	r := New(testServices())

	match, err := r.Match(http.MethodGet, "/api/users/42/orders")
	require.NoError(t, err)
	assert.Equal(t, "/42/orders", match.ForwardPath)

	// The bare prefix strips down to the root.
	match, err = r.Match(http.MethodGet, "/api/users")
	require.NoError(t, err)
	assert.Equal(t, "/", match.ForwardPath)
}

func TestNoStripKeepsFullPath(t *testing.T) {
	r := New(testServices())

	match, err := r.Match(http.MethodPost, "/api/users")
	require.NoError(t, err)
	assert.Equal(t, "users-exact", match.Route.Name)
	assert.Equal(t, "/api/users", match.ForwardPath)
}

func TestServicePathPrefix(t *testing.T) {
	services := []config.Service{
		{
			Name:     "versioned",
			Upstream: "u1",
			Path:     "/v2",
			Routes: []config.Route{
				{Name: "r", Paths: []string{"/api/*"}, StripPath: true},
			},
		},
	}
	r := New(services)

	match, err := r.Match(http.MethodGet, "/api/items")
	require.NoError(t, err)
	assert.Equal(t, "/v2/items", match.ForwardPath)
}
