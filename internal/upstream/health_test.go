package upstream

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

// testBackend runs an httptest server whose health status can be flipped.
type testBackend struct {
	server *httptest.Server
	status atomic.Int32
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}
	b.status.Store(http.StatusOK)
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(b.status.Load()))
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBackend) target(t *testing.T) *Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(b.server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewTarget(host, port, 1)
}

func newTestChecker(targets []*Target, healthyThreshold, unhealthyThreshold int) *HealthChecker {
	return NewHealthChecker("test", config.HealthCheckConfig{
		Enabled:            true,
		Path:               "/",
		Interval:           1,
		Timeout:            2,
		HealthyThreshold:   healthyThreshold,
		UnhealthyThreshold: unhealthyThreshold,
	}, func() []*Target { return targets }, zap.NewNop())
}

func TestProbeStatusRanges(t *testing.T) {
	backend := newTestBackend(t)
	target := backend.target(t)
	hc := newTestChecker([]*Target{target}, 1, 1)

	cases := []struct {
		status int
		up     bool
	}{
		{200, true},
		{204, true},
		{301, true},
		{399, true},
		{400, false},
		{404, false},
		{500, false},
		{503, false},
	}
	for _, tc := range cases {
		backend.status.Store(int32(tc.status))
		assert.Equal(t, tc.up, hc.probe(context.Background(), target), "status %d", tc.status)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	backend := newTestBackend(t)
	target := backend.target(t)
	backend.server.Close()

	hc := newTestChecker([]*Target{target}, 1, 1)
	assert.False(t, hc.probe(context.Background(), target))
}

func TestUnhealthyAfterThreshold(t *testing.T) {
	backend := newTestBackend(t)
	target := backend.target(t)
	hc := newTestChecker([]*Target{target}, 2, 3)

	backend.status.Store(http.StatusInternalServerError)

	hc.probeAll(context.Background())
	hc.probeAll(context.Background())
	assert.True(t, target.Healthy(), "two down probes are below the threshold of three")

	hc.probeAll(context.Background())
	assert.False(t, target.Healthy())
}

func TestRecoveryAfterThreshold(t *testing.T) {
	backend := newTestBackend(t)
	target := backend.target(t)
	target.SetHealthy(false)
	hc := newTestChecker([]*Target{target}, 2, 3)

	hc.probeAll(context.Background())
	assert.False(t, target.Healthy(), "one up probe is below the threshold of two")

	hc.probeAll(context.Background())
	assert.True(t, target.Healthy())
}

func TestFlappingProbeResetsCounters(t *testing.T) {
	backend := newTestBackend(t)
	target := backend.target(t)
	hc := newTestChecker([]*Target{target}, 2, 2)

	// down, up, down never reaches two consecutive failures.
	backend.status.Store(http.StatusInternalServerError)
	hc.probeAll(context.Background())
	backend.status.Store(http.StatusOK)
	hc.probeAll(context.Background())
	backend.status.Store(http.StatusInternalServerError)
	hc.probeAll(context.Background())

	assert.True(t, target.Healthy())
}
