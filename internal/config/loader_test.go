package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
gateway:
  port: 8000
upstreams:
  - name: backend
    targets:
      - host: 127.0.0.1
        port: 3001
services:
  - name: api
    upstream: backend
    routes:
      - name: api-route
        paths:
          - /api/*
`

func TestParseValidDocument(t *testing.T) {
	cfg, err := Parse([]byte(validDoc), false)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Gateway.Port)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "round-robin", cfg.Upstreams[0].Algorithm, "default algorithm")
	assert.Equal(t, 1, cfg.Upstreams[0].Targets[0].Weight, "default weight")
	assert.Equal(t, "info", cfg.Gateway.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Gateway.Metrics.Path)
	assert.Equal(t, 30, cfg.Gateway.ReadTimeout)
}

func TestHealthCheckDefaults(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets:
      - host: 127.0.0.1
        port: 3001
    health_check:
      enabled: true
    circuit_breaker:
      enabled: true
    retry:
      enabled: true
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
`
	cfg, err := Parse([]byte(doc), false)
	require.NoError(t, err)

	hc := cfg.Upstreams[0].HealthCheck
	assert.Equal(t, "/", hc.Path)
	assert.Equal(t, 10, hc.Interval)
	assert.Equal(t, 2, hc.HealthyThreshold)
	assert.Equal(t, 3, hc.UnhealthyThreshold)

	cb := cfg.Upstreams[0].CircuitBreaker
	assert.Equal(t, 5, cb.FailureThreshold)
	assert.Equal(t, 2, cb.SuccessThreshold)
	assert.Equal(t, 30, cb.Timeout)

	retry := cfg.Upstreams[0].Retry
	assert.Equal(t, 2, retry.MaxRetries)
	assert.Equal(t, []int{502, 503, 504}, retry.RetryOnStatus)
}

func TestUnknownUpstreamReference(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: missing
    routes:
      - name: r
        paths: [/api/*]
`
	_, err := Parse([]byte(doc), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown upstream")
}

func TestDuplicateUpstreamNames(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
  - name: backend
    targets: [{host: 127.0.0.1, port: 3002}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
`
	_, err := Parse([]byte(doc), false)
	assert.Error(t, err)
}

func TestInvalidAlgorithm(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    algorithm: fastest
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
`
	_, err := Parse([]byte(doc), false)
	assert.Error(t, err)
}

func TestInvalidTargetPort(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 70000}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
`
	_, err := Parse([]byte(doc), false)
	assert.Error(t, err)
}

func TestInteriorWildcardRejected(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*/users]
`
	_, err := Parse([]byte(doc), false)
	assert.Error(t, err)
}

func TestUnknownRateLimitPolicyRejected(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
plugins:
  - name: rate-limiting
    config:
      policy: redis
      minute: 10
`
	_, err := Parse([]byte(doc), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestLocalRateLimitPolicyAccepted(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: backend
    routes:
      - name: r
        paths: [/api/*]
plugins:
  - name: rate-limiting
    config:
      policy: local
      minute: 10
`
	_, err := Parse([]byte(doc), false)
	assert.NoError(t, err)
}

func TestServiceWithoutRoutes(t *testing.T) {
	doc := `
upstreams:
  - name: backend
    targets: [{host: 127.0.0.1, port: 3001}]
services:
  - name: api
    upstream: backend
`
	_, err := Parse([]byte(doc), false)
	assert.Error(t, err)
}
