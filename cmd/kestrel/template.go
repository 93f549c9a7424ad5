package main

// sampleConfig is the document written by `kestrel init`.
const sampleConfig = `gateway:
  port: 8000
  hot_reload: true
  logging:
    level: info
    format: console
    output: stdout
  metrics:
    enabled: true
    path: /metrics

upstreams:
  - name: users-backend
    algorithm: round-robin
    targets:
      - host: 127.0.0.1
        port: 3001
      - host: 127.0.0.1
        port: 3002
    health_check:
      enabled: true
      path: /health
      interval: 10
      timeout: 5
      healthy_threshold: 2
      unhealthy_threshold: 3
    circuit_breaker:
      enabled: true
      failure_threshold: 5
      success_threshold: 2
      timeout: 30
    retry:
      enabled: true
      max_retries: 2
      retry_on_status: [502, 503, 504]

services:
  - name: users
    upstream: users-backend
    routes:
      - name: users-api
        paths:
          - /api/users/*
        methods: [GET, POST, PUT, DELETE]
        strip_path: false
        plugins:
          - name: rate-limiting
            config:
              limit_by: ip
              minute: 60

plugins:
  - name: logging
    config:
      log_request_headers: false
`
