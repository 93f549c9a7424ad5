package plugin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// accessRecord is the structured access-log document.
type accessRecord struct {
	Timestamp      string              `json:"timestamp"`
	ClientIP       string              `json:"client_ip"`
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	Service        string              `json:"service,omitempty"`
	Route          string              `json:"route,omitempty"`
	Status         int                 `json:"status"`
	LatencyMs      int64               `json:"latency_ms"`
	UpstreamMs     int64               `json:"upstream_latency_ms"`
	RequestSize    int                 `json:"request_size"`
	ResponseSize   int                 `json:"response_size"`
	Consumer       string              `json:"consumer,omitempty"`
	RequestHeader  map[string][]string `json:"request_headers,omitempty"`
	ResponseHeader map[string][]string `json:"response_headers,omitempty"`
}

// loggingPlugin emits one structured record per request in the log phase and
// optionally ships it to an HTTP endpoint. Delivery is fire-and-forget,
// throttled so a slow sink cannot pile up goroutines; it never affects the
// request outcome.
type loggingPlugin struct {
	Base
	logRequestHeaders  bool
	logResponseHeaders bool
	endpoint           string
	client             *http.Client
	limiter            *rate.Limiter
	dropped            atomic.Int64
	logger             *zap.Logger
}

func newLogging(opts Options, logger *zap.Logger) (Plugin, error) {
	timeout := time.Duration(opts.Int("timeout", 10)) * time.Second
	postsPerSecond := opts.Int("max_posts_per_second", 10)

	return &loggingPlugin{
		Base:               Base{PluginName: "logging"},
		logRequestHeaders:  opts.Bool("log_request_headers", false),
		logResponseHeaders: opts.Bool("log_response_headers", false),
		endpoint:           opts.String("http_endpoint", ""),
		client:             &http.Client{Timeout: timeout},
		limiter:            rate.NewLimiter(rate.Limit(postsPerSecond), postsPerSecond*2),
		logger:             logger,
	}, nil
}

func (p *loggingPlugin) Log(ctx *Context, resp *Response) {
	record := accessRecord{
		Timestamp:    ctx.ReceivedAt.Format(time.RFC3339Nano),
		ClientIP:     ctx.ClientIP,
		Method:       ctx.Request.Method,
		Path:         ctx.Request.URL.Path,
		Service:      ctx.ServiceName,
		Route:        ctx.RouteName,
		Status:       resp.StatusCode,
		LatencyMs:    ctx.FinishedAt.Sub(ctx.ReceivedAt).Milliseconds(),
		RequestSize:  len(ctx.Body),
		ResponseSize: len(resp.Body),
	}
	if !ctx.UpstreamSentAt.IsZero() && !ctx.UpstreamReceivedAt.IsZero() {
		record.UpstreamMs = ctx.UpstreamReceivedAt.Sub(ctx.UpstreamSentAt).Milliseconds()
	}
	if c := ctx.Consumer; c != nil {
		switch {
		case c.Username != "":
			record.Consumer = c.Username
		case c.UserID != "":
			record.Consumer = c.UserID
		case c.CustomID != "":
			record.Consumer = c.CustomID
		}
	}
	if p.logRequestHeaders {
		record.RequestHeader = ctx.Request.Header
	}
	if p.logResponseHeaders {
		record.ResponseHeader = resp.Header
	}

	p.logger.Info("access",
		zap.String("client_ip", record.ClientIP),
		zap.String("method", record.Method),
		zap.String("path", record.Path),
		zap.String("service", record.Service),
		zap.Int("status", record.Status),
		zap.Int64("latency_ms", record.LatencyMs),
		zap.Int64("upstream_ms", record.UpstreamMs),
		zap.String("consumer", record.Consumer),
	)

	if p.endpoint == "" {
		return
	}
	if !p.limiter.Allow() {
		p.dropped.Add(1)
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	go p.post(payload)
}

func (p *loggingPlugin) post(payload []byte) {
	resp, err := p.client.Post(p.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		p.logger.Debug("log delivery failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

// Dropped reports how many records were shed by the delivery throttle.
func (p *loggingPlugin) Dropped() int64 {
	return p.dropped.Load()
}
