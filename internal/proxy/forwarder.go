package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/metrics"
	"github.com/kestrelgw/kestrel/internal/plugin"
	"github.com/kestrelgw/kestrel/internal/upstream"
)

var (
	// ErrUpstreamTimeout marks an attempt that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable marks a network-level failure talking to a target.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// hopByHopHeaders are stripped before forwarding; they are owned by the
// transport hop, not the end-to-end exchange.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Keep-Alive",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder performs the actual HTTP call to a selected target, with retry
// and circuit reporting per the upstream's plan.
type Forwarder struct {
	manager        *upstream.Manager
	client         *http.Client
	attemptTimeout time.Duration
	logger         *zap.Logger
}

func NewForwarder(manager *upstream.Manager, attemptTimeout time.Duration, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		manager: manager,
		client: &http.Client{
			// Redirects are passed through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		attemptTimeout: attemptTimeout,
		logger:         logger.Named("proxy"),
	}
}

// Forward sends the request to the named upstream, retrying per its plan.
// Every attempt acquires a fresh target and releases its active-connection
// slot before the next attempt starts.
func (f *Forwarder) Forward(ctx context.Context, pctx *plugin.Context, upstreamName, forwardPath string) (*plugin.Response, error) {
	plan, err := f.manager.Plan(upstreamName)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if plan.Enabled {
		attempts = plan.MaxRetries + 1
	}

	pctx.UpstreamSentAt = time.Now()
	defer func() { pctx.UpstreamReceivedAt = time.Now() }()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
		}

		target, err := f.manager.Select(upstreamName, pctx.ClientIP)
		if err != nil {
			// Selection failure: no other target exists to try.
			return nil, err
		}

		resp, err := f.attempt(ctx, pctx, target, forwardPath)
		if err != nil {
			f.manager.Report(upstreamName, target, false)
			f.manager.Release(upstreamName, target)
			lastErr = err
			if attempt < attempts-1 {
				metrics.RecordRetry(upstreamName)
			}
			f.logger.Warn("attempt failed",
				zap.String("upstream", upstreamName),
				zap.String("target", target.Addr()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if plan.Retryable(resp.StatusCode) {
			f.manager.Report(upstreamName, target, false)
			f.manager.Release(upstreamName, target)
			if attempt < attempts-1 {
				metrics.RecordRetry(upstreamName)
				f.logger.Debug("retrying on status",
					zap.String("upstream", upstreamName),
					zap.String("target", target.Addr()),
					zap.Int("status", resp.StatusCode))
				continue
			}
			// Retries exhausted (or disabled): the upstream's answer stands.
			return resp, nil
		}

		f.manager.Report(upstreamName, target, true)
		f.manager.Release(upstreamName, target)
		return resp, nil
	}

	return nil, lastErr
}

// attempt performs one forwarded request against one target, buffering the
// response so the plugin response phase can mutate it.
func (f *Forwarder) attempt(ctx context.Context, pctx *plugin.Context, target *upstream.Target, forwardPath string) (*plugin.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	req, err := f.buildRequest(attemptCtx, pctx, target, forwardPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	header := make(http.Header, len(resp.Header))
	for k, values := range resp.Header {
		header[k] = values
	}
	removeHopByHop(header)

	return &plugin.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

// buildRequest assembles the outbound request: scheme http, the target's
// host:port, the router's forward path, end-to-end headers only, and the
// X-Forwarded-* set.
func (f *Forwarder) buildRequest(ctx context.Context, pctx *plugin.Context, target *upstream.Target, forwardPath string) (*http.Request, error) {
	in := pctx.Request

	outURL := *in.URL
	outURL.Scheme = "http"
	outURL.Host = target.Addr()
	outURL.Path = forwardPath

	req, err := http.NewRequestWithContext(ctx, in.Method, outURL.String(), bytes.NewReader(pctx.Body))
	if err != nil {
		return nil, err
	}

	for k, values := range in.Header {
		req.Header[k] = values
	}
	removeHopByHop(req.Header)
	req.Header.Del("Host")
	req.ContentLength = int64(len(pctx.Body))

	if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+pctx.ClientIP)
	} else {
		req.Header.Set("X-Forwarded-For", pctx.ClientIP)
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	req.Header.Set("X-Forwarded-Host", in.Host)

	return req, nil
}

func removeHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
