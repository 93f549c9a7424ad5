package plugin

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/cache"
)

type window struct {
	name     string
	duration time.Duration
	limit    int64
}

// rateLimiting enforces fixed-window counters per key. Counters are
// in-process only; the only supported policy is "local".
type rateLimiting struct {
	Base
	limitBy           string
	headerName        string
	windows           []window
	hideClientHeaders bool
	store             *cache.Store
	logger            *zap.Logger
}

const rateLimitHeadersKey = "rate-limiting.headers"

func newRateLimiting(opts Options, logger *zap.Logger) (Plugin, error) {
	if policy := opts.String("policy", "local"); policy != "local" {
		return nil, fmt.Errorf("unsupported policy %q (only \"local\")", policy)
	}

	limitBy := opts.String("limit_by", "ip")
	switch limitBy {
	case "ip", "consumer", "credential", "header":
	default:
		return nil, fmt.Errorf("invalid limit_by %q", limitBy)
	}

	headerName := opts.String("header_name", "")
	if limitBy == "header" && headerName == "" {
		return nil, fmt.Errorf("header_name is required when limit_by is header")
	}

	var windows []window
	for _, w := range []struct {
		name string
		dur  time.Duration
	}{
		{"second", time.Second},
		{"minute", time.Minute},
		{"hour", time.Hour},
		{"day", 24 * time.Hour},
	} {
		if limit := opts.Int(w.name, 0); limit > 0 {
			windows = append(windows, window{name: w.name, duration: w.dur, limit: int64(limit)})
		}
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one window (second, minute, hour, day) is required")
	}

	return &rateLimiting{
		Base:              Base{PluginName: "rate-limiting"},
		limitBy:           limitBy,
		headerName:        headerName,
		windows:           windows,
		hideClientHeaders: opts.Bool("hide_client_headers", false),
		store:             cache.New(),
		logger:            logger,
	}, nil
}

func (p *rateLimiting) Access(ctx *Context) error {
	key := p.key(ctx)
	now := time.Now()

	headers := make(map[string]string, len(p.windows)*2)
	exceeded := false
	var soonestReset time.Time

	for _, w := range p.windows {
		windowStart := now.Truncate(w.duration)
		reset := windowStart.Add(w.duration)
		counterKey := fmt.Sprintf("%s|%s|%d", key, w.name, windowStart.Unix())

		count := p.store.IncrementUntil(counterKey, reset)

		remaining := w.limit - count
		if remaining < 0 {
			remaining = 0
		}
		headers["X-RateLimit-Limit-"+w.name] = fmt.Sprintf("%d", w.limit)
		headers["X-RateLimit-Remaining-"+w.name] = fmt.Sprintf("%d", remaining)

		if count > w.limit {
			exceeded = true
			if soonestReset.IsZero() || reset.Before(soonestReset) {
				soonestReset = reset
			}
		}
	}

	if !p.hideClientHeaders {
		ctx.Values[rateLimitHeadersKey] = headers
	}

	if exceeded {
		p.logger.Debug("rate limit exceeded", zap.String("key", key))
		ctx.Reject(http.StatusTooManyRequests, "rate limit exceeded")
		retryAfter := int(math.Ceil(soonestReset.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		ctx.ShortCircuit.Header.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	return nil
}

// Response attaches the limit headers to both proxied and short-circuited
// responses; the mirror phase runs over this plugin in either case.
func (p *rateLimiting) Response(ctx *Context, resp *Response) error {
	if headers, ok := ctx.Values[rateLimitHeadersKey].(map[string]string); ok {
		for k, v := range headers {
			resp.Header.Set(k, v)
		}
	}
	return nil
}

func (p *rateLimiting) key(ctx *Context) string {
	switch p.limitBy {
	case "consumer":
		if c := ctx.Consumer; c != nil {
			if c.Username != "" {
				return "consumer:" + c.Username
			}
			if c.CustomID != "" {
				return "consumer:" + c.CustomID
			}
			if c.UserID != "" {
				return "consumer:" + c.UserID
			}
		}
	case "credential":
		if ctx.Credential != "" {
			return "credential:" + ctx.Credential
		}
	case "header":
		if v := ctx.Request.Header.Get(p.headerName); v != "" {
			return "header:" + p.headerName + ":" + v
		}
	}
	return "ip:" + ctx.ClientIP
}
