package plugin

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type apiKey struct {
	username string
	customID string
}

// keyAuth authenticates requests by API key from headers or query params.
type keyAuth struct {
	Base
	keyNames        []string
	keyInQuery      bool
	hideCredentials bool
	keys            map[string]apiKey
	logger          *zap.Logger
}

func newKeyAuth(opts Options, logger *zap.Logger) (Plugin, error) {
	keyNames := opts.StringSlice("key_names")
	if len(keyNames) == 0 {
		keyNames = []string{"apikey", "X-API-Key"}
	}

	keys := make(map[string]apiKey)
	if raw, ok := opts["keys"]; ok {
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("keys must be a list")
		}
		for i, entry := range entries {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("keys[%d] must be a mapping", i)
			}
			e := Options(m)
			key := e.String("key", "")
			if key == "" {
				return nil, fmt.Errorf("keys[%d]: key is required", i)
			}
			keys[key] = apiKey{
				username: e.String("username", ""),
				customID: e.String("custom_id", ""),
			}
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one key is required")
	}

	return &keyAuth{
		Base:            Base{PluginName: "key-auth"},
		keyNames:        keyNames,
		keyInQuery:      opts.Bool("key_in_query", false),
		hideCredentials: opts.Bool("hide_credentials", false),
		keys:            keys,
		logger:          logger,
	}, nil
}

func (p *keyAuth) Access(ctx *Context) error {
	key, fromHeader, name := p.extractKey(ctx.Request)
	if key == "" {
		ctx.Reject(http.StatusUnauthorized, "no API key provided")
		return nil
	}

	entry, ok := p.keys[key]
	if !ok {
		ctx.Reject(http.StatusUnauthorized, "invalid API key")
		return nil
	}

	ctx.Consumer = &Consumer{
		Username: entry.username,
		CustomID: entry.customID,
	}
	ctx.Credential = key

	if p.hideCredentials {
		if fromHeader {
			ctx.Request.Header.Del(name)
		} else {
			q := ctx.Request.URL.Query()
			q.Del(name)
			ctx.Request.URL.RawQuery = q.Encode()
		}
	}
	return nil
}

// extractKey searches the configured header names first, then query params
// when enabled. It reports where the key was found so hide_credentials can
// strip it before forwarding.
func (p *keyAuth) extractKey(r *http.Request) (key string, fromHeader bool, name string) {
	for _, n := range p.keyNames {
		if v := r.Header.Get(n); v != "" {
			return v, true, n
		}
	}
	if p.keyInQuery {
		q := r.URL.Query()
		for _, n := range p.keyNames {
			if v := q.Get(n); v != "" {
				return v, false, n
			}
		}
	}
	return "", false, ""
}
