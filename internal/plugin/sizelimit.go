package plugin

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// sizeLimiting rejects requests whose payload exceeds the configured size.
// allowed_payload_size is in megabytes.
type sizeLimiting struct {
	Base
	maxBytes int64
	logger   *zap.Logger
}

func newSizeLimiting(opts Options, logger *zap.Logger) (Plugin, error) {
	sizeMB := opts.Int("allowed_payload_size", 128)
	if sizeMB <= 0 {
		return nil, fmt.Errorf("allowed_payload_size must be positive")
	}
	return &sizeLimiting{
		Base:     Base{PluginName: "request-size-limiting"},
		maxBytes: int64(sizeMB) * 1024 * 1024,
		logger:   logger,
	}, nil
}

func (p *sizeLimiting) Access(ctx *Context) error {
	// The declared length wins; the buffered body decides when the client
	// sent no length.
	size := ctx.Request.ContentLength
	if size <= 0 {
		size = int64(len(ctx.Body))
	}

	if size > p.maxBytes {
		ctx.Reject(http.StatusRequestEntityTooLarge, "payload too large")
	}
	return nil
}
