package plugin

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// corsPlugin answers preflight requests in the access phase and decorates
// responses with the CORS headers.
type corsPlugin struct {
	Base
	origins        []string
	methods        []string
	headers        []string
	exposedHeaders []string
	credentials    bool
	maxAge         int
}

func newCORS(opts Options, _ *zap.Logger) (Plugin, error) {
	origins := opts.StringSlice("origins")
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := opts.StringSlice("methods")
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}

	return &corsPlugin{
		Base:           Base{PluginName: "cors"},
		origins:        origins,
		methods:        methods,
		headers:        opts.StringSlice("headers"),
		exposedHeaders: opts.StringSlice("exposed_headers"),
		credentials:    opts.Bool("credentials", false),
		maxAge:         opts.Int("max_age", 86400),
	}, nil
}

func (p *corsPlugin) Access(ctx *Context) error {
	origin := ctx.Request.Header.Get("Origin")
	if ctx.Request.Method != http.MethodOptions || origin == "" {
		return nil
	}

	header := http.Header{}
	if p.originAllowed(origin) {
		header.Set("Access-Control-Allow-Origin", origin)
		if p.credentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}
	}
	header.Set("Access-Control-Allow-Methods", strings.Join(p.methods, ", "))
	if len(p.headers) > 0 {
		header.Set("Access-Control-Allow-Headers", strings.Join(p.headers, ", "))
	} else if requested := ctx.Request.Header.Get("Access-Control-Request-Headers"); requested != "" {
		header.Set("Access-Control-Allow-Headers", requested)
	}
	header.Set("Access-Control-Max-Age", strconv.Itoa(p.maxAge))

	ctx.ShortCircuit = &ShortCircuit{
		Status: http.StatusNoContent,
		Header: header,
	}
	return nil
}

func (p *corsPlugin) Response(ctx *Context, resp *Response) error {
	origin := ctx.Request.Header.Get("Origin")
	if origin == "" || !p.originAllowed(origin) {
		return nil
	}

	resp.Header.Set("Access-Control-Allow-Origin", origin)
	if p.credentials {
		resp.Header.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(p.exposedHeaders) > 0 {
		resp.Header.Set("Access-Control-Expose-Headers", strings.Join(p.exposedHeaders, ", "))
	}
	return nil
}

func (p *corsPlugin) originAllowed(origin string) bool {
	for _, o := range p.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
