package plugin

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// transformRules is the shared remove/rename/replace/add shape of both
// transformer plugins. Rules apply in that order; add never overwrites an
// existing key, replace only overwrites existing ones.
type transformRules struct {
	removeHeaders []string
	removeQuery   []string
	removeBody    []string

	renameHeaders map[string]string

	replaceHeaders map[string]string
	replaceQuery   map[string]string

	addHeaders map[string]string
	addQuery   map[string]string
	addBody    map[string]any
}

func parseTransformRules(opts Options) transformRules {
	rules := transformRules{}
	if remove := opts.Section("remove"); remove != nil {
		rules.removeHeaders = remove.StringSlice("headers")
		rules.removeQuery = remove.StringSlice("querystring")
		rules.removeBody = remove.StringSlice("json")
	}
	if rename := opts.Section("rename"); rename != nil {
		rules.renameHeaders = rename.StringMap("headers")
	}
	if replace := opts.Section("replace"); replace != nil {
		rules.replaceHeaders = replace.StringMap("headers")
		rules.replaceQuery = replace.StringMap("querystring")
	}
	if add := opts.Section("add"); add != nil {
		rules.addHeaders = add.StringMap("headers")
		rules.addQuery = add.StringMap("querystring")
		rules.addBody = add.AnyMap("json")
	}
	return rules
}

// requestTransformer mutates outbound request headers, query params, and
// JSON bodies.
type requestTransformer struct {
	Base
	rules  transformRules
	logger *zap.Logger
}

func newRequestTransformer(opts Options, logger *zap.Logger) (Plugin, error) {
	return &requestTransformer{
		Base:   Base{PluginName: "request-transformer"},
		rules:  parseTransformRules(opts),
		logger: logger,
	}, nil
}

func (p *requestTransformer) Access(ctx *Context) error {
	r := ctx.Request

	for _, h := range p.rules.removeHeaders {
		r.Header.Del(h)
	}
	for from, to := range p.rules.renameHeaders {
		if values, ok := r.Header[http.CanonicalHeaderKey(from)]; ok {
			r.Header.Del(from)
			for _, v := range values {
				r.Header.Add(to, v)
			}
		}
	}
	for k, v := range p.rules.replaceHeaders {
		if r.Header.Get(k) != "" {
			r.Header.Set(k, v)
		}
	}
	for k, v := range p.rules.addHeaders {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}

	if len(p.rules.removeQuery) > 0 || len(p.rules.replaceQuery) > 0 || len(p.rules.addQuery) > 0 {
		q := r.URL.Query()
		applyQueryRules(q, p.rules)
		r.URL.RawQuery = q.Encode()
	}

	if len(p.rules.removeBody) > 0 || len(p.rules.addBody) > 0 {
		if body := transformJSONBody(r.Header.Get("Content-Type"), ctx.Body, p.rules.removeBody, p.rules.addBody); body != nil {
			ctx.Body = body
		}
	}
	return nil
}

func applyQueryRules(q url.Values, rules transformRules) {
	for _, k := range rules.removeQuery {
		q.Del(k)
	}
	for k, v := range rules.replaceQuery {
		if q.Has(k) {
			q.Set(k, v)
		}
	}
	for k, v := range rules.addQuery {
		if !q.Has(k) {
			q.Set(k, v)
		}
	}
}

// transformJSONBody applies remove and non-overwriting add to a JSON object
// body. Non-JSON bodies are left untouched.
func transformJSONBody(contentType string, body []byte, remove []string, add map[string]any) []byte {
	if !isJSONContentType(contentType) || len(body) == 0 {
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	for _, k := range remove {
		delete(doc, k)
	}
	for k, v := range add {
		if _, exists := doc[k]; !exists {
			doc[k] = v
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return out
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "application/json") || strings.Contains(ct, "+json")
}

// responseTransformer mutates response headers and JSON bodies on the way
// back to the client.
type responseTransformer struct {
	Base
	rules  transformRules
	logger *zap.Logger
}

func newResponseTransformer(opts Options, logger *zap.Logger) (Plugin, error) {
	return &responseTransformer{
		Base:   Base{PluginName: "response-transformer"},
		rules:  parseTransformRules(opts),
		logger: logger,
	}, nil
}

func (p *responseTransformer) Response(ctx *Context, resp *Response) error {
	for _, h := range p.rules.removeHeaders {
		resp.Header.Del(h)
	}
	for from, to := range p.rules.renameHeaders {
		if values, ok := resp.Header[http.CanonicalHeaderKey(from)]; ok {
			resp.Header.Del(from)
			for _, v := range values {
				resp.Header.Add(to, v)
			}
		}
	}
	for k, v := range p.rules.replaceHeaders {
		if resp.Header.Get(k) != "" {
			resp.Header.Set(k, v)
		}
	}
	for k, v := range p.rules.addHeaders {
		if resp.Header.Get(k) == "" {
			resp.Header.Set(k, v)
		}
	}

	if len(p.rules.removeBody) > 0 || len(p.rules.addBody) > 0 {
		if body := transformJSONBody(resp.Header.Get("Content-Type"), resp.Body, p.rules.removeBody, p.rules.addBody); body != nil {
			resp.Body = body
		}
	}
	return nil
}
