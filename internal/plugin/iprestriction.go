package plugin

import (
	"fmt"
	"net"

	"go.uber.org/zap"
)

type ipMatcher struct {
	ip  net.IP
	net *net.IPNet
}

func parseIPMatcher(entry string) (ipMatcher, error) {
	if _, ipnet, err := net.ParseCIDR(entry); err == nil {
		return ipMatcher{net: ipnet}, nil
	}
	if ip := net.ParseIP(entry); ip != nil {
		return ipMatcher{ip: ip}, nil
	}
	return ipMatcher{}, fmt.Errorf("invalid IP or CIDR %q", entry)
}

func (m ipMatcher) matches(ip net.IP) bool {
	if m.net != nil {
		return m.net.Contains(ip)
	}
	return m.ip.Equal(ip)
}

// ipRestriction filters by client address. The deny list wins when both
// lists match; a non-empty allow list rejects anything it does not cover.
type ipRestriction struct {
	Base
	allow   []ipMatcher
	deny    []ipMatcher
	status  int
	message string
	logger  *zap.Logger
}

func newIPRestriction(opts Options, logger *zap.Logger) (Plugin, error) {
	allow, err := parseIPMatchers(opts.StringSlice("allow"))
	if err != nil {
		return nil, fmt.Errorf("allow: %w", err)
	}
	deny, err := parseIPMatchers(opts.StringSlice("deny"))
	if err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}
	if len(allow) == 0 && len(deny) == 0 {
		return nil, fmt.Errorf("at least one of allow or deny is required")
	}

	return &ipRestriction{
		Base:    Base{PluginName: "ip-restriction"},
		allow:   allow,
		deny:    deny,
		status:  opts.Int("status", 403),
		message: opts.String("message", "IP address not allowed"),
		logger:  logger,
	}, nil
}

func parseIPMatchers(entries []string) ([]ipMatcher, error) {
	matchers := make([]ipMatcher, 0, len(entries))
	for _, entry := range entries {
		m, err := parseIPMatcher(entry)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func (p *ipRestriction) Access(ctx *Context) error {
	addr := ctx.RestrictedIP()
	ip := net.ParseIP(addr)
	if ip == nil {
		p.logger.Warn("unparseable client address", zap.String("addr", addr))
		ctx.Reject(p.status, p.message)
		return nil
	}

	for _, m := range p.deny {
		if m.matches(ip) {
			ctx.Reject(p.status, p.message)
			return nil
		}
	}
	if len(p.allow) > 0 {
		for _, m := range p.allow {
			if m.matches(ip) {
				return nil
			}
		}
		ctx.Reject(p.status, p.message)
	}
	return nil
}
