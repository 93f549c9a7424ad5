package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a configuration document. Environment
// variables referenced as ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))), strings.HasSuffix(path, ".json"))
}

// Parse decodes a raw document, applies defaults, and validates it.
func Parse(data []byte, isJSON bool) (*Config, error) {
	var cfg Config
	var err error
	if isJSON {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8000
	}
	if cfg.Gateway.ReadTimeout == 0 {
		cfg.Gateway.ReadTimeout = 30
	}
	if cfg.Gateway.WriteTimeout == 0 {
		cfg.Gateway.WriteTimeout = 30
	}
	if cfg.Gateway.IdleTimeout == 0 {
		cfg.Gateway.IdleTimeout = 120
	}
	if cfg.Gateway.UpstreamTimeout == 0 {
		cfg.Gateway.UpstreamTimeout = 15
	}

	if cfg.Gateway.Logging.Level == "" {
		cfg.Gateway.Logging.Level = "info"
	}
	if cfg.Gateway.Logging.Format == "" {
		cfg.Gateway.Logging.Format = "console"
	}
	if cfg.Gateway.Logging.Output == "" {
		cfg.Gateway.Logging.Output = "stdout"
	}

	if cfg.Gateway.Metrics.Path == "" {
		cfg.Gateway.Metrics.Path = "/metrics"
	}

	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]

		if u.Algorithm == "" {
			u.Algorithm = "round-robin"
		}

		for j := range u.Targets {
			if u.Targets[j].Weight == 0 {
				u.Targets[j].Weight = 1
			}
		}

		if hc := u.HealthCheck; hc != nil && hc.Enabled {
			if hc.Path == "" {
				hc.Path = "/"
			}
			if hc.Interval == 0 {
				hc.Interval = 10
			}
			if hc.Timeout == 0 {
				hc.Timeout = 5
			}
			if hc.HealthyThreshold == 0 {
				hc.HealthyThreshold = 2
			}
			if hc.UnhealthyThreshold == 0 {
				hc.UnhealthyThreshold = 3
			}
		}

		if cb := u.CircuitBreaker; cb != nil && cb.Enabled {
			if cb.FailureThreshold == 0 {
				cb.FailureThreshold = 5
			}
			if cb.SuccessThreshold == 0 {
				cb.SuccessThreshold = 2
			}
			if cb.Timeout == 0 {
				cb.Timeout = 30
			}
		}

		if r := u.Retry; r != nil && r.Enabled {
			if r.MaxRetries == 0 {
				r.MaxRetries = 2
			}
			if len(r.RetryOnStatus) == 0 {
				r.RetryOnStatus = []int{502, 503, 504}
			}
		}
	}
}

var validAlgorithms = map[string]bool{
	"round-robin":       true,
	"least-connections": true,
	"ip-hash":           true,
	"weighted":          true,
	"random":            true,
}

func validate(cfg *Config) error {
	upstreamNames := make(map[string]bool, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream #%d: name is required", i)
		}
		if upstreamNames[u.Name] {
			return fmt.Errorf("upstream %s: duplicate name", u.Name)
		}
		upstreamNames[u.Name] = true

		if !validAlgorithms[u.Algorithm] {
			return fmt.Errorf("upstream %s: invalid algorithm %q", u.Name, u.Algorithm)
		}

		for j, t := range u.Targets {
			if t.Host == "" {
				return fmt.Errorf("upstream %s: target #%d host is required", u.Name, j)
			}
			if t.Port < 1 || t.Port > 65535 {
				return fmt.Errorf("upstream %s: target %s has invalid port %d", u.Name, t.Host, t.Port)
			}
			if t.Weight < 0 {
				return fmt.Errorf("upstream %s: target %s has invalid weight %d", u.Name, t.Host, t.Weight)
			}
		}
	}

	serviceNames := make(map[string]bool, len(cfg.Services))
	for i, svc := range cfg.Services {
		if svc.Name == "" {
			return fmt.Errorf("service #%d: name is required", i)
		}
		if serviceNames[svc.Name] {
			return fmt.Errorf("service %s: duplicate name", svc.Name)
		}
		serviceNames[svc.Name] = true

		if svc.Upstream == "" {
			return fmt.Errorf("service %s: upstream is required", svc.Name)
		}
		if !upstreamNames[svc.Upstream] {
			return fmt.Errorf("service %s: unknown upstream %q", svc.Name, svc.Upstream)
		}
		if svc.Path != "" && !strings.HasPrefix(svc.Path, "/") {
			return fmt.Errorf("service %s: path must start with /", svc.Name)
		}

		if len(svc.Routes) == 0 {
			return fmt.Errorf("service %s: at least one route is required", svc.Name)
		}
		for j, route := range svc.Routes {
			if len(route.Paths) == 0 {
				return fmt.Errorf("service %s: route #%d has no paths", svc.Name, j)
			}
			for _, p := range route.Paths {
				if !strings.HasPrefix(p, "/") {
					return fmt.Errorf("service %s: route path %q must start with /", svc.Name, p)
				}
				if strings.Contains(p, "*") && !strings.HasSuffix(p, "/*") {
					return fmt.Errorf("service %s: route path %q may only use a trailing /* wildcard", svc.Name, p)
				}
			}
			if err := validatePlugins(route.Plugins); err != nil {
				return fmt.Errorf("service %s route #%d: %w", svc.Name, j, err)
			}
		}
		if err := validatePlugins(svc.Plugins); err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
	}

	if err := validatePlugins(cfg.Plugins); err != nil {
		return err
	}

	return nil
}

// validatePlugins performs the checks that do not need the plugin registry.
// Name resolution against the registry happens at gateway construction, still
// before any request is served.
func validatePlugins(plugins []PluginConfig) error {
	for i, p := range plugins {
		if p.Name == "" {
			return fmt.Errorf("plugin #%d: name is required", i)
		}
		if p.Name == "rate-limiting" {
			if policy, ok := p.Options["policy"]; ok {
				if s, _ := policy.(string); s != "local" {
					return fmt.Errorf("plugin rate-limiting: unsupported policy %v (only \"local\")", policy)
				}
			}
		}
	}
	return nil
}
