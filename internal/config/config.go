package config

// Config is the root of the gateway configuration document.
type Config struct {
	Gateway   GatewayConfig  `yaml:"gateway" json:"gateway"`
	Upstreams []Upstream     `yaml:"upstreams" json:"upstreams"`
	Services  []Service      `yaml:"services" json:"services"`
	Plugins   []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

type GatewayConfig struct {
	Port      int  `yaml:"port" json:"port"`
	AdminPort int  `yaml:"admin_port,omitempty" json:"admin_port,omitempty"`
	HTTP2     bool `yaml:"http2" json:"http2"`
	HotReload bool `yaml:"hot_reload" json:"hot_reload"`

	// Timeouts in seconds.
	ReadTimeout     int `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int `yaml:"idle_timeout" json:"idle_timeout"`
	UpstreamTimeout int `yaml:"upstream_timeout" json:"upstream_timeout"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Admin   AdminConfig   `yaml:"admin,omitempty" json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json or console
	Output string `yaml:"output" json:"output"` // stdout or file path
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type AdminConfig struct {
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// Upstream is a named pool of backend targets sharing load-balancing and
// resilience policy.
type Upstream struct {
	Name           string                `yaml:"name" json:"name"`
	Algorithm      string                `yaml:"algorithm" json:"algorithm"`
	Targets        []Target              `yaml:"targets" json:"targets"`
	HealthCheck    *HealthCheckConfig    `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitempty"`
	Retry          *RetryConfig          `yaml:"retry,omitempty" json:"retry,omitempty"`
}

type Target struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Weight int    `yaml:"weight,omitempty" json:"weight,omitempty"`
}

type HealthCheckConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Path               string `yaml:"path" json:"path"`
	Interval           int    `yaml:"interval" json:"interval"` // seconds
	Timeout            int    `yaml:"timeout" json:"timeout"`   // seconds
	HealthyThreshold   int    `yaml:"healthy_threshold" json:"healthy_threshold"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold" json:"unhealthy_threshold"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold" json:"success_threshold"`
	Timeout          int  `yaml:"timeout" json:"timeout"` // seconds in Open before a probe
}

type RetryConfig struct {
	Enabled       bool  `yaml:"enabled" json:"enabled"`
	MaxRetries    int   `yaml:"max_retries" json:"max_retries"`
	RetryOnStatus []int `yaml:"retry_on_status,omitempty" json:"retry_on_status,omitempty"`
}

// Service binds routes to one upstream and an optional plugin set.
type Service struct {
	Name     string         `yaml:"name" json:"name"`
	Upstream string         `yaml:"upstream" json:"upstream"`
	Path     string         `yaml:"path,omitempty" json:"path,omitempty"`
	Enabled  *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Routes   []Route        `yaml:"routes" json:"routes"`
	Plugins  []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

func (s *Service) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type Route struct {
	Name      string         `yaml:"name" json:"name"`
	Paths     []string       `yaml:"paths" json:"paths"`
	Methods   []string       `yaml:"methods,omitempty" json:"methods,omitempty"`
	StripPath bool           `yaml:"strip_path" json:"strip_path"`
	Plugins   []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// PluginConfig names a plugin and carries its options verbatim; each plugin
// parses the options it recognizes at construction time.
type PluginConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Options map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}
