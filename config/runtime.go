package config

import (
	"fmt"
	"time"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/httpclient"
	"github.com/kbukum/streamkit/observability"
	"github.com/kbukum/streamkit/redis"
	"github.com/kbukum/streamkit/resilience"
)

// RuntimeConfig is the full configuration of a streaming client process.
//
//	name: summarizer
//	retry:
//	  max_retries: 5
//	  initial_delay_ms: 100
//	gate:
//	  max_concurrent: 4
//	  requests_per_minute: 50
//	client:
//	  base_url: https://api.example.com
//	  http2: { enabled: true }
type RuntimeConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Retry         RetryConfig           `yaml:"retry" mapstructure:"retry"`
	Gate          GateSettings          `yaml:"gate" mapstructure:"gate"`
	Client        ClientSettings        `yaml:"client" mapstructure:"client"`
	Redis         redis.Config          `yaml:"redis" mapstructure:"redis" validate:"-"`
	Observability ObservabilitySettings `yaml:"observability" mapstructure:"observability"`
}

// RetryConfig is the file form of resilience.RetryPolicy.
type RetryConfig struct {
	// Disabled turns retry off entirely. Calls then run exactly once.
	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
	// MaxRetries defaults to 3 when unset. Zero means a single attempt.
	MaxRetries        *int    `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,gte=0"`
	InitialDelayMs    int     `yaml:"initial_delay_ms" mapstructure:"initial_delay_ms" validate:"gte=0"`
	MaxDelayMs        int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms" validate:"gte=0"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier" validate:"gte=1"`
	// Jitter defaults to true when unset.
	Jitter               *bool    `yaml:"jitter" mapstructure:"jitter"`
	RetryableStatusCodes []int    `yaml:"retryable_status_codes" mapstructure:"retryable_status_codes" validate:"dive,gte=100,lte=599"`
	RetryableErrorKinds  []string `yaml:"retryable_error_kinds" mapstructure:"retryable_error_kinds" validate:"dive,oneof=NETWORK_ERROR TIMEOUT RATE_LIMITED OVERLOADED SERVER_ERROR INVALID_REQUEST UNAUTHORIZED FORBIDDEN NOT_FOUND DECODE_ERROR QUOTA_EXCEEDED STREAM_TIMEOUT INTERNAL_ERROR"`
}

// GateSettings is the file form of resilience.GateConfig.
type GateSettings struct {
	// Disabled sends calls straight to the retrier.
	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
	Name              string `yaml:"name" mapstructure:"name"`
	MaxConcurrent     int    `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=1"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
}

// ClientSettings is the file form of httpclient.Config, minus the retry and
// gate sections which live at the top level.
type ClientSettings struct {
	BaseURL     string                 `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration          `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	Headers     map[string]string      `yaml:"headers" mapstructure:"headers"`
	UserAgent   string                 `yaml:"user_agent" mapstructure:"user_agent"`
	HTTP2       httpclient.HTTP2Config `yaml:"http2" mapstructure:"http2"`
	MaxLineSize int                    `yaml:"max_line_size" mapstructure:"max_line_size" validate:"gte=0"`
}

// ObservabilitySettings configures OTLP export of traces and metrics.
type ObservabilitySettings struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName     string        `yaml:"service_name" mapstructure:"service_name"`
	Endpoint        string        `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	Insecure        bool          `yaml:"insecure" mapstructure:"insecure"`
	MetricsInterval time.Duration `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"gte=0"`
	SampleRate      float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// GetRuntimeConfig returns c. Structs embedding RuntimeConfig inherit it.
func (c *RuntimeConfig) GetRuntimeConfig() *RuntimeConfig {
	return c
}

// Load reads the configuration for serviceName, applies defaults and
// validates the result.
func Load(serviceName string, opts ...LoaderOption) (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{}
	if err := LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *RuntimeConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Gate.ApplyDefaults(c.Name)
	c.Client.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Observability.ApplyDefaults(c.Name)
}

// Validate checks every section.
func (c *RuntimeConfig) Validate() error {
	if err := Validate(c); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Validation(fmt.Sprintf("config: logging: %v", err))
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.Redis.Enabled && (c.Gate.Disabled || c.Gate.RequestsPerMinute == 0) {
		return errors.Validation("config: redis quota needs an enabled gate with requests_per_minute set")
	}
	return nil
}

// ApplyDefaults copies unset fields from resilience.DefaultRetryPolicy.
func (r *RetryConfig) ApplyDefaults() {
	def := resilience.DefaultRetryPolicy()
	if r.MaxRetries == nil {
		n := def.MaxRetries
		r.MaxRetries = &n
	}
	if r.InitialDelayMs == 0 {
		r.InitialDelayMs = int(def.InitialDelay / time.Millisecond)
	}
	if r.MaxDelayMs == 0 {
		r.MaxDelayMs = int(def.MaxDelay / time.Millisecond)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = def.BackoffMultiplier
	}
	if r.Jitter == nil {
		jitter := def.Jitter
		r.Jitter = &jitter
	}
	if len(r.RetryableStatusCodes) == 0 && len(r.RetryableErrorKinds) == 0 {
		r.RetryableStatusCodes = def.RetryableStatusCodes
		for _, code := range def.RetryableCodes {
			r.RetryableErrorKinds = append(r.RetryableErrorKinds, string(code))
		}
	}
}

// Policy converts the settings into a RetryPolicy. It returns nil when
// retry is disabled.
func (r RetryConfig) Policy() *resilience.RetryPolicy {
	if r.Disabled {
		return nil
	}
	p := resilience.RetryPolicy{
		MaxRetries:           r.maxRetries(),
		InitialDelay:         time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:             time.Duration(r.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier:    r.BackoffMultiplier,
		Jitter:               r.Jitter == nil || *r.Jitter,
		RetryableStatusCodes: append([]int(nil), r.RetryableStatusCodes...),
	}
	for _, kind := range r.RetryableErrorKinds {
		p.RetryableCodes = append(p.RetryableCodes, errors.ErrorCode(kind))
	}
	return &p
}

func (r RetryConfig) maxRetries() int {
	if r.MaxRetries == nil {
		return resilience.DefaultRetryPolicy().MaxRetries
	}
	return *r.MaxRetries
}

// ApplyDefaults names the gate after the service and takes the default
// concurrency ceiling.
func (g *GateSettings) ApplyDefaults(serviceName string) {
	def := resilience.DefaultGateConfig(serviceName)
	if g.Name == "" {
		g.Name = def.Name
	}
	if g.MaxConcurrent == 0 {
		g.MaxConcurrent = def.MaxConcurrent
	}
}

// Gate converts the settings into a GateConfig. It returns nil when the gate
// is disabled.
func (g GateSettings) Gate() *resilience.GateConfig {
	if g.Disabled {
		return nil
	}
	return &resilience.GateConfig{
		Name:              g.Name,
		MaxConcurrent:     g.MaxConcurrent,
		RequestsPerMinute: g.RequestsPerMinute,
	}
}

// ApplyDefaults delegates to httpclient.Config so both forms agree.
func (s *ClientSettings) ApplyDefaults() {
	cfg := s.HTTPClient(nil, nil)
	cfg.ApplyDefaults()
	s.Timeout = cfg.Timeout
	s.UserAgent = cfg.UserAgent
	s.HTTP2 = cfg.HTTP2
}

// HTTPClient builds an httpclient.Config around the given retry policy and
// gate, either of which may be nil.
func (s ClientSettings) HTTPClient(retry *resilience.RetryPolicy, gate *resilience.GateConfig) httpclient.Config {
	headers := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		headers[k] = v
	}
	return httpclient.Config{
		BaseURL:     s.BaseURL,
		Timeout:     s.Timeout,
		Headers:     headers,
		UserAgent:   s.UserAgent,
		Retry:       retry,
		Gate:        gate,
		HTTP2:       s.HTTP2,
		MaxLineSize: s.MaxLineSize,
	}
}

// HTTPClientConfig assembles the client configuration from the client,
// retry and gate sections.
func (c *RuntimeConfig) HTTPClientConfig() httpclient.Config {
	return c.Client.HTTPClient(c.Retry.Policy(), c.Gate.Gate())
}

// ApplyDefaults falls back to the observability package defaults.
func (o *ObservabilitySettings) ApplyDefaults(serviceName string) {
	if o.ServiceName == "" {
		o.ServiceName = serviceName
	}
	def := observability.DefaultMeterConfig(o.ServiceName)
	if o.Endpoint == "" && o.Enabled {
		o.Endpoint = def.Endpoint
	}
	if o.MetricsInterval == 0 {
		o.MetricsInterval = def.Interval
	}
	if o.SampleRate == 0 {
		o.SampleRate = observability.DefaultTracerConfig(o.ServiceName).SampleRate
	}
}

// Tracer converts the settings into an observability.TracerConfig.
func (c *RuntimeConfig) Tracer() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:    c.Observability.ServiceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		Endpoint:       c.Observability.Endpoint,
		Insecure:       c.Observability.Insecure,
		SampleRate:     c.Observability.SampleRate,
	}
}

// Meter converts the settings into an observability.MeterConfig.
func (c *RuntimeConfig) Meter() observability.MeterConfig {
	return observability.MeterConfig{
		ServiceName:    c.Observability.ServiceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		Endpoint:       c.Observability.Endpoint,
		Insecure:       c.Observability.Insecure,
		Interval:       c.Observability.MetricsInterval,
	}
}
