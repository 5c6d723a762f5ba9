package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/streamkit/errors"
	"github.com/kbukum/streamkit/resilience"
	"github.com/kbukum/streamkit/version"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultReadIdleTimeout = 30 * time.Second
	defaultPingTimeout     = 15 * time.Second
	userAgentProduct       = "streamkit-httpclient"

	// HeaderRequestID carries the per-call request ID.
	HeaderRequestID = "X-Request-ID"
)

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the base URL prepended to all request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout bounds a whole non-streaming call, and the wait for response
	// headers of a streaming call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Headers are default headers applied to all requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// UserAgent is sent unless a request sets its own.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// Retry configures retry behavior. Nil disables retry.
	Retry *resilience.RetryPolicy `yaml:"-" mapstructure:"-"`

	// Gate configures the dispatch gate. Nil disables it.
	Gate *resilience.GateConfig `yaml:"-" mapstructure:"-"`

	// HTTP2 configures HTTP/2 health checks on the transport.
	HTTP2 HTTP2Config `yaml:"http2" mapstructure:"http2"`

	// MaxLineSize bounds a single line of a streamed body. Zero uses the
	// decoder default.
	MaxLineSize int `yaml:"max_line_size" mapstructure:"max_line_size"`
}

// HTTP2Config enables HTTP/2 with connection health checks, so a stream
// whose connection silently died is detected instead of hanging.
type HTTP2Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout" mapstructure:"read_idle_timeout"`
	PingTimeout     time.Duration `yaml:"ping_timeout" mapstructure:"ping_timeout"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent(userAgentProduct)
	}
	if c.HTTP2.Enabled {
		if c.HTTP2.ReadIdleTimeout <= 0 {
			c.HTTP2.ReadIdleTimeout = defaultReadIdleTimeout
		}
		if c.HTTP2.PingTimeout <= 0 {
			c.HTTP2.PingTimeout = defaultPingTimeout
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.Validation("httpclient: timeout must be positive")
	}
	if c.MaxLineSize < 0 {
		return errors.Validation("httpclient: max line size must not be negative")
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return err
		}
	}
	if c.Gate != nil && c.Gate.RequestsPerMinute < 0 {
		return errors.Validation(fmt.Sprintf("httpclient: gate %q: requests per minute must not be negative", c.Gate.Name))
	}
	return nil
}
