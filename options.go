package docchat

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the prefix prepended to relative request paths
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithTimeout sets the timeout of non-streaming requests
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithStreamTimeout bounds streamed requests end to end. Zero means no limit.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.streamTimeout = d
	}
}

// WithHTTPClient sets a custom HTTP client. Its Timeout field is left alone;
// prefer WithTimeout so streams are not cut off mid-answer.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithHeader sets a default header sent on every request unless the request
// sets it itself.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.header == nil {
			c.header = http.Header{}
		}
		c.header.Set(key, value)
	}
}

// WithRateLimit limits outgoing requests to rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets the logger for debug output and failure warnings
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithNotifier sets where user-facing failure and cancellation notices go
func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		c.translator.Notifier = n
	}
}

// WithStreamBufferSize sets the read size of the stream decoder
func WithStreamBufferSize(n int) Option {
	return func(c *Client) {
		c.streamBuffer = n
	}
}

// WithRequestInterceptor registers a request stage at construction
func WithRequestInterceptor(ic Interceptor[*RequestConfig]) Option {
	return func(c *Client) {
		c.requestStages.Use(ic)
	}
}

// WithResponseInterceptor registers a response stage at construction
func WithResponseInterceptor(ic Interceptor[*Response]) Option {
	return func(c *Client) {
		c.responseStages.Use(ic)
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTimeoutConfig()...)
	errors = append(errors, c.validateRateLimitConfig()...)
	errors = append(errors, c.validateStreamConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateHTTPClientConfig()...)
	errors = append(errors, c.validateBaseURL()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &Error{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateTimeoutConfig() []string {
	var errors []string

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.streamTimeout < 0 {
		errors = append(errors, "streamTimeout must be non-negative")
	}

	return errors
}

func (c *Client) validateRateLimitConfig() []string {
	var errors []string

	if c.limiter != nil {
		if c.limiter.Limit() <= 0 {
			errors = append(errors, "rate limit must be positive")
		}
		if c.limiter.Burst() <= 0 {
			errors = append(errors, "rate limit burst must be positive")
		}
	}

	return errors
}

func (c *Client) validateStreamConfig() []string {
	var errors []string

	if c.streamBuffer <= 0 {
		errors = append(errors, "stream buffer size must be positive")
	}

	return errors
}

// validateDebugConfig validates debug configuration
func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

func (c *Client) validateHTTPClientConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	return errors
}

func (c *Client) validateBaseURL() []string {
	var errors []string

	if c.baseURL != "" && !strings.HasPrefix(c.baseURL, "http://") && !strings.HasPrefix(c.baseURL, "https://") && !strings.HasPrefix(c.baseURL, "/") {
		errors = append(errors, "baseURL must be absolute or start with /")
	}

	return errors
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}
	if c.streamBuffer > 1<<20 {
		errors = append(errors, "stream buffer > 1MiB delays token delivery")
	}

	return errors
}
