package modelfetch

import (
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout bounds catalog listing requests.
	// Artifact transfers have no built-in timeout; use context deadlines or Cancel.
	DefaultRequestTimeout = 30 * time.Second

	// transferBufferSize is the read granularity of the transfer loop.
	// Cancellation is observed at most one buffer after it is requested.
	transferBufferSize = 32 * 1024

	// partSuffix is appended to the destination name for in-flight downloads.
	partSuffix = ".part"
)

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for catalog and artifact requests.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// catalogTimeout bounds a single catalog fetch.
	catalogTimeout time.Duration
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		httpClient:     http.DefaultClient,
		catalogTimeout: DefaultRequestTimeout,
	}
}

// WithHTTPClient sets a custom HTTP client.
// Useful for testing with mock servers or for adding an outer transport deadline.
// If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithCatalogTimeout bounds each catalog fetch. Non-positive values are ignored.
func WithCatalogTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if d > 0 {
			c.catalogTimeout = d
		}
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
