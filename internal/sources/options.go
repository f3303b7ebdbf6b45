package sources

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrInvalidConfig marks producer configuration errors reported by the
// constructors.
var ErrInvalidConfig = errors.New("sources: invalid config")

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

type options struct {
	logger *slog.Logger
	client *http.Client
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a producer.
type Option func(*options)

// WithLogger sets the producer's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithHTTPClient sets the client used by pollers. Ignored by WebSocket.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}
