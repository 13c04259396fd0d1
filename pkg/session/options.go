package session

import (
	"io"
	"log/slog"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/crdt"
)

// Option configures a Document.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	client  crdt.ClientID
	metrics *metrics.Metrics
}

func defaultOptions() options {
	return options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger for recovered subscriber panics and dropped operations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClientID fixes the replica id. By default every document gets a random one.
func WithClientID(id crdt.ClientID) Option {
	return func(o *options) {
		o.client = id
	}
}

// WithMetrics records transactions and emitted signals.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
