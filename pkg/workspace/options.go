package workspace

import (
	"log/slog"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/session"
)

// Option configures a Service.
type Option func(*Service)

// WithUpdateStore persists the update history of open sessions.
func WithUpdateStore(store core.UpdateStore) Option {
	return func(s *Service) {
		s.updates = store
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records open documents, stored updates and compactions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEventBuffer sets the capacity of channels returned by Watch.
func WithEventBuffer(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.eventBufferSize = size
		}
	}
}

// WithDocumentOptions adds options applied to every document the service opens.
func WithDocumentOptions(opts ...session.Option) Option {
	return func(s *Service) {
		s.docOpts = append(s.docOpts, opts...)
	}
}
