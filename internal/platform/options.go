package platform

import (
	"log/slog"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/core"
)

// options holds the internal configuration for a workspace.
type options struct {
	repository  core.Repository
	updates     core.UpdateStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	adapter     string
	config      map[string]interface{}
	serializers map[string]any
}

// Option defines a functional option for configuring a workspace.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		adapter:     "fs",
		config:      make(map[string]interface{}),
		serializers: make(map[string]any),
	}
}

// WithSerializer registers a custom serializer for a specific extension.
// The serializer 's' must implement fs.Serializer; validation happens during Init.
func WithSerializer(ext string, s any) Option {
	return func(o *options) {
		o.serializers[ext] = s
	}
}

// WithAutoInit creates the workspace directory and its system directory.
func WithAutoInit(auto bool) Option {
	return func(o *options) {
		o.config["auto_init"] = auto
	}
}

// WithMustExist ensures the workspace directory must already exist.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.config["must_exist"] = must
	}
}

// WithLogger sets the logger for the service and its adapters.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records workspace activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRepository injects a custom snapshot repository.
// If provided, the adapter named by WithAdapter is skipped.
func WithRepository(repo core.Repository) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithUpdateStore injects a custom update log store.
func WithUpdateStore(store core.UpdateStore) Option {
	return func(o *options) {
		o.updates = store
	}
}

// WithUpdateLog keeps the update history of open sessions in a SQLite database
// at path. A relative path is resolved inside the system directory.
func WithUpdateLog(path string) Option {
	return func(o *options) {
		o.config["update_log"] = path
	}
}

// WithAdapter selects the storage adapter by name ("fs" or "memory").
// Defaults to "fs".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithSystemDir sets the hidden directory name. Defaults to ".gluedoc".
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.config["system_dir"] = name
	}
}

// WithEventBuffer sets the size of the event broker buffer.
// Zero means default (100).
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.config["event_buffer"] = size
	}
}

// WithWatcherErrorHandler registers a callback for errors raised by the Watch loop.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.config["watcher_error_handler"] = fn
	}
}

// WithReadOnly enables read-only mode.
// In this mode:
// 1. Save and Delete return ErrReadOnly.
// 2. Initialization (Mkdir) is skipped.
// 3. Cache updates are not persisted to disk.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.config["read_only"] = enabled
	}
}
