package gluedoc

import (
	"log/slog"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/internal/platform"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/workspace"
)

// --- Configuration ---

// Option defines a functional option for configuring a workspace.
type Option = platform.Option

// Config is the YAML configuration file of a workspace and its server.
type Config = platform.FileConfig

// WithAutoInit creates the workspace directory and its system directory.
func WithAutoInit(auto bool) Option {
	return platform.WithAutoInit(auto)
}

// WithMustExist ensures the workspace directory must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithMetrics records workspace activity in the Prometheus registry.
func WithMetrics(m *metrics.Metrics) Option {
	return platform.WithMetrics(m)
}

// WithRepository allows injecting a custom snapshot repository.
func WithRepository(repo core.Repository) Option {
	return platform.WithRepository(repo)
}

// WithUpdateStore allows injecting a custom update log store.
func WithUpdateStore(store core.UpdateStore) Option {
	return platform.WithUpdateStore(store)
}

// WithUpdateLog keeps session history in a SQLite database.
func WithUpdateLog(path string) Option {
	return platform.WithUpdateLog(path)
}

// WithAdapter allows specifying the storage adapter to use by name.
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithSystemDir allows specifying the hidden directory name (e.g. ".gluedoc").
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithEventBuffer allows specifying the size of the event broker buffer.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithSerializer registers a file format for an extension.
func WithSerializer(ext string, s any) Option {
	return platform.WithSerializer(ext, s)
}

// WithReadOnly opens the workspace without write access.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithWatcherErrorHandler registers a callback for watcher failures.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// --- Factory ---

// New opens a workspace service.
func New(path string, opts ...Option) (*workspace.Service, error) {
	return platform.New(path, opts...)
}

// Init initializes a repository explicitly.
func Init(path string, opts ...Option) (core.Repository, error) {
	return platform.Init(path, opts...)
}

// LoadConfig reads a configuration file; a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// --- Utils ---

// FindWorkspaceRoot recursively looks upwards for a workspace root indicator.
func FindWorkspaceRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
