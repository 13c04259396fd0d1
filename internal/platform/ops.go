package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/gluedoc/pkg/adapters/fs"
	"github.com/aretw0/gluedoc/pkg/adapters/memory"
	"github.com/aretw0/gluedoc/pkg/adapters/sqlite"
	"github.com/aretw0/gluedoc/pkg/core"
)

const defaultSystemDir = ".gluedoc"

// Init prepares the snapshot repository of a workspace.
// The 'uri' argument is adapter-specific (a directory for 'fs', ignored by 'memory').
func Init(uri string, opts ...Option) (core.Repository, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return initRepository(uri, o)
}

func initRepository(uri string, o *options) (core.Repository, error) {
	if o.repository != nil {
		return o.repository, nil
	}

	var repo core.Repository
	var err error

	switch o.adapter {
	case "fs":
		repo, err = initFS(uri, o)
	case "memory":
		repo = memory.NewRepository()
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}
	if err != nil {
		return nil, err
	}

	if err := repo.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

// initFS handles the initialization logic for the filesystem adapter.
func initFS(path string, o *options) (core.Repository, error) {
	autoInit, _ := o.config["auto_init"].(bool)
	mustExist, _ := o.config["must_exist"].(bool)
	readOnly, _ := o.config["read_only"].(bool)
	eventBuffer, _ := o.config["event_buffer"].(int)
	errorHandler, _ := o.config["watcher_error_handler"].(func(error))

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	repo := fs.NewRepository(fs.Config{
		Path:         abs,
		AutoInit:     autoInit && !readOnly,
		MustExist:    mustExist || !autoInit,
		ReadOnly:     readOnly,
		Logger:       o.logger,
		SystemDir:    systemDir(o),
		EventBuffer:  eventBuffer,
		ErrorHandler: errorHandler,
	})

	for ext, s := range o.serializers {
		serializer, ok := s.(fs.Serializer)
		if !ok {
			if o.logger != nil {
				o.logger.Warn("invalid serializer type ignored", "ext", ext, "expected", "fs.Serializer")
			}
			return nil, fmt.Errorf("serializer for %s must implement fs.Serializer", ext)
		}
		fs.RegisterSerializer(ext, serializer)
	}

	return repo, nil
}

func systemDir(o *options) string {
	if dir, _ := o.config["system_dir"].(string); dir != "" {
		return dir
	}
	return defaultSystemDir
}

// initUpdateStore returns the update log store configured by the options, or
// nil when the workspace keeps no history.
func initUpdateStore(ctx context.Context, uri string, o *options) (core.UpdateStore, error) {
	if o.updates != nil {
		return o.updates, nil
	}
	path, _ := o.config["update_log"].(string)
	switch {
	case path == "":
		return nil, nil
	case path == ":memory:" || o.adapter == "memory":
		return memory.NewUpdateStore(), nil
	case !filepath.IsAbs(path):
		path = filepath.Join(uri, systemDir(o), path)
	}

	if readOnly, _ := o.config["read_only"].(bool); !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create update log directory: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open update log: %w", err)
	}
	return store, nil
}

func repoPath(repo core.Repository) (string, bool) {
	if r, ok := repo.(*fs.Repository); ok {
		return r.Path, true
	}
	return "", false
}
