package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional configuration file looked up at the workspace root.
const ConfigFileName = "gluedoc.yaml"

// FileConfig is the on-disk configuration of a workspace and its server.
type FileConfig struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// WorkspaceConfig configures session storage.
type WorkspaceConfig struct {
	Path        string `yaml:"path"`
	SystemDir   string `yaml:"system_dir"`
	ReadOnly    bool   `yaml:"read_only"`
	UpdateLog   string `yaml:"update_log"`
	EventBuffer int    `yaml:"event_buffer"`
}

// ServerConfig configures the relay server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Prefix          string        `yaml:"prefix"`
	Autosave        *bool         `yaml:"autosave"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig points at the advanced link catalog. An empty file serves the
// embedded catalog.
type CatalogConfig struct {
	File string `yaml:"file"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() FileConfig {
	autosave := true
	return FileConfig{
		Workspace: WorkspaceConfig{
			Path:      ".",
			SystemDir: defaultSystemDir,
			UpdateLog: "updates.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Autosave:        &autosave,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. Environment
// variables in the file are expanded. A missing file yields the defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := ParseConfig([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a single YAML document into cfg, rejecting unknown keys.
func ParseConfig(data []byte, cfg *FileConfig) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: expected single document")
	}
	return cfg.Validate()
}

// Validate checks values that would only fail later at runtime.
func (c FileConfig) Validate() error {
	if c.Workspace.EventBuffer < 0 {
		return fmt.Errorf("workspace.event_buffer must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if c.Server.Prefix != "" && !strings.HasPrefix(c.Server.Prefix, "/") {
		return fmt.Errorf("server.prefix must start with '/'")
	}
	return nil
}

// Options translates the workspace section into factory options.
func (c FileConfig) Options() []Option {
	opts := []Option{
		WithReadOnly(c.Workspace.ReadOnly),
		WithUpdateLog(c.Workspace.UpdateLog),
	}
	if c.Workspace.SystemDir != "" {
		opts = append(opts, WithSystemDir(c.Workspace.SystemDir))
	}
	if c.Workspace.EventBuffer > 0 {
		opts = append(opts, WithEventBuffer(c.Workspace.EventBuffer))
	}
	return opts
}

// AutosaveEnabled reports whether rooms save when their last peer leaves.
func (c ServerConfig) AutosaveEnabled() bool {
	return c.Autosave == nil || *c.Autosave
}
