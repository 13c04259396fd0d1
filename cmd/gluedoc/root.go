package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc"
	"github.com/aretw0/gluedoc/pkg/session"
	"github.com/aretw0/gluedoc/pkg/workspace"
)

var (
	verbose       bool
	workspaceFlag string
	configFlag    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gluedoc",
	Short: "Inspect, edit and serve Glue session documents",
	Long: `gluedoc manages a workspace of Glue session files (.glu).
Sessions are replicated documents: the serve command relays live edits
between clients and keeps their history in an update log.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace directory (default: nearest workspace root or the current directory)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file (default: <workspace>/gluedoc.yaml)")
}

// resolveWorkspace picks the workspace directory from the flag, the config
// file or the nearest root above the working directory.
func resolveWorkspace(cfg gluedoc.Config) string {
	if workspaceFlag != "" {
		return workspaceFlag
	}
	wd, err := os.Getwd()
	if err != nil {
		fatal("Failed to get CWD", err)
	}
	root, err := gluedoc.FindWorkspaceRoot(wd)
	if err != nil {
		root = wd
	}
	if cfg.Workspace.Path != "" && cfg.Workspace.Path != "." {
		if filepath.IsAbs(cfg.Workspace.Path) {
			return cfg.Workspace.Path
		}
		return filepath.Join(root, cfg.Workspace.Path)
	}
	return root
}

// loadConfig reads --config, or gluedoc.yaml at the workspace root when present.
func loadConfig() gluedoc.Config {
	path := configFlag
	if path == "" {
		dir := workspaceFlag
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			if root, err := gluedoc.FindWorkspaceRoot(wd); err == nil {
				dir = root
			} else {
				dir = wd
			}
		}
		path = filepath.Join(dir, "gluedoc.yaml")
	}
	cfg, err := gluedoc.LoadConfig(path)
	if err != nil {
		fatal("Failed to load config", err)
	}
	return cfg
}

// openWorkspace opens the existing workspace with the configured options.
func openWorkspace(extra ...gluedoc.Option) (*workspace.Service, gluedoc.Config) {
	cfg := loadConfig()
	opts := append(cfg.Options(),
		gluedoc.WithMustExist(true),
		gluedoc.WithLogger(slog.Default()),
	)
	opts = append(opts, extra...)

	svc, err := gluedoc.New(resolveWorkspace(cfg), opts...)
	if err != nil {
		fatal("Failed to open workspace", err)
	}
	return svc, cfg
}

// editSession opens a session, runs fn and saves the result when fn reports a change.
func editSession(id string, fn func(doc *session.Document) (changed bool, err error)) {
	ctx := context.Background()
	svc, _ := openWorkspace()
	defer svc.Shutdown(ctx)

	doc, err := svc.Open(ctx, id)
	if err != nil {
		fatal("Failed to open session", err)
	}

	changed, err := fn(doc)
	if err != nil {
		fatal("Failed to edit session", err)
	}
	if !changed {
		return
	}
	if err := svc.Save(ctx, id); err != nil {
		fatal("Failed to save session", err)
	}
}
