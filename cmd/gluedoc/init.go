package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc"
)

const defaultConfig = `# gluedoc workspace configuration
workspace:
  update_log: updates.db
server:
  addr: ":8080"
  autosave: true
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a gluedoc workspace",
	Long:  `Initialize a workspace in the current directory (or --workspace): creates the system directory and a default gluedoc.yaml.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dir := workspaceFlag
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			dir = wd
		}

		svc, err := gluedoc.New(dir, gluedoc.WithAutoInit(true), gluedoc.WithLogger(slog.Default()))
		if err != nil {
			fatal("Failed to initialize workspace", err)
		}
		if err := svc.Shutdown(context.Background()); err != nil {
			fatal("Failed to close workspace", err)
		}

		cfgPath := filepath.Join(dir, "gluedoc.yaml")
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(cfgPath, []byte(defaultConfig), 0644); err != nil {
				fatal("Failed to write config", err)
			}
		}

		fmt.Println("Initialized empty gluedoc workspace in", dir)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
