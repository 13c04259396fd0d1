package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoWorkspace is returned by FindRoot when no directory above the start
// carries a workspace marker.
var ErrNoWorkspace = errors.New("no gluedoc workspace found")

// rootMarkers identify the directory holding a session workspace, checked in
// order at each level.
var rootMarkers = []string{defaultSystemDir, ConfigFileName, ".git"}

// FindRoot returns the absolute path of the closest directory at or above
// startDir that holds the system directory, a gluedoc.yaml or a .git checkout.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}
