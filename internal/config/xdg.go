package config

import (
	"os"
	"path/filepath"
)

// getUserConfigDir returns the XDG config directory for gm, mirroring
// Alphie's own XDG_CONFIG_HOME-then-~/.config resolution.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gm")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "gm")
	}
	return filepath.Join(home, ".config", "gm")
}

// expandEnv expands ${VAR} references in a string, used for RepoPath
// values supplied via config file or flag.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
