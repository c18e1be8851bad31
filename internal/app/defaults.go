package app

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SGBACKUP_CONFIG: config file location (default: $XDG_CONFIG_HOME/sgbackup/sgbackup.toml)
//   - SGBACKUP_HOME: base directory for sgbackup data (default: $XDG_DATA_HOME/sgbackup)
func GetDefaults() map[string]string {
	baseDir := getBaseDir()
	return map[string]string{
		"config_path": getConfigPath(),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}
}

func getConfigPath() string {
	if path := os.Getenv("SGBACKUP_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(xdg.ConfigHome, "sgbackup", "sgbackup.toml")
}

func getBaseDir() string {
	if path := os.Getenv("SGBACKUP_HOME"); path != "" {
		return path
	}
	return filepath.Join(xdg.DataHome, "sgbackup")
}
