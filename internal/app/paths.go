// Package app provides the application initialization and wiring.
package app

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultDataDir returns the default data directory path.
// Uses $XDG_DATA_HOME/ddm or ~/.local/share/ddm, /var/lib/ddm as fallback.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ddm")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share", "ddm")
	}
	return "/var/lib/ddm"
}

// ConfigureViper sets up viper with standard config file search paths.
// Config file: ddm.yaml or ddm.toml
// Search paths (in order): current directory, $XDG_CONFIG_HOME/ddm, /etc/ddm
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.SetConfigName("ddm")
	v.AddConfigPath(".")
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		v.AddConfigPath(filepath.Join(dir, "ddm"))
	} else {
		v.AddConfigPath("$HOME/.config/ddm")
	}
	v.AddConfigPath("/etc/ddm")
}
