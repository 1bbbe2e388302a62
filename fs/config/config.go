// Package config loads the smashfs configuration file: global options
// plus one section per exported volume.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Unknwon/goconfig"
	homedir "github.com/mitchellh/go-homedir"
)

// DefaultName is the config file looked up in the user's home directory
// when no --config flag is given.
const DefaultName = ".smashfs.conf"

// Mount is one volume definition from the config file.
type Mount struct {
	Name string
	Root string
}

// Config is the loaded configuration.
type Config struct {
	LogLevel     string
	PollInterval time.Duration
	Mounts       []Mount
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		PollInterval: 5 * time.Second,
	}
}

// Path resolves the config file path, favouring the explicit one.
func Path(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, DefaultName), nil
}

// Load reads the config file. A missing file yields the defaults; a
// malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cf, err := goconfig.LoadConfigFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	if v, err := cf.GetValue(goconfig.DEFAULT_SECTION, "log_level"); err == nil && v != "" {
		cfg.LogLevel = v
	}
	if v, err := cf.GetValue(goconfig.DEFAULT_SECTION, "poll_interval"); err == nil && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("bad poll_interval %q: %w", v, err)
		}
		cfg.PollInterval = d
	}

	for _, section := range cf.GetSectionList() {
		if section == goconfig.DEFAULT_SECTION {
			continue
		}
		root, err := cf.GetValue(section, "path")
		if err != nil || root == "" {
			return nil, fmt.Errorf("volume %q has no path", section)
		}
		cfg.Mounts = append(cfg.Mounts, Mount{Name: section, Root: root})
	}
	return cfg, nil
}
