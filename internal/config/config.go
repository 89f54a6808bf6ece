package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ning0612/dpsync/internal/domain"
)

// Config represents the complete configuration for dpsync
type Config struct {
	// DataDir holds the history database, the secret store, lock files and staged downloads
	DataDir string `mapstructure:"data_dir"`

	// Log configures the global logger
	Log LogConfig `mapstructure:"log"`

	// Servers define package servers referenced by jcds and cloud distribution points
	Servers []domain.ServerConfig `mapstructure:"servers"`

	// DistributionPoints define the synchronizable endpoints
	DistributionPoints []domain.DistributionPointConfig `mapstructure:"distribution_points"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotated log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	// Check server name uniqueness
	serverNames := make(map[string]bool)
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("%w: server name cannot be empty", domain.ErrConfigInvalid)
		}
		if serverNames[s.Name] {
			return fmt.Errorf("%w: duplicate server name: %s", domain.ErrConfigInvalid, s.Name)
		}
		if s.URL == "" {
			return fmt.Errorf("%w: server %s has no url", domain.ErrConfigInvalid, s.Name)
		}
		switch s.Auth {
		case domain.AuthClientCredentials, domain.AuthBasic:
		default:
			return fmt.Errorf("%w: server %s has invalid auth: %s", domain.ErrConfigInvalid, s.Name, s.Auth)
		}
		switch s.API {
		case domain.APIAuto, domain.APIClassic, domain.APIJSON:
		default:
			return fmt.Errorf("%w: server %s has invalid api: %s", domain.ErrConfigInvalid, s.Name, s.API)
		}
		serverNames[s.Name] = true
	}

	// Check distribution point name uniqueness and server references
	dpNames := make(map[string]bool)
	for _, d := range c.DistributionPoints {
		if d.Name == "" {
			return fmt.Errorf("%w: distribution point name cannot be empty", domain.ErrConfigInvalid)
		}
		if dpNames[d.Name] {
			return fmt.Errorf("%w: duplicate distribution point name: %s", domain.ErrConfigInvalid, d.Name)
		}
		if !d.Type.IsValid() {
			return fmt.Errorf("%w: distribution point %s has invalid type: %s", domain.ErrConfigInvalid, d.Name, d.Type)
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("distribution point %s: %w: missing required fields for type %s", d.Name, err, d.Type)
		}
		if d.Type.NeedsServer() && !serverNames[d.Server] {
			return fmt.Errorf("%w: distribution point %s references unknown server: %s",
				domain.ErrServerNotFound, d.Name, d.Server)
		}
		dpNames[d.Name] = true
	}

	return nil
}

// GetServer returns a server by name
func (c *Config) GetServer(name string) (*domain.ServerConfig, error) {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i], nil
		}
	}
	return nil, domain.ErrServerNotFound
}

// GetDistributionPoint returns a distribution point by name
func (c *Config) GetDistributionPoint(name string) (*domain.DistributionPointConfig, error) {
	for i := range c.DistributionPoints {
		if c.DistributionPoints[i].Name == name {
			return &c.DistributionPoints[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrDistributionPointNotFound, name)
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
