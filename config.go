package modelfetch

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by FileConfig.LoadFromEnv.
const (
	EnvCatalogURL = "MODELFETCH_CATALOG_URL"
	EnvModelsDir  = "MODELFETCH_MODELS_DIR"
	EnvDebug      = "MODELFETCH_DEBUG"
	EnvTimeout    = "MODELFETCH_TIMEOUT"
)

// FileConfig is the command line configuration.
// It is layered: defaults, then a YAML file, then environment, then flags.
type FileConfig struct {
	// CatalogURL is the catalog base URL.
	CatalogURL string `yaml:"catalog_url"`

	// ModelsDir is the destination directory. Empty means the working directory.
	ModelsDir string `yaml:"models_dir"`

	// Debug records and prints download timings.
	Debug bool `yaml:"debug"`

	// Timeout bounds each catalog fetch.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultFileConfig returns a FileConfig with defaults.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		CatalogURL: DefaultCatalogURL,
		Timeout:    DefaultRequestTimeout,
	}
}

// yamlFileConfig is used for YAML unmarshaling with a string timeout.
type yamlFileConfig struct {
	CatalogURL string `yaml:"catalog_url"`
	ModelsDir  string `yaml:"models_dir"`
	Debug      bool   `yaml:"debug"`
	Timeout    string `yaml:"timeout"`
}

// LoadConfigFile loads configuration from a YAML file.
// Only the keys present in the file are set; merge the result over the
// settings it overrides.
func LoadConfigFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlFileConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config file: %w", err)
	}

	var cfg FileConfig
	if yc.CatalogURL != "" {
		cfg.CatalogURL = yc.CatalogURL
	}
	if yc.ModelsDir != "" {
		cfg.ModelsDir = yc.ModelsDir
	}
	cfg.Debug = yc.Debug
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return FileConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

// LoadFromEnv overrides c from MODELFETCH_* environment variables.
func (c *FileConfig) LoadFromEnv() error {
	if v := os.Getenv(EnvCatalogURL); v != "" {
		c.CatalogURL = v
	}
	if v := os.Getenv(EnvModelsDir); v != "" {
		c.ModelsDir = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	return nil
}

// Validate validates the configuration.
func (c *FileConfig) Validate() error {
	if c.CatalogURL == "" {
		return errors.New("config: catalog_url is required")
	}
	if _, err := checkURL(c.CatalogURL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Timeout < 0 {
		return errors.New("config: timeout must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new FileConfig.
// Zero values in override are ignored.
func (c FileConfig) Merge(override FileConfig) FileConfig {
	if override.CatalogURL != "" {
		c.CatalogURL = override.CatalogURL
	}
	if override.ModelsDir != "" {
		c.ModelsDir = override.ModelsDir
	}
	if override.Debug {
		c.Debug = override.Debug
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	return c
}

// ManagerConfig returns the library configuration for c.
func (c FileConfig) ManagerConfig() Config {
	return Config{
		CatalogURL: c.CatalogURL,
		Location:   c.ModelsDir,
	}
}
