// Package conf loads storykeep settings from config.yaml, environment
// variables and command line flags through viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/storykeep/internal/logger"
)

// Settings is the root of the configuration tree. Field names map to
// lower-cased viper keys, e.g. Upstream.APIOrigin is upstream.apiorigin.
type Settings struct {
	Debug bool // true to enable debug logging across modules

	Server    ServerSettings
	Upstream  UpstreamSettings
	Cache     CacheSettings
	Store     StoreSettings
	Push      PushSettings
	Telemetry TelemetrySettings
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerSettings configures the local proxy listener.
type ServerSettings struct {
	Listen          string        // address the proxy listens on
	ReadTimeout     time.Duration // maximum duration for reading a request
	WriteTimeout    time.Duration // maximum duration for writing a response
	ShutdownTimeout time.Duration // grace period for in-flight requests on shutdown
}

// UpstreamSettings points at the app and the story API.
type UpstreamSettings struct {
	AppOrigin   string        // origin serving the application shell and assets
	APIOrigin   string        // origin serving the story API
	APIPrefix   string        // versioned API path prefix, e.g. /v1/
	ListingPath string        // primary listing endpoint, answered offline with a JSON envelope
	Timeout     time.Duration // per request network timeout
	UserAgent   string
}

// CacheSettings configures the cache tiers and their lifecycle.
type CacheSettings struct {
	Prefix             string        // tier name prefix
	Version            string        // tier name version suffix; bump to replace every tier
	Path               string        // SQLite file holding the tiers
	MemoryTTL          time.Duration // lifetime of snapshots in the memory layer
	Manifest           []string      // shell assets seeded at install
	InstallConcurrency int           // parallel fetches while seeding
	SkipWaiting        bool          // activate right after install
	SlowQuery          time.Duration // tier queries slower than this are logged as warnings
}

// StoreSettings configures the persistent store.
type StoreSettings struct {
	Path          string  // SQLite file holding stories, favorites, queue and images
	PageSize      int     // stories requested per listing call
	ImageRate     float64 // opportunistic image fetches per second
	ImageBurst    int
	MaxImageBytes int64
	SlowQuery     time.Duration // store queries slower than this are logged as warnings
}

// PushSettings configures notification delivery.
type PushSettings struct {
	URLs     []string      // shoutrrr service URLs, ${VAR} references expanded; empty logs notifications only
	URLsFile string        // optional secret file with one shoutrrr URL per line
	Timeout  time.Duration // send timeout
	Icon     string        // default icon and badge
	Remember time.Duration // how long shown notifications can be opened
}

// TelemetrySettings configures opt-in error reporting to Sentry.
type TelemetrySettings struct {
	Enabled     bool    // false sends nothing
	DSN         string  // Sentry project DSN
	Environment string  // reported environment name
	SampleRate  float64 // fraction of events sent, 0 or 1 sends all
}

// ShellTier returns the tier holding install-time shell assets.
func (c *CacheSettings) ShellTier() string {
	return fmt.Sprintf("%s-%s", c.Prefix, c.Version)
}

// RuntimeTier returns the tier for generic same-origin responses.
func (c *CacheSettings) RuntimeTier() string {
	return fmt.Sprintf("%s-runtime-%s", c.Prefix, c.Version)
}

// ImageTier returns the tier for image responses.
func (c *CacheSettings) ImageTier() string {
	return fmt.Sprintf("%s-images-%s", c.Prefix, c.Version)
}

// APITier returns the tier for API responses.
func (c *CacheSettings) APITier() string {
	return fmt.Sprintf("%s-api-%s", c.Prefix, c.Version)
}

// TierNames is the allow-list of the current version.
func (c *CacheSettings) TierNames() []string {
	return []string{c.ShellTier(), c.RuntimeTier(), c.ImageTier(), c.APITier()}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration into a new Settings. An empty configFile searches
// the default config paths; a missing config file is created with defaults.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			return createDefaultConfig(configFile)
		}
		return viper.ReadInConfig()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(filepath.Join(configPaths[0], "config.yaml"))
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the registered defaults to configPath and reads it back.
func createDefaultConfig(configPath string) error {
	data, err := DefaultConfigYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// DefaultConfigYAML renders the default settings as a config.yaml document.
func DefaultConfigYAML() ([]byte, error) {
	v := viper.New()
	setDefaults(v)

	defaults := &Settings{}
	if err := v.Unmarshal(defaults); err != nil {
		return nil, fmt.Errorf("error building default settings: %w", err)
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("error encoding default settings: %w", err)
	}
	return data, nil
}
