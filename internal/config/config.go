package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/vburojevic/beacon/internal/domain"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" yaml:"format"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`

	Collector   CollectorConfig   `mapstructure:"collector" yaml:"collector"`
	Batch       BatchConfig       `mapstructure:"batch" yaml:"batch"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Device      DeviceConfig      `mapstructure:"device" yaml:"device"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Sink        SinkConfig        `mapstructure:"sink" yaml:"sink"`
}

// CollectorConfig locates the remote collector
type CollectorConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BatchConfig tunes event batching
type BatchConfig struct {
	Size          int           `mapstructure:"size" yaml:"size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	PreSession    string        `mapstructure:"pre_session" yaml:"pre_session"`
}

// CredentialsConfig selects where the bearer token is read from
type CredentialsConfig struct {
	Store string `mapstructure:"store" yaml:"store"` // file or memory
	Path  string `mapstructure:"path" yaml:"path"`
	Key   string `mapstructure:"key" yaml:"key"`
}

// DeviceConfig overrides detected device facts
type DeviceConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`
	Model      string `mapstructure:"model" yaml:"model"`
	OSVersion  string `mapstructure:"os_version" yaml:"os_version"`
	AppName    string `mapstructure:"app_name" yaml:"app_name"`
	AppVersion string `mapstructure:"app_version" yaml:"app_version"`
	InfoPlist  string `mapstructure:"info_plist" yaml:"info_plist"`
}

// TracingConfig enables OTLP export of collector client spans
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// SinkConfig configures the local development collector
type SinkConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Credential store kinds
const (
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Quiet:   false,
		Verbose: false,
		Collector: CollectorConfig{
			BaseURL: "http://localhost:5000/api/analytics",
			Timeout: 10 * time.Second,
		},
		Batch: BatchConfig{
			Size:          10,
			FlushInterval: 30 * time.Second,
			QueueCapacity: 1000,
			PreSession:    string(domain.PreSessionTag),
		},
		Credentials: CredentialsConfig{
			Store: StoreFile,
			Key:   "userToken",
		},
		Tracing: TracingConfig{
			ServiceName: "beacon",
		},
		Sink: SinkConfig{
			Addr: "127.0.0.1:5000",
		},
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Format {
	case "ndjson", "text":
	default:
		return fmt.Errorf("config: format must be ndjson or text, got %q", c.Format)
	}
	u, err := url.Parse(c.Collector.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: collector.base_url must be an http(s) URL, got %q", c.Collector.BaseURL)
	}
	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("config: collector.timeout must be positive")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("config: batch.size must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.FlushInterval <= 0 {
		return fmt.Errorf("config: batch.flush_interval must be positive")
	}
	if c.Batch.QueueCapacity < c.Batch.Size {
		return fmt.Errorf("config: batch.queue_capacity must be at least batch.size (%d), got %d",
			c.Batch.Size, c.Batch.QueueCapacity)
	}
	if _, ok := domain.ParsePreSessionPolicy(c.Batch.PreSession); !ok {
		return fmt.Errorf("config: batch.pre_session must be tag or drop, got %q", c.Batch.PreSession)
	}
	switch c.Credentials.Store {
	case StoreFile, StoreMemory:
	default:
		return fmt.Errorf("config: credentials.store must be file or memory, got %q", c.Credentials.Store)
	}
	if strings.TrimSpace(c.Credentials.Key) == "" {
		return fmt.Errorf("config: credentials.key must not be empty")
	}
	return nil
}

// keys lists every setting so AutomaticEnv can resolve nested keys
var keys = []string{
	"format", "quiet", "verbose",
	"collector.base_url", "collector.timeout",
	"batch.size", "batch.flush_interval", "batch.queue_capacity", "batch.pre_session",
	"credentials.store", "credentials.path", "credentials.key",
	"device.type", "device.model", "device.os_version", "device.app_name", "device.app_version", "device.info_plist",
	"tracing.endpoint", "tracing.service_name",
	"sink.addr", "sink.output_dir",
}

func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"format":               cfg.Format,
		"quiet":                cfg.Quiet,
		"verbose":              cfg.Verbose,
		"collector.base_url":   cfg.Collector.BaseURL,
		"collector.timeout":    cfg.Collector.Timeout,
		"batch.size":           cfg.Batch.Size,
		"batch.flush_interval": cfg.Batch.FlushInterval,
		"batch.queue_capacity": cfg.Batch.QueueCapacity,
		"batch.pre_session":    cfg.Batch.PreSession,
		"credentials.store":    cfg.Credentials.Store,
		"credentials.key":      cfg.Credentials.Key,
		"tracing.service_name": cfg.Tracing.ServiceName,
		"sink.addr":            cfg.Sink.Addr,
	}
	// Every key needs a default or Unmarshal never asks the environment for it
	for _, k := range keys {
		if d, ok := defaults[k]; ok {
			v.SetDefault(k, d)
		} else {
			v.SetDefault(k, "")
		}
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Short aliases
	_ = v.BindEnv("collector.base_url", "BEACON_COLLECTOR_BASE_URL", "BEACON_BASE_URL")
	_ = v.BindEnv("credentials.path", "BEACON_CREDENTIALS_PATH", "BEACON_CREDENTIALS")
	return v
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("beacon")
	v.SetConfigType("yaml")

	// Config paths, lowest precedence first
	v.AddConfigPath("/etc/beacon/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "beacon"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Fall back to .beaconrc
		v.SetConfigName(".beaconrc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file. Environment
// variables still override file values.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the path to the config file Load would use, or ""
func ConfigFile() string {
	v := viper.New()
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "beacon"))
	}
	v.AddConfigPath(".")

	for _, name := range []string{"beacon", ".beaconrc"} {
		v.SetConfigName(name)
		if err := v.ReadInConfig(); err == nil {
			return v.ConfigFileUsed()
		}
	}
	return ""
}

// YAML renders the config in the file format Load reads
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
