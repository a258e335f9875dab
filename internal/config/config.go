// Package config loads the taskboard configuration: built-in defaults, an
// optional YAML file, then environment and flag overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/taskboard/internal/projector"
)

// EnvPrefix prefixes environment overrides, e.g. TASKBOARD_HTTP_ADDR
const EnvPrefix = "TASKBOARD"

// Config is the full application configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      NATSConfig      `yaml:"nats"`
	Docstore  DocstoreConfig  `yaml:"docstore"`
	Projector ProjectorConfig `yaml:"projector"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"` // extra WebSocket origins beyond loopback
}

// NATSConfig selects the broker. An empty URL starts an embedded server.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"` // enables JetStream snapshot retention
}

// Docstore backends
const (
	BackendNATS   = "nats"
	BackendMemory = "memory" // in-process, nothing persisted
)

type DocstoreConfig struct {
	Backend        string        `yaml:"backend"`
	DBPath         string        `yaml:"db_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	External       bool          `yaml:"external"` // another process runs the service
}

type ProjectorConfig struct {
	Mode        string        `yaml:"mode"`
	SeedLatency time.Duration `yaml:"seed_latency"`
	Locale      string        `yaml:"locale"`
}

// SessionConfig locates the saved board preferences. Empty disables saving.
type SessionConfig struct {
	StateFile string `yaml:"state_file"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":3000"},
		NATS: NATSConfig{Port: 4222},
		Docstore: DocstoreConfig{
			Backend:        BackendNATS,
			DBPath:         "data/taskboard.db",
			RequestTimeout: 5 * time.Second,
		},
		Projector: ProjectorConfig{
			Mode:        string(projector.ModeLocal),
			SeedLatency: projector.DefaultSeedLatency,
			Locale:      "und",
		},
		Session: SessionConfig{StateFile: "data/board.json"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewViper returns a viper instance reading TASKBOARD_* environment variables
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (bound flags or environment) onto cfg
func (c *Config) ApplyOverrides(v *viper.Viper) {
	setString(v, "http.addr", &c.HTTP.Addr)
	if v.IsSet("http.allowed_origins") {
		c.HTTP.AllowedOrigins = v.GetStringSlice("http.allowed_origins")
	}
	setString(v, "nats.url", &c.NATS.URL)
	setInt(v, "nats.port", &c.NATS.Port)
	setString(v, "nats.store_dir", &c.NATS.StoreDir)
	setString(v, "docstore.backend", &c.Docstore.Backend)
	setString(v, "docstore.db_path", &c.Docstore.DBPath)
	setDuration(v, "docstore.request_timeout", &c.Docstore.RequestTimeout)
	setBool(v, "docstore.external", &c.Docstore.External)
	setString(v, "projector.mode", &c.Projector.Mode)
	setDuration(v, "projector.seed_latency", &c.Projector.SeedLatency)
	setString(v, "projector.locale", &c.Projector.Locale)
	setString(v, "session.state_file", &c.Session.StateFile)
	setString(v, "log.level", &c.Log.Level)
	setString(v, "log.file", &c.Log.File)
	setBool(v, "log.console", &c.Log.Console)
}

// Validate checks value ranges and enums
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.NATS.URL == "" && c.NATS.Port <= 0 {
		errs = append(errs, fmt.Errorf("nats.port must be positive, got %d", c.NATS.Port))
	}
	if c.Docstore.Backend != BackendNATS && c.Docstore.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("docstore.backend must be nats or memory, got %q", c.Docstore.Backend))
	}
	if c.Docstore.DBPath == "" && !c.Docstore.External {
		errs = append(errs, errors.New("docstore.db_path is required"))
	}
	if c.Docstore.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("docstore.request_timeout must be positive, got %s", c.Docstore.RequestTimeout))
	}
	if _, ok := projector.ParseMode(c.Projector.Mode); !ok {
		errs = append(errs, fmt.Errorf("projector.mode must be local or remote, got %q", c.Projector.Mode))
	}
	if c.Projector.SeedLatency < 0 {
		errs = append(errs, fmt.Errorf("projector.seed_latency must not be negative, got %s", c.Projector.SeedLatency))
	}
	if _, err := language.Parse(c.Projector.Locale); err != nil {
		errs = append(errs, fmt.Errorf("projector.locale: %w", err))
	}
	return errors.Join(errs...)
}

// Locale returns the parsed collation locale. Call after Validate.
func (c *Config) Locale() language.Tag {
	tag, err := language.Parse(c.Projector.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}
