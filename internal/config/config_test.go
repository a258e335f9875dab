package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, 4222, cfg.NATS.Port)
	assert.Equal(t, "data/taskboard.db", cfg.Docstore.DBPath)
	assert.Equal(t, BackendNATS, cfg.Docstore.Backend)
	assert.Equal(t, 5*time.Second, cfg.Docstore.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Projector.SeedLatency)
	assert.Equal(t, "local", cfg.Projector.Mode)
	assert.Equal(t, language.Und, cfg.Locale())
	assert.Equal(t, "data/board.json", cfg.Session.StateFile)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":8080"
  allowed_origins:
    - https://board.example.com
nats:
  url: nats://broker:4222
docstore:
  request_timeout: 750ms
projector:
  mode: remote
  seed_latency: 0s
  locale: de
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://board.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Docstore.RequestTimeout)
	assert.Equal(t, "data/taskboard.db", cfg.Docstore.DBPath, "unset keys keep defaults")
	assert.Equal(t, "remote", cfg.Projector.Mode)
	assert.Zero(t, cfg.Projector.SeedLatency)
	assert.Equal(t, language.German, cfg.Locale())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "http: [unterminated"))
	require.Error(t, err)
}

func TestApplyOverrides_Environment(t *testing.T) {
	t.Setenv("TASKBOARD_HTTP_ADDR", ":9999")
	t.Setenv("TASKBOARD_DOCSTORE_EXTERNAL", "true")
	t.Setenv("TASKBOARD_DOCSTORE_BACKEND", "memory")
	t.Setenv("TASKBOARD_PROJECTOR_SEED_LATENCY", "250ms")

	cfg := Defaults()
	cfg.ApplyOverrides(NewViper())

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.True(t, cfg.Docstore.External)
	assert.Equal(t, BackendMemory, cfg.Docstore.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Projector.SeedLatency)
	assert.Equal(t, 4222, cfg.NATS.Port, "unset variables leave values alone")
}

func TestApplyOverrides_ExplicitValues(t *testing.T) {
	v := NewViper()
	v.Set("nats.port", 5222)
	v.Set("log.file", "logs/taskboard.log")
	v.Set("http.allowed_origins", []string{"https://a.example", "https://b.example"})
	v.Set("session.state_file", "")

	cfg := Defaults()
	cfg.ApplyOverrides(v)

	assert.Equal(t, 5222, cfg.NATS.Port)
	assert.Equal(t, "logs/taskboard.log", cfg.Log.File)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Empty(t, cfg.Session.StateFile, "explicit empty value disables saving")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"bad port", func(c *Config) { c.NATS.Port = 0 }},
		{"no db path", func(c *Config) { c.Docstore.DBPath = "" }},
		{"bad backend", func(c *Config) { c.Docstore.Backend = "firestore" }},
		{"zero timeout", func(c *Config) { c.Docstore.RequestTimeout = 0 }},
		{"bad mode", func(c *Config) { c.Projector.Mode = "firebase" }},
		{"negative latency", func(c *Config) { c.Projector.SeedLatency = -time.Second }},
		{"bad locale", func(c *Config) { c.Projector.Locale = "not a locale!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := Defaults()
	cfg.NATS.URL = "nats://elsewhere:4222"
	cfg.NATS.Port = 0
	require.NoError(t, cfg.Validate(), "port is irrelevant with an external broker")
}
