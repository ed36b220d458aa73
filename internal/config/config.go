// Package config loads nexus settings from a config file and NEXUS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrMissingBaseURL is returned by RequireAPI when no remote is configured.
var ErrMissingBaseURL = errors.New("api.base_url is not configured")

// FileName is the config file base name, without extension.
const FileName = "nexus"

type Config struct {
	API      API      `mapstructure:"api" yaml:"api"`
	Sync     Sync     `mapstructure:"sync" yaml:"sync"`
	Token    Token    `mapstructure:"token" yaml:"token"`
	Dropdown Dropdown `mapstructure:"dropdown" yaml:"dropdown"`
	Database Database `mapstructure:"database" yaml:"database"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Log      Log      `mapstructure:"log" yaml:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type API struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Token     string        `mapstructure:"token" yaml:"token"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ChunkSize int           `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type Sync struct {
	SetChunkSize int `mapstructure:"set_chunk_size" yaml:"set_chunk_size"`
}

type Token struct {
	// Key is a JSON Web Key holding a 256-bit symmetric key.
	Key    string        `mapstructure:"key" yaml:"key"`
	Expiry time.Duration `mapstructure:"expiry" yaml:"expiry"`
}

type Dropdown struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type Database struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type Server struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// AuthorizeURL receives users arriving with a valid auto-login token,
	// with login_hint and next query parameters.
	AuthorizeURL string `mapstructure:"authorize_url" yaml:"authorize_url"`
	// NoUserURL receives auto-login tokens naming an unknown email.
	NoUserURL string `mapstructure:"no_user_url" yaml:"no_user_url"`
}

type Log struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

var defaults = map[string]any{
	"api.base_url":         "",
	"api.token":            "",
	"api.timeout":          "30s",
	"api.chunk_size":       5000,
	"sync.set_chunk_size":  10000,
	"token.key":            "",
	"token.expiry":         "60s",
	"dropdown.ttl":         "600s",
	"database.path":        filepath.Join(".nexus", "nexus.db"),
	"server.addr":          ":8080",
	"server.authorize_url": "/login",
	"server.no_user_url":   "/signup",
	"log.level":            "info",
	"log.format":           "console",
	"log.file":             "",
	"log.max_size_mb":      100,
	"log.max_backups":      3,
	"log.max_age_days":     28,
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. An explicit path must exist; otherwise
// nexus.{toml,yaml} is looked up in the working directory and then in
// $HOME/.config/nexus, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "nexus"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// Watch re-reads the config file at path whenever it changes on disk and
// passes the new settings to onChange. A file that no longer decodes is
// logged and skipped. Watching lasts for the life of the process.
func Watch(path string, onChange func(*Config)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			zap.S().Warnw("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		next.File = path
		onChange(&next)
	})
	v.WatchConfig()
	return nil
}

// APIEnabled reports whether a remote directory is configured.
func (c *Config) APIEnabled() bool {
	return c.API.BaseURL != ""
}

// RequireAPI fails with ErrMissingBaseURL when no remote is configured.
func (c *Config) RequireAPI() error {
	if !c.APIEnabled() {
		return ErrMissingBaseURL
	}
	return nil
}

// WriteDefault writes a TOML file holding the default settings. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tree := map[string]map[string]any{}
	for k, val := range defaults {
		section, key, _ := strings.Cut(k, ".")
		if tree[section] == nil {
			tree[section] = map[string]any{}
		}
		tree[section][key] = val
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(tree); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.API.Token = mask(c.API.Token)
	masked.Token.Key = mask(c.Token.Key)
	return yaml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
