package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator"
	"github.com/spf13/viper"

	"github.com/pdxmph/goopho/pkg/duplicate"
	"github.com/pdxmph/goopho/pkg/pipeline"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/thumbnail"
)

// EnvPrefix prefixes environment overrides, e.g. GOOPHO_DEDUP_MAX_DISTANCE.
const EnvPrefix = "GOOPHO"

// Config holds the application configuration
type Config struct {
	Store     StoreConfig       `mapstructure:"store" json:"store"`
	Dedup     DedupConfig       `mapstructure:"dedup" json:"dedup"`
	Thumbnail ThumbnailConfig   `mapstructure:"thumbnail" json:"thumbnail"`
	Sync      SyncConfig        `mapstructure:"sync" json:"sync"`
	Templates map[string]string `mapstructure:"templates" json:"templates,omitempty"`
}

// StoreConfig locates the database
type StoreConfig struct {
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

// DedupConfig holds near-duplicate settings
type DedupConfig struct {
	Enabled     bool `mapstructure:"enabled" json:"enabled"`
	MaxDistance int  `mapstructure:"max_distance" json:"max_distance" validate:"min=0,max=64"`
}

// ThumbnailConfig bounds stored previews
type ThumbnailConfig struct {
	MaxDimension  int `mapstructure:"max_dimension" json:"max_dimension" validate:"min=1,max=4096"`
	MaxEncodedLen int `mapstructure:"max_encoded_len" json:"max_encoded_len" validate:"min=256"`
	Quality       int `mapstructure:"quality" json:"quality" validate:"min=1,max=100"`
}

// SyncConfig controls runs
type SyncConfig struct {
	Workers      int  `mapstructure:"workers" json:"workers" validate:"min=1,max=64"`
	StopAtSynced bool `mapstructure:"stop_at_synced" json:"stop_at_synced"`
}

// DefaultTemplates returns the default output templates
func DefaultTemplates() map[string]string {
	return map[string]string{
		"text":     "%action% %url% %mtime%",
		"tsv":      "%action%\t%item_id%\t%url%\t%mtime%\t%dhash%",
		"markdown": "- **%action%** [%url%](%url%) %canonical_id|item_id%",
		"json":     `{"action":"%action%","url":"%url%","item_id":"%item_id%","canonical_id":"%canonical_id%"}`,
		"org":      "- %action% [[%url%]] %error|dhash%",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", store.DefaultPath())
	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.max_distance", duplicate.DefaultMaxDistance)
	v.SetDefault("thumbnail.max_dimension", thumbnail.DefaultMaxDimension)
	v.SetDefault("thumbnail.max_encoded_len", thumbnail.DefaultMaxEncodedLen)
	v.SetDefault("thumbnail.quality", thumbnail.DefaultQuality)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.stop_at_synced", false)
	v.SetDefault("templates", DefaultTemplates())
}

func newViper(path string, withEnv bool) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// Load loads configuration from the default location
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom loads configuration from path. A missing file yields the
// defaults; environment variables override both.
func LoadFrom(path string) (*Config, error) {
	v, err := newViper(path, true)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Add any missing default templates
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates()
	} else {
		for k, tmpl := range DefaultTemplates() {
			if _, exists := cfg.Templates[k]; !exists {
				cfg.Templates[k] = tmpl
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save saves the configuration
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the configuration to path as indented JSON.
func (c *Config) SaveTo(path string) error {
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Set changes a single dotted key (e.g. "dedup.max_distance") in the file at
// path, validating the result before writing it.
func Set(path, key, value string) (*Config, error) {
	// Environment overrides stay out of the file.
	v, err := newViper(path, false)
	if err != nil {
		return nil, err
	}

	key = strings.ToLower(key)
	if !knownKey(v, key) {
		return nil, fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	v.Set(key, value)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.SaveTo(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func knownKey(v *viper.Viper, key string) bool {
	if strings.HasPrefix(key, "templates.") && len(key) > len("templates.") {
		return true
	}
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Keys lists the settable keys other than templates.
func Keys() []string {
	v := viper.New()
	setDefaults(v)

	var keys []string
	for _, k := range v.AllKeys() {
		if !strings.HasPrefix(k, "templates.") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// PipelineOptions maps the configuration onto pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.MaxDistance = c.Dedup.MaxDistance
	opts.DisableDedup = !c.Dedup.Enabled
	opts.Thumbnail = c.ThumbnailOptions()
	opts.Workers = c.Sync.Workers
	opts.StopAtSynced = c.Sync.StopAtSynced
	return opts
}

// ThumbnailOptions returns the encoder bounds.
func (c *Config) ThumbnailOptions() thumbnail.Options {
	return thumbnail.Options{
		MaxDimension:  c.Thumbnail.MaxDimension,
		MaxEncodedLen: c.Thumbnail.MaxEncodedLen,
		Quality:       c.Thumbnail.Quality,
	}
}

// Path returns the configuration file path. GOOPHO_CONFIG overrides the
// default location.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "goopho", "config.json")
}
