package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DataDir        string       `mapstructure:"data_dir"`
	Store          StoreConfig  `mapstructure:"store" validate:"required"`
	Remote         RemoteConfig `mapstructure:"remote" validate:"required"`
	Sync           SyncConfig   `mapstructure:"sync"`
	Log            LogConfig    `mapstructure:"log"`
	WatchPatterns  []string     `mapstructure:"watch_patterns"`
	IgnorePatterns []string     `mapstructure:"ignore_patterns"`
}

// StoreConfig selects and configures the local store backend
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	Path     string         `mapstructure:"path"` // sqlite only, defaults to <data_dir>/tripsync.db
	Postgres DatabaseConfig `mapstructure:"postgres"`
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required_if=Enabled true"`
	Schema   string `mapstructure:"schema"` // Optional: derived from the account name if not specified
	SSLMode  string `mapstructure:"sslmode"`

	// Enabled is set by Load when the postgres driver is selected
	Enabled bool `mapstructure:"-"`
}

// RemoteConfig holds the diary service endpoint and credentials
type RemoteConfig struct {
	BaseURL    string `mapstructure:"base_url" validate:"required,url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TimeoutSec int    `mapstructure:"timeout_sec" validate:"min=0"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	Concurrency            int  `mapstructure:"concurrency" validate:"min=1,max=64"`
	IntervalSec            int  `mapstructure:"interval_sec" validate:"min=0"`
	DebounceMs             int  `mapstructure:"debounce_ms" validate:"min=0"`
	RetryAttempts          int  `mapstructure:"retry_attempts" validate:"min=0"`
	RetryDelayMs           int  `mapstructure:"retry_delay_ms" validate:"min=0"`
	ShowProgress           bool `mapstructure:"show_progress"`
	HoldCursorOnItemErrors bool `mapstructure:"hold_cursor_on_item_errors"`
}

// LogConfig controls the rotating log file used by the daemon
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, port, d.Database, sslMode,
	)
	// Each account gets its own schema
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// Timeout returns the HTTP timeout for remote calls
func (r *RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// Interval returns the daemon's periodic sync interval. Zero disables it.
func (s *SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// SQLitePath returns the SQLite database file, resolved against the data dir
func (c *Config) SQLitePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "tripsync.db")
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Postgres: DatabaseConfig{
				Port:    5432,
				SSLMode: "require",
			},
		},
		Remote: RemoteConfig{
			BaseURL:    "http://localhost:8000",
			TimeoutSec: 30,
		},
		Sync: SyncConfig{
			Concurrency:   4,
			IntervalSec:   300,
			DebounceMs:    2000,
			RetryAttempts: 3,
			RetryDelayMs:  1000,
			ShowProgress:  true,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		WatchPatterns: []string{
			"*.db",
			"*.db-wal",
		},
		IgnorePatterns: []string{
			"*.db-shm",
			"*.tmp",
			"*.db-journal",
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", "")
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("store.postgres.port", defaults.Store.Postgres.Port)
	v.SetDefault("store.postgres.sslmode", defaults.Store.Postgres.SSLMode)
	v.SetDefault("remote.base_url", defaults.Remote.BaseURL)
	v.SetDefault("remote.timeout_sec", defaults.Remote.TimeoutSec)
	v.SetDefault("sync.concurrency", defaults.Sync.Concurrency)
	v.SetDefault("sync.interval_sec", defaults.Sync.IntervalSec)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.retry_attempts", defaults.Sync.RetryAttempts)
	v.SetDefault("sync.retry_delay_ms", defaults.Sync.RetryDelayMs)
	v.SetDefault("sync.show_progress", defaults.Sync.ShowProgress)
	v.SetDefault("sync.hold_cursor_on_item_errors", defaults.Sync.HoldCursorOnItemErrors)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)
	v.SetDefault("watch_patterns", defaults.WatchPatterns)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := finalize(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// finalize expands paths and secrets and fills derived fields
func finalize(cfg *Config) error {
	cfg.Remote.Password = os.ExpandEnv(cfg.Remote.Password)
	cfg.Store.Postgres.Password = os.ExpandEnv(cfg.Store.Postgres.Password)
	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")

	if cfg.DataDir == "" {
		dir, err := GetStateDir()
		if err != nil {
			return err
		}
		cfg.DataDir = dir
	}
	cfg.DataDir = expandPath(cfg.DataDir)
	if cfg.Store.Path != "" {
		cfg.Store.Path = expandPath(cfg.Store.Path)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}

	if cfg.Store.Driver == "postgres" {
		cfg.Store.Postgres.Enabled = true
		if cfg.Store.Postgres.Schema == "" && cfg.Remote.Username != "" {
			cfg.Store.Postgres.Schema = SanitizeIdentifier(cfg.Remote.Username)
		}
	}
	return nil
}

// Validate checks a loaded configuration
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "tripsync")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "tripsync")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "tripsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tripsync")
	}
}

// GetStateDir returns the directory for storing state files
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderline = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier converts an account name into a valid PostgreSQL schema name.
// Rules:
// - Lowercase only
// - Starts with letter or underscore
// - Contains only letters, digits, underscores
// - Spaces, hyphens, dots and @ become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)

	name = strings.NewReplacer(" ", "_", "-", "_", ".", "_", "@", "_").Replace(name)

	name = invalidIdentChars.ReplaceAllString(name, "")
	name = repeatedUnderline.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	// Ensure it starts with a letter
	if len(name) == 0 {
		name = "diary"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "diary_" + name
	}

	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}
