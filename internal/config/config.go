// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pinsave/internal/logging"
	"github.com/JakeFAU/pinsave/internal/media"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Storage   StorageConfig   `mapstructure:"storage"`
	State     StateConfig     `mapstructure:"state"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   logging.Config  `mapstructure:"logging"`
	PromoText string          `mapstructure:"promo_text"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles. Only AdminIDs may call the
// admin routes; an empty list closes them.
type AuthConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	APIKey   string  `mapstructure:"api_key"`
	AdminIDs []int64 `mapstructure:"admin_ids"`
}

// LimitsConfig holds the admission and size limits.
type LimitsConfig struct {
	MaxMB            int `mapstructure:"max_mb"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
	MaxQueuePerUser  int `mapstructure:"max_queue_per_user"`
	GlobalQueueLimit int `mapstructure:"global_queue_limit"`
}

// StorageConfig selects where delivered artifacts are kept.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StateConfig locates the persisted documents (cache, stats, bans).
type StateConfig struct {
	Dir          string `mapstructure:"dir"`
	CacheBackend string `mapstructure:"cache_backend"`
}

// ExtractorConfig selects and tunes the media extractor.
type ExtractorConfig struct {
	Backend        string          `mapstructure:"backend"`
	Binary         string          `mapstructure:"binary"`
	WorkDir        string          `mapstructure:"work_dir"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	UserAgent      string          `mapstructure:"user_agent"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig paces extractor calls per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// NotifyConfig selects the outbound message transport.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls the optional job history database. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Backend names accepted by Validate.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"

	CacheJSON    = "json"
	CacheLevelDB = "leveldb"

	ExtractorYTDLP  = "ytdlp"
	ExtractorDirect = "direct"

	NotifyLog    = "log"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PINSAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.admin_ids", []int64{})
	v.SetDefault("limits.max_mb", 50)
	v.SetDefault("limits.cooldown_seconds", 12)
	v.SetDefault("limits.max_queue_per_user", 2)
	v.SetDefault("limits.global_queue_limit", 100)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("storage.local.base_dir", "data/artifacts")
	v.SetDefault("state.dir", "data/state")
	v.SetDefault("state.cache_backend", CacheJSON)
	v.SetDefault("extractor.backend", ExtractorYTDLP)
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.work_dir", "data/work")
	v.SetDefault("extractor.timeout_seconds", 300)
	v.SetDefault("extractor.user_agent", "pinsave/0.1")
	v.SetDefault("extractor.rate_limit.rps", 1.0)
	v.SetDefault("extractor.rate_limit.burst", 2)
	v.SetDefault("notify.backend", NotifyLog)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "job_history")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("promo_text", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Limits.MaxMB <= 0 {
		return fmt.Errorf("limits.max_mb must be > 0")
	}
	if c.Limits.CooldownSeconds < 0 {
		return fmt.Errorf("limits.cooldown_seconds must be >= 0")
	}
	if c.Limits.MaxQueuePerUser <= 0 {
		return fmt.Errorf("limits.max_queue_per_user must be > 0")
	}
	if c.Limits.GlobalQueueLimit <= 0 {
		return fmt.Errorf("limits.global_queue_limit must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must be set")
	}
	if c.State.CacheBackend != CacheJSON && c.State.CacheBackend != CacheLevelDB {
		return fmt.Errorf("state.cache_backend %q is not supported", c.State.CacheBackend)
	}
	if c.Extractor.Backend != ExtractorYTDLP && c.Extractor.Backend != ExtractorDirect {
		return fmt.Errorf("extractor.backend %q is not supported", c.Extractor.Backend)
	}
	if c.Extractor.WorkDir == "" {
		return fmt.Errorf("extractor.work_dir must be set")
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return fmt.Errorf("extractor.timeout_seconds must be > 0")
	}
	switch c.Notify.Backend {
	case NotifyLog, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

// MaxBytes returns the size limit in bytes.
func (c Config) MaxBytes() int64 {
	return media.MegabytesToBytes(c.Limits.MaxMB)
}

// Cooldown returns the per-requester cooldown.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Limits.CooldownSeconds) * time.Second
}

// ExtractorTimeout bounds a single probe or download.
func (c Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Extractor.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// StatePath joins name onto the state directory.
func (c Config) StatePath(name string) string {
	return filepath.Join(c.State.Dir, name)
}
