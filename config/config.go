package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Vision  VisionConfig  `mapstructure:"vision"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
	CORS    CORSConfig    `mapstructure:"cors"`
	I18n    I18nConfig    `mapstructure:"i18n"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	DataDir     string `mapstructure:"data_dir"`
	ArtifactDir string `mapstructure:"artifact_dir"` // analysis images and JSON files
	Timezone    string `mapstructure:"timezone"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings (SQLite).
type DBConfig struct {
	File string `mapstructure:"file"`
}

// AuthConfig holds token and password settings.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
	RefreshTTLHours  int    `mapstructure:"refresh_ttl_hours"`
	AdminRole        string `mapstructure:"admin_role"` // role name that grants admin routes
}

// VisionConfig holds settings for the external inference backend.
type VisionConfig struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	PreviewIntervalSeconds int    `mapstructure:"preview_interval_seconds"`
}

// MQTTConfig holds the optional MQTT publisher settings.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// CleanupConfig holds retention settings for stored analyses.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// CORSConfig holds allowed origins for the SPA.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// I18nConfig holds message localization settings.
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
}

// AccessTTL returns the access-token lifetime as a duration.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh-token lifetime as a duration.
func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLHours) * time.Hour
}

// Timeout returns the vision-backend request timeout as a duration.
func (v VisionConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// PreviewInterval returns the camera-preview polling interval as a duration.
func (v VisionConfig) PreviewInterval() time.Duration {
	return time.Duration(v.PreviewIntervalSeconds) * time.Second
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables override the file, e.g. COPLE_SERVER_PORT.
	v.AutomaticEnv()
	v.SetEnvPrefix("COPLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret must be set")
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.artifact_dir", "/data/analisis")
	v.SetDefault("server.timezone", "UTC")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/asistente-coples.log")

	// Database
	v.SetDefault("db.file", "/data/asistente-coples.db")

	// Auth
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_ttl_minutes", 60)
	v.SetDefault("auth.refresh_ttl_hours", 168)
	v.SetDefault("auth.admin_role", "admin")

	// Vision backend
	v.SetDefault("vision.base_url", "http://localhost:9100")
	v.SetDefault("vision.timeout_seconds", 30)
	v.SetDefault("vision.preview_interval_seconds", 2)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "asistente-coples")
	v.SetDefault("mqtt.topic", "coples/analisis")

	// Cleanup
	v.SetDefault("cleanup.retention_days", 30)

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	// i18n
	v.SetDefault("i18n.default_language", "es")
	v.SetDefault("i18n.locales_dir", "./web/locales")
}

// ensureDirectories makes sure all required directories exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.ArtifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
