package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Backend BackendConfig
	Session SessionConfig
	Audit   AuditConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// BackendConfig points at the picking backend consumed by the gateway.
type BackendConfig struct {
	BaseURL        string `validate:"required,url"`
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
}

// SessionConfig locates the persisted operator session.
type SessionConfig struct {
	Path string `validate:"required"`
}

// AuditConfig controls the local removal journal.
type AuditConfig struct {
	Enabled   bool
	Path      string
	ExportDir string
}

// MetricsConfig toggles the /metrics listener in interactive mode.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Backend = BackendConfig{
		BaseURL:        strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
		RequestTimeout: parseDuration(v.GetString("BACKEND_TIMEOUT"), 30*time.Second),
		HealthTimeout:  parseDuration(v.GetString("BACKEND_HEALTH_TIMEOUT"), 5*time.Second),
	}

	cfg.Session = SessionConfig{
		Path: v.GetString("SESSION_PATH"),
	}

	cfg.Audit = AuditConfig{
		Enabled:   v.GetBool("AUDIT_ENABLED"),
		Path:      v.GetString("AUDIT_DB_PATH"),
		ExportDir: v.GetString("AUDIT_EXPORT_DIR"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("METRICS_ENABLED"),
		Addr:    v.GetString("METRICS_ADDR"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the structural constraints declared on the config types.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c.Backend); err != nil {
		return err
	}
	return validate.Struct(c.Session)
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("BACKEND_URL", "http://localhost:8080")
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("BACKEND_HEALTH_TIMEOUT", "5s")

	v.SetDefault("SESSION_PATH", filepath.Join(home, ".rm-unpick", "session.json"))

	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("AUDIT_DB_PATH", filepath.Join(home, ".rm-unpick", "audit.db"))
	v.SetDefault("AUDIT_EXPORT_DIR", "./reports")

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_ADDR", ":9109")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
