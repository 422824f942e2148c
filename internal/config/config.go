package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	defaultDBPath = "./dev.db"
	defaultPort   = "8080"
)

// Config holds application configuration from config.yaml, .env and COSTING_* variables.
type Config struct {
	Env      string         `mapstructure:"env"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables rotated file output in addition to stderr.
	File string `mapstructure:"file"`
}

// AuthConfig configures login and session tokens.
type AuthConfig struct {
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
	SessionKey    string        `mapstructure:"session_key"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// WorkflowConfig tunes costing sessions.
type WorkflowConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Strict          bool          `mapstructure:"strict"`
}

// IsDev reports whether the service runs in development mode.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev" || c.Env == "development"
}

// Load reads configuration from file and environment. dirs are searched for
// config.yaml after the working directory.
func Load(dirs ...string) (*Config, error) {
	// Best-effort: production should use real env injection.
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, d := range dirs {
		v.AddConfigPath(d)
	}

	v.SetEnvPrefix("COSTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "dev")
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("store.path", defaultDBPath)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.admin_email", "")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.session_key", "")
	v.SetDefault("auth.session_ttl", 12*time.Hour)
	v.SetDefault("workflow.refresh_interval", 30*time.Second)
	v.SetDefault("workflow.strict", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return eris.New("config: server.port is required")
	}
	if c.Store.Path == "" {
		return eris.New("config: store.path is required")
	}
	if c.Auth.SessionKey != "" && len(c.Auth.SessionKey) != chacha20poly1305.KeySize {
		return eris.Errorf("config: auth.session_key must be exactly %d characters", chacha20poly1305.KeySize)
	}
	if c.Auth.SessionTTL <= 0 {
		return eris.New("config: auth.session_ttl must be positive")
	}
	if c.Workflow.RefreshInterval < time.Second {
		return eris.New("config: workflow.refresh_interval must be at least 1s")
	}
	return nil
}

// Warnings lists settings that are missing but tolerated.
func (c Config) Warnings() []string {
	var out []string
	if c.Auth.AdminEmail == "" {
		out = append(out, "auth.admin_email is not set")
	}
	if c.Auth.AdminPassword == "" {
		out = append(out, "auth.admin_password is not set")
	}
	if c.Auth.SessionKey == "" {
		out = append(out, "auth.session_key is not set; sessions will not survive a restart")
	}
	return out
}
