package Config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Firebase      FirebaseConfig      `yaml:"firebase"`
	Logging       LoggingConfig       `yaml:"logging"`
	Slack         SlackConfig         `yaml:"slack"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	AllowOrigins string `yaml:"allow_origins"`
	TimeZone     string `yaml:"time_zone"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Bucket        string `yaml:"bucket"`
	LocalDir      string `yaml:"local_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
}

type FirebaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

type RemindersConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type NotificationsConfig struct {
	InboxLimit int `yaml:"inbox_limit"`
}

// Load reads .env (when present) and then the YAML file at path, expanding
// ${VAR} references before decoding.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "aces-fuel"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.AllowOrigins == "" {
		c.Server.AllowOrigins = "http://localhost:5173"
	}
	if c.Server.TimeZone == "" {
		c.Server.TimeZone = "UTC"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "database.db"
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24 * 30
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "driver-uploads"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "uploads"
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/uploads", c.Server.Port)
	}
	if c.Storage.MaxUploadMB == 0 {
		c.Storage.MaxUploadMB = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = "0 0 6 * * *"
	}
	if c.Notifications.InboxLimit == 0 {
		c.Notifications.InboxLimit = 50
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}

	if _, err := time.LoadLocation(c.Server.TimeZone); err != nil {
		return fmt.Errorf("server.time_zone: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch c.Storage.Backend {
	case "local":
	case "firebase":
		if !c.Firebase.Enabled {
			return errors.New("storage.backend=firebase requires firebase.enabled")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Firebase.Enabled && c.Firebase.CredentialsFile == "" {
		return errors.New("firebase.credentials_file is required when firebase is enabled")
	}
	return nil
}

// MaxUploadBytes is the per-image size cap.
func (c StorageConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Location is the zone schedules and imports are read in. Validate has
// already checked it.
func (c ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
