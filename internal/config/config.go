package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds storage configuration. DataFolder is the shared
// project folder; the registry database lives in a dot-directory inside
// it. Path, when set, overrides the derived location entirely.
type DatabaseConfig struct {
	DataFolder string `mapstructure:"data_folder"`
	Path       string `mapstructure:"path"`
}

// QueueConfig holds write queue configuration
type QueueConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

// ScanConfig holds scan finalization configuration. Holidays are
// "2006-01-02" dates excluded from the business-day calendar on top of
// weekends.
type ScanConfig struct {
	MissingKeepDays   int      `mapstructure:"missing_keep_days"`
	ConfirmedKeepDays int      `mapstructure:"confirmed_keep_days"`
	Holidays          []string `mapstructure:"holidays"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.max_batch_size", 50)
	viper.SetDefault("queue.batch_interval", 500*time.Millisecond)

	viper.SetDefault("scan.missing_keep_days", 7)
	viper.SetDefault("scan.confirmed_keep_days", 7)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.max_size_mb", 50)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("logger.max_age_days", 30)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("database.data_folder", "REGISTRY_DATA_FOLDER")
	viper.BindEnv("database.path", "REGISTRY_DB_PATH")
	viper.BindEnv("server.port", "REGISTRY_PORT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DataFolder == "" && c.Database.Path == "" {
		return fmt.Errorf("database.data_folder or database.path is required")
	}
	if c.Queue.MaxBatchSize <= 0 {
		return fmt.Errorf("queue.max_batch_size must be positive")
	}
	if c.Scan.MissingKeepDays <= 0 {
		return fmt.Errorf("scan.missing_keep_days must be positive")
	}
	if c.Scan.ConfirmedKeepDays <= 0 {
		return fmt.Errorf("scan.confirmed_keep_days must be positive")
	}
	for _, h := range c.Scan.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
	}
	return nil
}
