package config

import (
	"fmt"
	"strings"
	"time"

	"imgpress/internal/encoder"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Debounce DebounceConfig `mapstructure:"debounce"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port          int `mapstructure:"port"`
	MaxUploadMB   int `mapstructure:"max_upload_mb"`
	ReadTimeoutS  int `mapstructure:"read_timeout_s"`
	WriteTimeoutS int `mapstructure:"write_timeout_s"`
}

// DefaultsConfig contains the output parameters applied to a fresh source
type DefaultsConfig struct {
	Quality int    `mapstructure:"quality"`
	Format  string `mapstructure:"format"`
}

// DebounceConfig contains the quiet windows for coalescing rapid edits
type DebounceConfig struct {
	QualityMS   int `mapstructure:"quality_ms"`
	DimensionMS int `mapstructure:"dimension_ms"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			MaxUploadMB:   32,
			ReadTimeoutS:  30,
			WriteTimeoutS: 30,
		},
		Defaults: DefaultsConfig{
			Quality: 80,
			Format:  "jpeg",
		},
		Debounce: DebounceConfig{
			QualityMS:   100,
			DimensionMS: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "imgpress.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.imgpress")
		viper.AddConfigPath("/etc/imgpress")
	}

	viper.SetEnvPrefix("IMGPRESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}
	if c.Server.ReadTimeoutS <= 0 {
		c.Server.ReadTimeoutS = 30
	}
	if c.Server.WriteTimeoutS <= 0 {
		c.Server.WriteTimeoutS = 30
	}

	if c.Defaults.Quality < 1 || c.Defaults.Quality > 100 {
		return fmt.Errorf("invalid default quality: %d (valid: 1-100)", c.Defaults.Quality)
	}
	if _, err := encoder.ParseFormat(c.Defaults.Format); err != nil {
		return fmt.Errorf("invalid default format: %s (valid: jpeg, png, webp)", c.Defaults.Format)
	}

	if c.Debounce.QualityMS <= 0 {
		c.Debounce.QualityMS = 100
	}
	if c.Debounce.DimensionMS <= 0 {
		c.Debounce.DimensionMS = 300
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// QualityWindow returns the quality debounce quiet window
func (c *Config) QualityWindow() time.Duration {
	return time.Duration(c.Debounce.QualityMS) * time.Millisecond
}

// DimensionWindow returns the dimension debounce quiet window
func (c *Config) DimensionWindow() time.Duration {
	return time.Duration(c.Debounce.DimensionMS) * time.Millisecond
}
