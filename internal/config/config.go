package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pngoo-go/internal/batch"
	"pngoo-go/internal/compressor"
	"pngoo-go/internal/logger"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	// OutputDirectory is ignored when InPlace is set.
	OutputDirectory     string            `mapstructure:"output_directory"`
	InPlace             bool              `mapstructure:"in_place"`
	OutputIfLarger      bool              `mapstructure:"output_if_larger"`
	Workers             int               `mapstructure:"workers"`
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Tool                ToolConfig        `mapstructure:"tool"`
	Logging             LoggingConfig     `mapstructure:"logging"`
	Server              ServerConfig      `mapstructure:"server"`
}

// CompressionConfig selects the strategy and its parameters
type CompressionConfig struct {
	Type    string                     `mapstructure:"type"`
	Indexed compressor.IndexedSettings `mapstructure:"indexed"`
}

// ToolConfig locates the external quantizer
type ToolConfig struct {
	Path    string        `mapstructure:"path"`
	TempDir string        `mapstructure:"temp_dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
	JSON       bool   `mapstructure:"json"`
}

// ServerConfig contains settings for `pngoo serve`
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		InPlace: true,
		Workers: batch.DefaultWorkers,
		SupportedExtensions: []string{
			".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff",
		},
		Compression: CompressionConfig{
			Type:    string(compressor.KindIndexed),
			Indexed: compressor.IndexedSettings{Colours: compressor.DefaultColours},
		},
		Tool: ToolConfig{
			Path: compressor.DefaultToolPath,
		},
		Logging: loggingDefaults(),
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

func loggingDefaults() LoggingConfig {
	d := logger.DefaultConfig()
	return LoggingConfig{
		Level:      d.Level,
		FilePath:   d.FilePath,
		MaxSize:    d.MaxSize,
		MaxBackups: d.MaxBackups,
		MaxAge:     d.MaxAge,
		Compress:   d.Compress,
		Console:    d.Console,
		JSON:       d.JSON,
	}
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pngoo")
		v.AddConfigPath("/etc/pngoo")
	}

	v.SetEnvPrefix("PNGOO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// ZeroFields lets a file list replace the default list instead of
	// being merged into it element by element.
	zeroFields := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	})
	if err := v.Unmarshal(config, zeroFields); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnv registers every key so AutomaticEnv can override values that do
// not appear in the config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"output_directory", "in_place", "output_if_larger", "workers",
		"compression.type", "compression.indexed.colours", "compression.indexed.ordered_dither",
		"compression.indexed.skip_if_larger",
		"tool.path", "tool.temp_dir", "tool.timeout",
		"logging.level", "logging.file_path", "logging.console", "logging.json",
		"server.port",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if !c.InPlace && c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required unless in_place is set")
	}
	if !c.InPlace {
		c.OutputDirectory = expandPath(c.OutputDirectory)
		if !isValidPath(c.OutputDirectory) {
			return fmt.Errorf("output_directory does not exist or is not accessible: %s", c.OutputDirectory)
		}
	}

	if c.Workers <= 0 {
		c.Workers = batch.DefaultWorkers
	}

	if c.Compression.Type == "" {
		c.Compression.Type = string(compressor.KindIndexed)
	}
	if c.Compression.Indexed.Colours == 0 {
		c.Compression.Indexed.Colours = compressor.DefaultColours
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("invalid compression settings: %w", err)
	}

	if c.Tool.Path == "" {
		c.Tool.Path = compressor.DefaultToolPath
	}
	if c.Tool.Timeout < 0 {
		return fmt.Errorf("tool.timeout must not be negative: %s", c.Tool.Timeout)
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		c.SupportedExtensions = DefaultConfig().SupportedExtensions
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// Settings returns the compression settings union described by the config.
func (c *Config) Settings() compressor.Settings {
	kind := compressor.Kind(c.Compression.Type)
	settings := compressor.Settings{Kind: kind}
	if kind == compressor.KindIndexed {
		indexed := c.Compression.Indexed
		settings.Indexed = &indexed
	}
	return settings
}

// BatchConfig builds the configuration for one batch over files.
func (c *Config) BatchConfig(files []string) batch.Config {
	cfg := batch.Config{
		Files:          append([]string(nil), files...),
		OutputIfLarger: c.OutputIfLarger,
		Workers:        c.Workers,
		Settings:       c.Settings(),
	}
	if !c.InPlace {
		dir := c.OutputDirectory
		cfg.OutputDirectory = &dir
	}
	return cfg
}

// PNGQuantConfig returns the tool settings for the pngquant strategy.
func (c *Config) PNGQuantConfig() compressor.PNGQuantConfig {
	return compressor.PNGQuantConfig{
		ToolPath: c.Tool.Path,
		TempDir:  c.Tool.TempDir,
		Timeout:  c.Tool.Timeout,
	}
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig{
		Level:      c.Logging.Level,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
		JSON:       c.Logging.JSON,
	}
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}
