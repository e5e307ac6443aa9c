// Package config loads museb settings from defaults, an optional YAML file,
// .env files and MUSEB_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvPrefix prefixes every environment override, e.g. MUSEB_BACKEND=ble.
const EnvPrefix = "MUSEB"

// Backends.
const (
	BackendReplay = "replay"
	BackendBLE    = "ble"
)

// Config holds application configuration
type Config struct {
	// LogLevel is debug, info, warn or error. Empty keeps logging silent.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// LogFile, when set, receives log output with size-based rotation.
	LogFile           string `mapstructure:"log_file"`
	LogFileMaxSizeMB  int    `mapstructure:"log_file_max_size_mb" default:"10" validate:"min=1"`
	LogFileMaxBackups int    `mapstructure:"log_file_max_backups" default:"3" validate:"min=0"`

	Backend string `mapstructure:"backend" default:"replay" validate:"oneof=replay ble"`
	// Scenario is a replay scenario file; empty means the embedded demo.
	Scenario string `mapstructure:"scenario"`

	NamePrefix     string        `mapstructure:"name_prefix" default:"Muse" validate:"required"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout" default:"10s" validate:"gt=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" default:"10s" validate:"gt=0"`

	DuplicateNames            string `mapstructure:"duplicate_names" default:"disambiguate" validate:"oneof=disambiguate last-write-wins"`
	ResetSubscribersOnConnect bool   `mapstructure:"reset_subscribers_on_connect"`

	QueueSize    int    `mapstructure:"queue_size" default:"256" validate:"min=1"`
	OutputFormat string `mapstructure:"output_format" default:"json" validate:"oneof=json text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", keyFor(fe.StructField()), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load builds a Config. path is an optional YAML file; dotenvFiles that do not
// exist are skipped. Environment variables override the file.
func Load(path string, dotenvFiles ...string) (*Config, error) {
	if err := LoadDotEnv(dotenvFiles...); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only answers for keys viper already knows about
	for _, key := range keys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files without overriding ones
// already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ParseLogLevel maps the CLI level names. Empty means silent.
func ParseLogLevel(s string) (logrus.Level, error) {
	switch s {
	case "":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// NewLogger creates a configured logger instance. Output goes to stderr, or to
// a rotating LogFile when set.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(c.logOutput())
	return logger, nil
}

func (c *Config) logOutput() io.Writer {
	if c.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogFileMaxSizeMB,
		MaxBackups: c.LogFileMaxBackups,
	}
}

// keys lists the mapstructure keys of Config.
func keys() []string {
	t := reflect.TypeOf(Config{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			out = append(out, key)
		}
	}
	return out
}

func keyFor(field string) string {
	if f, ok := reflect.TypeOf(Config{}).FieldByName(field); ok {
		if key := f.Tag.Get("mapstructure"); key != "" {
			return key
		}
	}
	return field
}
