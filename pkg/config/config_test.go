package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "", cfg.LogLevel)
	assert.Equal(t, BackendReplay, cfg.Backend)
	assert.Equal(t, "Muse", cfg.NamePrefix)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "disambiguate", cfg.DuplicateNames)
	assert.False(t, cfg.ResetSubscribersOnConnect)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "museb.yaml", `
backend: ble
name_prefix: MuseS
scan_timeout: 3s
duplicate_names: last-write-wins
reset_subscribers_on_connect: true
queue_size: 32
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBLE, cfg.Backend)
	assert.Equal(t, "MuseS", cfg.NamePrefix)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "unset keys MUST keep their defaults")
	assert.Equal(t, "last-write-wins", cfg.DuplicateNames)
	assert.True(t, cfg.ResetSubscribersOnConnect)
	assert.Equal(t, 32, cfg.QueueSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "museb.yaml", "backend: ble\nqueue_size: 32\n")
	t.Setenv("MUSEB_BACKEND", "replay")
	t.Setenv("MUSEB_CONNECT_TIMEOUT", "250ms")
	t.Setenv("MUSEB_RESET_SUBSCRIBERS_ON_CONNECT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendReplay, cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)
	assert.True(t, cfg.ResetSubscribersOnConnect)
	assert.Equal(t, 32, cfg.QueueSize)
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "MUSEB_OUTPUT_FORMAT=text\nMUSEB_NAME_PREFIX=Muse-2\n")
	// godotenv sets real process variables; make sure they are restored
	t.Setenv("MUSEB_OUTPUT_FORMAT", "")
	t.Setenv("MUSEB_NAME_PREFIX", "")
	require.NoError(t, os.Unsetenv("MUSEB_OUTPUT_FORMAT"))
	require.NoError(t, os.Unsetenv("MUSEB_NAME_PREFIX"))

	cfg, err := Load("", envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, "Muse-2", cfg.NamePrefix)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown backend", content: "backend: serial\n", wantErr: `backend: failed "oneof"`},
		{name: "bad log level", content: "log_level: trace\n", wantErr: `log_level: failed "oneof"`},
		{name: "zero queue", content: "queue_size: 0\n", wantErr: `queue_size: failed "min"`},
		{name: "bad policy", content: "duplicate_names: first\n", wantErr: "duplicate_names"},
		{name: "bad duration", content: "scan_timeout: soon\n", wantErr: "failed to decode configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "museb.yaml", tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.PanicLevel},
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "level %q", tt.in)
	}

	_, err := ParseLogLevel("verbose")
	assert.ErrorContains(t, err, "invalid log level: verbose")
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"

	logger, err := cfg.NewLogger()
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)
	assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
	assert.Same(t, os.Stderr, logger.Out)
}

func TestConfig_NewLoggerWithFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "info"
	cfg.LogFile = filepath.Join(t.TempDir(), "museb.log")

	logger, err := cfg.NewLogger()
	require.NoError(t, err)

	rotating, ok := logger.Out.(*lumberjack.Logger)
	require.True(t, ok, "log file output MUST rotate")
	defer rotating.Close()
	assert.Equal(t, 10, rotating.MaxSize)
	assert.Equal(t, 3, rotating.MaxBackups)

	logger.Info("headband connected")
	content, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "headband connected")
}
