package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for input, expected := range map[string]log.Level{
		"":        log.InfoLevel,
		"debug":   log.DebugLevel,
		"INFO":    log.InfoLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"5":       log.TraceLevel,
		"10":      log.DebugLevel,
		"15":      log.InfoLevel,
		"20":      log.InfoLevel,
		"30":      log.WarnLevel,
		"40":      log.ErrorLevel,
		"50":      log.FatalLevel,
	} {
		var level, err = ParseLevel(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, level, input)
	}

	var _, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestMaxSizeMegabytes(t *testing.T) {
	require.Equal(t, 10, maxSizeMegabytes(0))
	require.Equal(t, 10, maxSizeMegabytes(DefaultMaxBytes))
	require.Equal(t, 1, maxSizeMegabytes(1024))
	require.Equal(t, 25, maxSizeMegabytes(25_500_000))
}

func TestConfigureFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "json")
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	}()

	var path = filepath.Join(t.TempDir(), "log", "audit", "audit.log")
	var closer, err = Configure(Config{Level: "20", FilePath: path, MaxBytes: 2_000_000, MaxBackupCount: 3})
	require.NoError(t, err)
	require.Equal(t, log.InfoLevel, log.GetLevel())

	log.WithField("table", "events").Info("hello")
	log.Debug("not written")
	require.NoError(t, closer.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"hello"`)
	require.Contains(t, string(contents), `"table":"events"`)
	require.NotContains(t, string(contents), "not written")
}

func TestConfigureEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "")
	defer log.SetLevel(log.InfoLevel)

	var closer, err = Configure(Config{Level: "error", FilePath: Stderr})
	require.NoError(t, err)
	require.Equal(t, log.DebugLevel, log.GetLevel())
	require.NoError(t, closer.Close())

	t.Setenv("LOG_FORMAT", "xml")
	_, err = Configure(Config{FilePath: Stderr})
	require.ErrorContains(t, err, "invalid LOG_FORMAT")
}

func TestDefaultFilePath(t *testing.T) {
	var path = DefaultFilePath("audit")
	require.Equal(t, "audit.log", filepath.Base(path))
	require.Equal(t, "audit", filepath.Base(filepath.Dir(path)))
	require.Equal(t, "log", filepath.Base(filepath.Dir(filepath.Dir(path))))
}
