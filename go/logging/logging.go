// Package logging configures the process-wide logrus logger of a connector:
// its level, its formatter, and an optional size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Stderr may be given as the log file path to log to standard error.
	Stderr = "-"

	DefaultMaxBytes       = 10_000_000
	DefaultMaxBackupCount = 10
)

// Config describes where and how verbosely a connector logs.
type Config struct {
	Level          string // Level name or legacy numeric level. Empty means info.
	FilePath       string // Log file, or Stderr.
	MaxBytes       int64  // Size at which the log file is rotated.
	MaxBackupCount int    // Number of rotated files to retain.
}

// DefaultFilePath is the log file of the named connector when none is
// configured: <executable dir>/log/<name>/<name>.log.
func DefaultFilePath(name string) string {
	var dir = "."
	if exe, err := os.Executable(); err == nil {
		dir = filepath.Dir(exe)
	}
	return filepath.Join(dir, "log", name, name+".log")
}

// ParseLevel accepts logrus level names as well as the numeric levels of the
// legacy shipper configuration, where 10 is debug, 20 is info, 30 is warning,
// 40 is error and 50 is fatal. A numeric level between two of those is rounded
// up to the next coarser level, and anything below 10 enables trace logging.
func ParseLevel(s string) (log.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return log.InfoLevel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n < 10:
			return log.TraceLevel, nil
		case n <= 10:
			return log.DebugLevel, nil
		case n <= 20:
			return log.InfoLevel, nil
		case n <= 30:
			return log.WarnLevel, nil
		case n <= 40:
			return log.ErrorLevel, nil
		default:
			return log.FatalLevel, nil
		}
	}
	switch strings.ToLower(s) {
	case "warning":
		return log.WarnLevel, nil
	case "critical":
		return log.FatalLevel, nil
	}
	return log.ParseLevel(s)
}

// Configure applies cfg to the standard logger. The LOG_LEVEL and LOG_FORMAT
// environment variables take precedence over the configured level and over
// the default formatter. The returned Closer releases the log file, if any.
func Configure(cfg Config) (io.Closer, error) {
	var levelName = cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		levelName = env
	}
	var level, err = ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	var defaultFormat = "color"
	if cfg.FilePath != "" && cfg.FilePath != Stderr {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSizeMegabytes(cfg.MaxBytes),
			MaxBackups: cfg.MaxBackupCount,
		}
		defaultFormat = "text"
	}

	var format = defaultFormat
	if env := os.Getenv("LOG_FORMAT"); env != "" {
		format = env
	}
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	default:
		out.Close()
		return nil, fmt.Errorf("invalid LOG_FORMAT %q (expected 'json', 'text', or 'color')", format)
	}

	log.SetOutput(out)
	log.SetLevel(level)
	return out, nil
}

// maxSizeMegabytes converts a byte limit into the whole megabytes which
// lumberjack rotates on. Any positive limit rotates at one megabyte or more.
func maxSizeMegabytes(maxBytes int64) int {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var mb = int(maxBytes / 1_000_000)
	if mb < 1 {
		mb = 1
	}
	return mb
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
