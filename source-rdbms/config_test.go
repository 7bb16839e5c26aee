package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/logshipper/connectors/go/common"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	"github.com/logshipper/connectors/go/sink"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	var path = writeConfig(t, "audit.prod.yml", `
connector_config:
  log_level: 10
  log_file_path: /var/log/shipper/audit.log
  log_max_bytes: 2000000
  log_max_backup_count: 3
  bookmark_path: /var/lib/shipper/audit.yml
  log_source: audit
  backoff_duration: 30
database_config:
  connection_mode: odbc
  connection_string: postgres://db.internal:5432/audit
  user: shipper
  password: secret
  query: SELECT * FROM events WHERE {field_name} > {initial_value} ORDER BY {field_name}
  field_name: id
  initial_value: 0
  ipv4_fields: [src_ip]
  reconnect_attempts: 4
  query_timeout: 1m
forwarding_config:
  workers: 2
  publisher:
    type: kafka
    brokers: [kafka-1:9092]
    topic: audit
`)
	var cfg, err = loadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "audit", cfg.name)
	require.Equal(t, connectorConfig{
		LogLevel:          "10",
		LogFilePath:       "/var/log/shipper/audit.log",
		LogMaxBytes:       2000000,
		LogMaxBackupCount: 3,
		BookmarkPath:      "/var/lib/shipper/audit.yml",
		LogSource:         "audit",
		BackoffDuration:   common.Duration(30 * time.Second),
	}, cfg.Connector)

	require.Equal(t, modeNative, cfg.Database.ConnectionMode)
	require.Equal(t, scalar("0"), cfg.Database.InitialValue)
	require.Equal(t, []string{"src_ip"}, cfg.Database.IPv4Fields)
	require.Equal(t, defaultIPv6Fields, cfg.Database.IPv6Fields)
	require.Equal(t, defaultClasspathEnv, cfg.Database.ClasspathEnv)
	require.Equal(t, 4, cfg.Database.ReconnectAttempts)
	require.Equal(t, time.Minute, cfg.Database.QueryTimeout.AsDuration())

	require.Equal(t, 2, cfg.Forwarding.Workers)
	require.Equal(t, sink.DefaultBufferSize, cfg.Forwarding.BufferSize)
	require.Equal(t, sink.TypeKafka, cfg.Forwarding.Publisher.Type)
	require.Equal(t, []string{"kafka-1:9092"}, cfg.Forwarding.Publisher.Brokers)
}

func TestConfigDefaults(t *testing.T) {
	var path = writeConfig(t, "firewall.yml", `
database_config:
  connection_mode: jdbc
  connection_driver: sqlite3
  connection_string: /tmp/firewall.db
  query: SELECT * FROM log WHERE {field_name} > '{initial_value}'
  field_name: ts
`)
	var cfg, err = loadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "firewall", cfg.name)
	require.Equal(t, modeBridge, cfg.Database.ConnectionMode)
	require.Equal(t, scalar(""), cfg.Database.InitialValue)
	require.Equal(t, defaultBackoff, cfg.Connector.BackoffDuration.AsDuration())
	require.Equal(t, int64(10_000_000), cfg.Connector.LogMaxBytes)
	require.Equal(t, 10, cfg.Connector.LogMaxBackupCount)
	require.Equal(t, filepath.Join("log", "firewall", "firewall.log"),
		relativeTail(cfg.Connector.LogFilePath, 3))
	require.Equal(t, filepath.Join("bookmark", "firewall.yml"),
		relativeTail(cfg.Connector.BookmarkPath, 2))
	require.Equal(t, defaultIPv4Fields, cfg.Database.IPv4Fields)
	require.Equal(t, defaultIPv6Fields, cfg.Database.IPv6Fields)
	require.Equal(t, sink.TypeStdout, cfg.Forwarding.Publisher.Type)
}

func TestConfigConnectionModes(t *testing.T) {
	for _, tc := range []struct {
		input, want string
	}{
		{"", modeNative},
		{"native", modeNative},
		{"ODBC", modeNative},
		{" native-protocol ", modeNative},
		{"jdbc", modeBridge},
		{"Bridge", modeBridge},
		{"bridge-protocol", modeBridge},
	} {
		var got, err = normalizeConnectionMode(tc.input)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.want, got, tc.input)
	}
	var _, err = normalizeConnectionMode("carrier-pigeon")
	require.ErrorContains(t, err, `invalid connection_mode "carrier-pigeon"`)
}

func TestLoadConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		err     string
	}{
		{"empty", "", "is empty"},
		{"unknown_field", "database_config:\n  table: events\n", "field table not found"},
		{"missing_required", "database_config:\n  connection_string: postgres://h/db\n", "missing 'database_config.query'"},
		{"bad_mode", `
database_config:
  connection_mode: telnet
  connection_string: postgres://h/db
  query: SELECT 1
  field_name: id
`, `invalid connection_mode "telnet"`},
		{"bad_placeholder", `
database_config:
  connection_string: postgres://h/db
  query: SELECT * FROM t WHERE {column} > 0
  field_name: id
`, "unknown placeholder {column}"},
		{"bridge_without_driver", `
database_config:
  connection_mode: bridge
  connection_string: DSN=audit
  query: SELECT 1
  field_name: id
`, "bridge-protocol mode requires 'connection_driver'"},
		{"bad_log_level", `
connector_config:
  log_level: loud
database_config:
  connection_string: postgres://h/db
  query: SELECT 1
  field_name: id
`, `invalid log_level "loud"`},
		{"negative_reconnects", `
database_config:
  connection_string: postgres://h/db
  query: SELECT 1
  field_name: id
  reconnect_attempts: -1
`, "reconnect_attempts must not be negative"},
		{"bad_forwarding", `
database_config:
  connection_string: postgres://h/db
  query: SELECT 1
  field_name: id
forwarding_config:
  publisher:
    type: nats
`, "invalid forwarding_config: nats publisher requires a url"},
		{"bad_duration", `
connector_config:
  backoff_duration: soon
`, "invalid duration"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = loadConfig(writeConfig(t, "test.yml", tc.content))
			require.ErrorContains(t, err, tc.err)
			require.True(t, cerrors.IsKind(err, cerrors.KindConfig), "%v", err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	var _, err = loadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.True(t, cerrors.IsKind(err, cerrors.KindConfig))
	require.ErrorContains(t, err, "connector not configured")
}

func TestConfigReportsAllProblems(t *testing.T) {
	var cfg = Config{name: "test"}
	cfg.SetDefaults()
	var err = cfg.Validate()
	require.ErrorContains(t, err, "missing 'database_config.connection_string'")
	require.ErrorContains(t, err, "missing 'database_config.query'")
	require.ErrorContains(t, err, "missing 'database_config.field_name'")
}

func TestConnectorName(t *testing.T) {
	require.Equal(t, "audit", connectorName("/etc/shipper/audit.yml"))
	require.Equal(t, "audit", connectorName("audit.prod.yaml"))
	require.Equal(t, "audit", connectorName("audit"))
}

// relativeTail returns the last n elements of path.
func relativeTail(path string, n int) string {
	var parts []string
	for i := 0; i < n; i++ {
		parts = append([]string{filepath.Base(path)}, parts...)
		path = filepath.Dir(path)
	}
	return filepath.Join(parts...)
}
