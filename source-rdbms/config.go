package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/logshipper/connectors/go/common"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	"github.com/logshipper/connectors/go/logging"
	"github.com/logshipper/connectors/go/sink"
	"gopkg.in/yaml.v3"
)

const (
	modeNative = "native-protocol"
	modeBridge = "bridge-protocol"

	defaultBackoff      = 10 * time.Second
	defaultClasspathEnv = "LD_LIBRARY_PATH"
)

var (
	defaultIPv4Fields = []string{"AnalyzerIPV4", "SourceIPV4", "TargetIPV4"}
	defaultIPv6Fields = []string{"AnalyzerIPV6", "SourceIPV6", "TargetIPV6"}
)

// Config is the configuration file of a connector instance.
type Config struct {
	Connector  connectorConfig `json:"connector_config" yaml:"connector_config" jsonschema:"title=Connector"`
	Database   databaseConfig  `json:"database_config" yaml:"database_config" jsonschema:"title=Database"`
	Forwarding sink.Config     `json:"forwarding_config,omitempty" yaml:"forwarding_config,omitempty" jsonschema:"title=Forwarding"`

	// Name of the connector instance, taken from the configuration file name.
	name string
}

type connectorConfig struct {
	LogLevel          scalar          `json:"log_level,omitempty" yaml:"log_level,omitempty" jsonschema:"title=Log Level,description=Level name (debug/info/warning/error) or legacy numeric level (10/20/30/40/50). (default: info)" jsonschema_extras:"order=0"`
	LogFilePath       string          `json:"log_file_path,omitempty" yaml:"log_file_path,omitempty" jsonschema:"title=Log File,description=Path of the log file or '-' for standard error. (default: log/<name>/<name>.log next to the executable)" jsonschema_extras:"order=1"`
	LogMaxBytes       int64           `json:"log_max_bytes,omitempty" yaml:"log_max_bytes,omitempty" jsonschema:"title=Log Max Bytes,description=Size at which the log file is rotated. (default: 10000000)"`
	LogMaxBackupCount int             `json:"log_max_backup_count,omitempty" yaml:"log_max_backup_count,omitempty" jsonschema:"title=Log Backup Count,description=Number of rotated log files to keep. (default: 10)"`
	BookmarkPath      string          `json:"bookmark_path,omitempty" yaml:"bookmark_path,omitempty" jsonschema:"title=Bookmark File,description=Path of the checkpoint file. (default: bookmark/<name>.yml next to the executable)"`
	LogSource         string          `json:"log_source,omitempty" yaml:"log_source,omitempty" jsonschema:"title=Log Source,description=Value of the log_source property of every event." jsonschema_extras:"order=2"`
	BackoffDuration   common.Duration `json:"backoff_duration,omitempty" yaml:"backoff_duration,omitempty" jsonschema:"title=Backoff,description=How long to wait before polling again after a poll found no new rows. (default: 10s)"`
	DebugAddress      string          `json:"debug_address,omitempty" yaml:"debug_address,omitempty" jsonschema:"title=Debug Address,description=When set metrics and profiles are served over HTTP at this host:port." jsonschema_extras:"advanced=true"`
}

type databaseConfig struct {
	ConnectionMode    string          `json:"connection_mode,omitempty" yaml:"connection_mode,omitempty" jsonschema:"title=Connection Mode,enum=native-protocol,enum=bridge-protocol,description=How the database is reached. Also accepts native/odbc and bridge/jdbc. (default: native-protocol)" jsonschema_extras:"order=0"`
	ConnectionString  string          `json:"connection_string" yaml:"connection_string" jsonschema:"title=Connection String,description=Database URL (postgres/mysql/sqlserver/oracle/snowflake/trino) such as postgres://host/db or a data source name understood by the connection driver." jsonschema_extras:"secret=true,order=1"`
	ConnectionDriver  string          `json:"connection_driver,omitempty" yaml:"connection_driver,omitempty" jsonschema:"title=Connection Driver,description=Name of the database driver. Required in bridge-protocol mode and inferred from the connection string scheme otherwise." jsonschema_extras:"order=2"`
	User              string          `json:"user,omitempty" yaml:"user,omitempty" jsonschema:"title=User" jsonschema_extras:"order=3"`
	Password          string          `json:"password,omitempty" yaml:"password,omitempty" jsonschema:"title=Password" jsonschema_extras:"secret=true,order=4"`
	Classpath         string          `json:"classpath,omitempty" yaml:"classpath,omitempty" jsonschema:"title=Driver Path,description=Search path of bridge-protocol driver libraries separated by the platform list separator. (default: drivers/ next to the executable)" jsonschema_extras:"advanced=true"`
	ClasspathEnv      string          `json:"classpath_env,omitempty" yaml:"classpath_env,omitempty" jsonschema:"title=Driver Path Variable,description=Environment variable through which the driver search path is exported to processes started by the connector. (default: LD_LIBRARY_PATH)" jsonschema_extras:"advanced=true"`
	Query             string          `json:"query" yaml:"query" jsonschema:"title=Query,description=Query executed on every poll. The placeholders {initial_value} and {field_name} are replaced with the current cursor value and cursor column. Results must be ordered ascending by the cursor column." jsonschema_extras:"multiline=true,order=5"`
	FieldName         string          `json:"field_name" yaml:"field_name" jsonschema:"title=Cursor Column" jsonschema_extras:"order=6"`
	InitialValue      scalar          `json:"initial_value,omitempty" yaml:"initial_value,omitempty" jsonschema:"title=Initial Cursor Value,description=Cursor value used until a checkpoint has been written." jsonschema_extras:"order=7"`
	IPv4Fields        []string        `json:"ipv4_fields,omitempty" yaml:"ipv4_fields,omitempty" jsonschema:"title=IPv4 Columns,description=Columns holding IPv4 addresses as integers. (default: AnalyzerIPV4/SourceIPV4/TargetIPV4)" jsonschema_extras:"advanced=true"`
	IPv6Fields        []string        `json:"ipv6_fields,omitempty" yaml:"ipv6_fields,omitempty" jsonschema:"title=IPv6 Columns,description=Columns holding IPv6 addresses as 16 raw bytes. (default: AnalyzerIPV6/SourceIPV6/TargetIPV6)" jsonschema_extras:"advanced=true"`
	ReconnectAttempts int             `json:"reconnect_attempts,omitempty" yaml:"reconnect_attempts,omitempty" jsonschema:"title=Reconnect Attempts,description=Consecutive connection or query failures to recover from by reconnecting before giving up. Zero makes every such failure fatal. (default: 0)" jsonschema_extras:"advanced=true"`
	QueryTimeout      common.Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty" jsonschema:"title=Query Timeout,description=Upper bound on the execution of one poll query. Zero means no limit." jsonschema_extras:"advanced=true"`
}

// scalar is a configuration string which may also be written as a YAML
// number or boolean, such as `log_level: 10` or `initial_value: 0`.
type scalar string

func (scalar) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "number"},
		},
	}
}

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
	} else {
		*s = scalar(node.Value)
	}
	return nil
}

// loadConfig reads, defaults and validates the configuration file at path.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, cerrors.NewConfigError(fmt.Errorf("connector not configured: no configuration file given"))
	}
	var f, err = os.Open(path)
	if err != nil {
		return nil, cerrors.NewConfigError(fmt.Errorf("connector not configured: %w", err))
	}
	defer f.Close()

	var cfg Config
	var dec = yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); errors.Is(err, io.EOF) {
		return nil, cerrors.NewConfigError(fmt.Errorf("connector not configured: %q is empty", path))
	} else if err != nil {
		return nil, cerrors.NewConfigError(fmt.Errorf("parsing %q: %w", path, err))
	}

	cfg.name = connectorName(path)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.NewConfigError(err)
	}
	return &cfg, nil
}

// connectorName is the configuration file name up to its first dot.
func connectorName(path string) string {
	var name, _, _ = strings.Cut(filepath.Base(path), ".")
	return name
}

// normalizeConnectionMode maps the accepted spellings of a connection mode
// onto modeNative or modeBridge.
func normalizeConnectionMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", modeNative, "native", "odbc":
		return modeNative, nil
	case modeBridge, "bridge", "jdbc":
		return modeBridge, nil
	}
	return "", fmt.Errorf("invalid connection_mode %q (expected %q or %q)", mode, modeNative, modeBridge)
}

// SetDefaults fills in the default values for unset optional parameters.
func (c *Config) SetDefaults() {
	var conn = &c.Connector
	if conn.LogFilePath == "" {
		conn.LogFilePath = logging.DefaultFilePath(c.name)
	}
	if conn.LogMaxBytes == 0 {
		conn.LogMaxBytes = logging.DefaultMaxBytes
	}
	if conn.LogMaxBackupCount == 0 {
		conn.LogMaxBackupCount = logging.DefaultMaxBackupCount
	}
	if conn.BookmarkPath == "" {
		conn.BookmarkPath = filepath.Join(executableDir(), "bookmark", c.name+".yml")
	}
	if conn.BackoffDuration == 0 {
		conn.BackoffDuration = common.Duration(defaultBackoff)
	}

	var db = &c.Database
	if mode, err := normalizeConnectionMode(db.ConnectionMode); err == nil {
		db.ConnectionMode = mode
	}
	if db.ClasspathEnv == "" {
		db.ClasspathEnv = defaultClasspathEnv
	}
	if db.IPv4Fields == nil {
		db.IPv4Fields = defaultIPv4Fields
	}
	if db.IPv6Fields == nil {
		db.IPv6Fields = defaultIPv6Fields
	}

	c.Forwarding.SetDefaults()
}

// Validate checks that the configuration possesses all required properties.
func (c *Config) Validate() error {
	var errs = &cerrors.PrereqErr{}

	if _, err := logging.ParseLevel(string(c.Connector.LogLevel)); err != nil {
		errs.Err(fmt.Errorf("invalid log_level %q", c.Connector.LogLevel))
	}
	if c.Connector.BackoffDuration < 0 {
		errs.Err(fmt.Errorf("backoff_duration must not be negative"))
	}

	var db = &c.Database
	var requiredProperties = [][]string{
		{"connection_string", db.ConnectionString},
		{"query", db.Query},
		{"field_name", db.FieldName},
	}
	for _, req := range requiredProperties {
		if req[1] == "" {
			errs.Err(fmt.Errorf("missing 'database_config.%s'", req[0]))
		}
	}
	if _, err := normalizeConnectionMode(db.ConnectionMode); err != nil {
		errs.Err(err)
	} else if db.ConnectionString != "" {
		if _, _, err := dataSource(db); err != nil {
			errs.Err(err)
		}
	}
	if db.Query != "" {
		if err := validateQueryTemplate(db.Query); err != nil {
			errs.Err(err)
		}
	}
	if db.ReconnectAttempts < 0 {
		errs.Err(fmt.Errorf("reconnect_attempts must not be negative"))
	}
	if db.QueryTimeout < 0 {
		errs.Err(fmt.Errorf("query_timeout must not be negative"))
	}

	var forwardingErrs *cerrors.PrereqErr
	if err := c.Forwarding.Validate(); errors.As(err, &forwardingErrs) {
		for _, err := range forwardingErrs.Unwrap() {
			errs.Err(fmt.Errorf("invalid forwarding_config: %w", err))
		}
	} else if err != nil {
		errs.Err(fmt.Errorf("invalid forwarding_config: %w", err))
	}

	if errs.Len() != 0 {
		return errs
	}
	return nil
}

func executableDir() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	return "."
}
