package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	log "github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "github.com/snowflakedb/gosnowflake"
	_ "github.com/trinodb/trino-go-client/trino"
)

// nativeDrivers maps the URL scheme of a native-protocol connection string
// onto the database/sql driver which speaks that protocol.
var nativeDrivers = map[string]string{
	"postgres":   "pgx",
	"postgresql": "pgx",
	"mysql":      "mysql",
	"sqlserver":  "sqlserver",
	"mssql":      "sqlserver",
	"oracle":     "oracle",
	"snowflake":  "snowflake",
	"trino":      "trino",
	"trino+http": "trino",
}

// session is a live connection to the source database. All queries of a
// capture run sequentially on its single connection.
type session struct {
	db     *sql.DB
	conn   *sql.Conn
	driver string
}

func (s *session) Close() error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

// connect opens a session to the configured database. It does not retry.
func connect(ctx context.Context, cfg *databaseConfig) (*session, error) {
	var driverName, dsn, err = dataSource(cfg)
	if err != nil {
		return nil, cerrors.NewConfigError(err)
	}
	if !slices.Contains(sql.Drivers(), driverName) {
		return nil, cerrors.NewConnectionError(fmt.Errorf("database driver %q is not available (have %s)", driverName, strings.Join(sql.Drivers(), ", ")))
	}

	log.WithFields(log.Fields{
		"mode":   cfg.ConnectionMode,
		"driver": driverName,
		"user":   cfg.User,
	}).Info("connecting to database")

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, cerrors.NewConnectionError(fmt.Errorf("error opening database connection: %w", err))
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, cerrors.NewConnectionError(fmt.Errorf("error pinging database: %w", err))
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, cerrors.NewConnectionError(fmt.Errorf("error acquiring database connection: %w", err))
	}
	log.WithField("driver", driverName).Debug("connected to database")
	return &session{db: db, conn: conn, driver: driverName}, nil
}

// dataSource determines the driver and data source name of a connection,
// folding the separately configured credentials into the data source name.
func dataSource(cfg *databaseConfig) (driverName, dsn string, err error) {
	mode, err := normalizeConnectionMode(cfg.ConnectionMode)
	if err != nil {
		return "", "", err
	}

	var u, parseErr = url.Parse(cfg.ConnectionString)
	var isURL = parseErr == nil && u.Scheme != "" && strings.Contains(cfg.ConnectionString, "://")

	driverName = cfg.ConnectionDriver
	if driverName == "" {
		if mode == modeBridge {
			return "", "", fmt.Errorf("bridge-protocol mode requires 'connection_driver'")
		} else if !isURL {
			return "", "", fmt.Errorf("cannot infer the database driver from the connection string: set 'connection_driver' or use a URL like postgres://host/db")
		}
		var ok bool
		if driverName, ok = nativeDrivers[strings.ToLower(u.Scheme)]; !ok {
			return "", "", fmt.Errorf("unsupported connection string scheme %q", u.Scheme)
		}
	}

	switch {
	case isURL && driverName == "mysql":
		dsn, err = mysqlDataSource(u, cfg.User, cfg.Password)
	case driverName == "mysql":
		dsn, err = mysqlWithCredentials(cfg.ConnectionString, cfg.User, cfg.Password)
	case isURL && driverName == "snowflake":
		// user:password@account/database/schema?params
		dsn = strings.TrimPrefix(urlWithCredentials(u, cfg.User, cfg.Password), u.Scheme+"://")
	case isURL && driverName == "trino":
		dsn = trinoDataSource(u, cfg.User, cfg.Password)
	case isURL:
		dsn = urlWithCredentials(u, cfg.User, cfg.Password)
	case driverName == "pgx":
		dsn = pgKeywordsWithCredentials(cfg.ConnectionString, cfg.User, cfg.Password)
	default:
		dsn, err = keywordsWithCredentials(cfg.ConnectionString, cfg.User, cfg.Password)
	}
	if err != nil {
		return "", "", err
	}
	return driverName, dsn, nil
}

// urlWithCredentials adds the user and password to a connection URL, unless
// the URL carries its own.
func urlWithCredentials(u *url.URL, user, password string) string {
	if user == "" || u.User != nil {
		return u.String()
	}
	var withUser = *u
	if password != "" {
		withUser.User = url.UserPassword(user, password)
	} else {
		withUser.User = url.User(user)
	}
	return withUser.String()
}

// keywordsWithCredentials appends the user and password to a
// semicolon-separated keyword connection string, as used by ODBC-style and
// DB2 drivers.
func keywordsWithCredentials(dsn, user, password string) (string, error) {
	if user == "" && password == "" {
		return dsn, nil
	} else if !strings.Contains(dsn, "=") {
		return "", fmt.Errorf("cannot add 'user' and 'password' to the connection string: include them in the connection string instead")
	}
	return strings.TrimRight(dsn, ";") + fmt.Sprintf(";UID=%s;PWD=%s", user, password), nil
}

// pgKeywordsWithCredentials appends the user and password to a PostgreSQL
// keyword/value connection string such as "host=db dbname=audit".
func pgKeywordsWithCredentials(dsn, user, password string) string {
	var quote = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	if user != "" {
		dsn += fmt.Sprintf(" user='%s'", quote.Replace(user))
	}
	if password != "" {
		dsn += fmt.Sprintf(" password='%s'", quote.Replace(password))
	}
	return strings.TrimSpace(dsn)
}

// mysqlWithCredentials fills in the user and password of a DSN in the native
// format of the MySQL driver, unless the DSN carries its own.
func mysqlWithCredentials(dsn, user, password string) (string, error) {
	var cfg, err = mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string: %w", err)
	}
	if cfg.User == "" {
		cfg.User, cfg.Passwd = user, password
	}
	return cfg.FormatDSN(), nil
}

// trinoDataSource converts a trino:// URL into the HTTP(S) URL understood by
// the Trino driver. Plain trino:// connects over HTTPS, since Trino accepts
// passwords only on encrypted connections; trino+http:// connects without TLS.
func trinoDataSource(u *url.URL, user, password string) string {
	var withScheme = *u
	if strings.EqualFold(u.Scheme, "trino+http") {
		withScheme.Scheme = "http"
	} else {
		withScheme.Scheme = "https"
	}
	return urlWithCredentials(&withScheme, user, password)
}

// mysqlDataSource converts a mysql:// URL into the DSN format of the MySQL
// driver. Query parameters are interpreted as driver parameters.
func mysqlDataSource(u *url.URL, user, password string) (string, error) {
	var dsn = "/" + strings.TrimPrefix(u.Path, "/")
	if u.RawQuery != "" {
		dsn += "?" + u.RawQuery
	}
	var cfg, err = mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string: %w", err)
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	} else {
		cfg.User, cfg.Passwd = user, password
	}
	if !u.Query().Has("parseTime") {
		cfg.ParseTime = true
	}
	return cfg.FormatDSN(), nil
}

// resolveDriverPath lists the locations of bridge-protocol driver libraries.
// Configured locations must exist. Default locations are used only if present.
func resolveDriverPath(cfg *databaseConfig) ([]string, error) {
	if cfg.Classpath == "" {
		var paths []string
		for _, p := range []string{filepath.Join(executableDir(), "drivers")} {
			if _, err := os.Stat(p); err == nil {
				paths = append(paths, p)
			}
		}
		return paths, nil
	}

	var paths []string
	for _, p := range filepath.SplitList(cfg.Classpath) {
		if p == "" {
			continue
		}
		var abs, err = filepath.Abs(p)
		if err != nil {
			return nil, cerrors.NewConfigError(fmt.Errorf("resolving driver path %q: %w", p, err))
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, cerrors.NewConfigError(fmt.Errorf("driver path %q: %w", p, err))
		}
		paths = append(paths, abs)
	}
	return paths, nil
}

// exportDriverPath publishes the driver search path of a bridge-protocol
// connection through the configured environment variable, ahead of any
// locations already listed there. The dynamic loader of this process read its
// environment at exec, so the export reaches only processes started from here
// on, such as driver managers and helpers which a driver spawns.
func exportDriverPath(cfg *databaseConfig) error {
	if cfg.ConnectionMode != modeBridge {
		return nil
	}
	var paths, err = resolveDriverPath(cfg)
	if err != nil {
		return err
	} else if len(paths) == 0 {
		log.Debug("no driver path to export")
		return nil
	}
	if existing := os.Getenv(cfg.ClasspathEnv); existing != "" {
		paths = append(paths, existing)
	}
	var value = strings.Join(paths, string(os.PathListSeparator))
	if err := os.Setenv(cfg.ClasspathEnv, value); err != nil {
		return cerrors.NewConfigError(fmt.Errorf("exporting %s: %w", cfg.ClasspathEnv, err))
	}
	log.WithFields(log.Fields{"var": cfg.ClasspathEnv, "value": value}).Info("exported driver path for child processes")
	return nil
}
