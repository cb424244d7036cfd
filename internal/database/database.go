package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/microsoft/go-mssqldb"
)

type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectDuckDB    Dialect = "duckdb"
	DialectSQLServer Dialect = "sqlserver"
)

// CurrentSchemaExpr is the SQL expression naming the schema unqualified
// table names resolve to.
func (d Dialect) CurrentSchemaExpr() string {
	if d == DialectSQLServer {
		return "SCHEMA_NAME()"
	}
	return "current_schema()"
}

func (d Dialect) SupportsReadOnlyTx() bool {
	return d == DialectPostgres
}

// StatementTimeoutSQL returns the transaction-scoped statement that bounds
// server-side execution time, or "" when the dialect has none.
func (d Dialect) StatementTimeoutSQL(timeout time.Duration) string {
	if d != DialectPostgres || timeout <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())
}

type Target struct {
	DriverName     string
	DataSourceName string
	Dialect        Dialect
}

func ParseURI(uri string) (Target, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Target{}, fmt.Errorf("database uri is required")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return Target{}, fmt.Errorf("parse database uri: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return Target{DriverName: "pgx", DataSourceName: uri, Dialect: DialectPostgres}, nil
	case "duckdb":
		// duckdb:///abs/path.db, duckdb://rel/path.db and duckdb:// (in-memory).
		path := strings.TrimPrefix(uri[len(parsed.Scheme):], "://")
		// File databases open read-only unless the uri picks a mode. DuckDB
		// refuses read-only in-memory databases.
		if path != "" && !strings.Contains(path, "access_mode=") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			path += sep + "access_mode=read_only"
		}
		return Target{DriverName: "duckdb", DataSourceName: path, Dialect: DialectDuckDB}, nil
	case "sqlserver":
		return Target{DriverName: "sqlserver", DataSourceName: uri, Dialect: DialectSQLServer}, nil
	case "":
		return Target{}, fmt.Errorf("database uri %q has no scheme", redact(parsed))
	default:
		return Target{}, fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

type DBConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, Dialect, error) {
	target, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(target.DriverName, target.DataSourceName)
	if err != nil {
		return nil, "", fmt.Errorf("open %s db: %w", target.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s db: %w", target.Dialect, err)
	}

	return db, target.Dialect, nil
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	return u.Redacted()
}
