package loader

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// Config holds destination connection settings. Credentials come from the
// environment.
type Config struct {
	Dialect   Dialect
	Server    string
	Port      int
	Database  string
	Schema    string
	Username  string
	Password  string
	SSLMode   string
	Warehouse string
}

// PostgresDSN builds a postgres:// URL. The username and password are
// escaped, so credentials containing '@', '/' or ':' are safe.
func PostgresDSN(cfg Config) string {
	host := cfg.Server
	if cfg.Port != 0 {
		host = net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	}
	q := url.Values{}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}
	q.Set("sslmode", sslmode)
	if cfg.Schema != "" {
		q.Set("search_path", cfg.Schema)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     host,
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SnowflakeDSN builds a gosnowflake DSN. Server is the account identifier.
func SnowflakeDSN(cfg Config) (string, error) {
	sc := &gosnowflake.Config{
		Account:   cfg.Server,
		User:      cfg.Username,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	}
	if cfg.Port != 0 {
		sc.Port = cfg.Port
	}
	return gosnowflake.DSN(sc)
}

// Open connects to the destination and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	var (
		driver, dsn string
		err         error
	)
	switch cfg.Dialect {
	case Postgres:
		driver, dsn = "postgres", PostgresDSN(cfg)
	case Snowflake:
		driver = "snowflake"
		dsn, err = SnowflakeDSN(cfg)
		if err != nil {
			return nil, fmt.Errorf("build snowflake DSN: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// One cell is loaded at a time; the run lock may pin a second connection.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s at %s: %w", driver, cfg.Server, err)
	}
	return db, nil
}
