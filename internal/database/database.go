package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/digkill/TGAssistantBot/internal/config"
)

// Dialect captures the few statements that differ between the supported drivers.
type Dialect string

const (
	SQLite Dialect = config.DriverSQLite
	MySQL  Dialect = config.DriverMySQL
)

// InsertIgnore returns the insert verb that skips rows violating a unique key.
func (d Dialect) InsertIgnore() string {
	if d == MySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// Connect opens the configured database with sensible pooling defaults.
func Connect(cfg config.Config) (*sql.DB, Dialect, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		db, err := openMySQL(cfg.DatabaseDSN, cfg.Location)
		return db, MySQL, err
	default:
		db, err := OpenSQLite(cfg.DatabaseDSN)
		return db, SQLite, err
	}
}

// OpenSQLite opens a SQLite database file. SQLite works best with a single
// writer connection, so the pool is capped at one.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn += sep + url.Values{
		"_pragma": []string{
			"busy_timeout(10000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func openMySQL(dsn string, loc *time.Location) (*sql.DB, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	if loc != nil {
		parsed.Loc = loc
	}

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return db.PingContext(ctx)
}

// Migrate runs the bootstrap schema to ensure required tables exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	statements := sqliteSchema
	if dialect == MySQL {
		statements = mysqlSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
