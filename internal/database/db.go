package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported values for Options.Driver.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options describes how to reach the relational store.  For MySQL the
// individual connection fields are used; for SQLite only Path matters.
type Options struct {
	Driver string
	User   string
	Pass   string
	Host   string
	Port   string
	Name   string
	Path   string
}

// Open connects to the configured database and verifies the connection.
func Open(opts Options) (*sql.DB, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		return openMySQL(opts.User, opts.Pass, opts.Host, opts.Port, opts.Name)
	case DriverSQLite:
		return openSQLite(opts.Path)
	}
	return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
}

func openMySQL(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, ping(db)
}

// openSQLite opens a single-connection pool.  SQLite serializes writers
// anyway, and one connection keeps transactions from tripping over
// SQLITE_BUSY.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "bundle-store.db"
	}
	dsn := "file:" + path + "?_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, ping(db)
}

func ping(db *sql.DB) error {
	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	return nil
}
