// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to
// distinguish between different failure scenarios without inspecting
// driver specific errors. For example, ErrNotFound indicates that no row
// matched, while ErrLoginKeyExists signals a unique constraint violation
// on users.login_key.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrLoginKeyExists is returned when registering a login key that is
// already taken.
var ErrLoginKeyExists = errors.New("login key already exists")

// ErrConflict is returned when an insert collides with a unique key other
// than the login key, such as a generated order public id.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a unique constraint violation on
// either supported driver.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows onto ErrNotFound and leaves other errors as is.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
