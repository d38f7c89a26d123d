package database

import (
	"database/sql"
)

// Queryable is the common query surface shared by *sqlx.DB and
// *sqlx.Tx, allowing store methods to run either standalone or as part
// of a wider transaction.
type Queryable interface {
	Exec(query string, args ...any) (sql.Result, error)
	NamedExec(query string, arg any) (sql.Result, error)
	Select(dest any, query string, args ...any) error
	Get(dest any, query string, args ...any) error
	Rebind(query string) string
}
