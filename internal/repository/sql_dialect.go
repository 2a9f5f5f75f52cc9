package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mkowalczyk/taxflow/internal/config"
	"github.com/mkowalczyk/taxflow/internal/core"
)

// placeholder returns the correct bind variable for the given index based on
// DB type. Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// nowExpr formats the clock's current time in UTC as a quoted SQL timestamp
// literal in the precision the dialect stores.
func nowExpr(clock core.Clock) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_SQLLITE:
		return fmt.Sprintf("'%s'", clock.Now().UTC().Format("2006-01-02 15:04:05.000"))
	default:
		return fmt.Sprintf("'%s'", clock.Now().UTC().Format("2006-01-02 15:04:05.000000"))
	}
}

// dateBeforeNow returns a dialect-specific predicate checking that the given
// datetime column is not after the current time. SQLite needs julianday() so
// TEXT timestamps compare as dates rather than strings.
func dateBeforeNow(column string, clock core.Clock) string {
	now := clock.Now().UTC().Format("2006-01-02 15:04:05.000")

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s <= '%s'", column, now)
	default:
		return fmt.Sprintf("julianday(%s) <= julianday('%s')", column, now)
	}
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

// insertReturningID runs an INSERT and reports the generated id, using
// RETURNING where the dialect supports it and LastInsertId otherwise.
func insertReturningID(db *sql.DB, query string, args ...interface{}) (int64, error) {
	if supportsReturning() {
		var id int64
		err := db.QueryRow(query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
