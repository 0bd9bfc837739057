package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes worth retrying.
var retryablePGCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// MySQL error numbers worth retrying.
var retryableMySQLCodes = map[uint16]bool{
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
}

// Message fragments for drivers without typed errors (sqlite) and for
// wrapped network failures.
var retryableMessages = []string{
	"deadlock",
	"serialization failure",
	"could not serialize access",
	"lock wait timeout",
	"database is locked",
	"connection reset",
	"connection refused",
	"broken pipe",
}

// IsRetryable reports whether a failed transaction may succeed when run
// again unchanged.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePGCodes[pgErr.Code]
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return retryableMySQLCodes[myErr.Number]
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
