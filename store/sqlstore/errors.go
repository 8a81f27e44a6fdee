package sqlstore

import (
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/warp/lottery-engine/lottery"
	"github.com/warp/lottery-engine/retry"
)

// MySQL server error numbers treated as transient.
const (
	mysqlTooManyConnections = 1040
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlDuplicateEntry     = 1062
)

// IsTransient reports whether err is a storage fault worth retrying:
// MySQL too-many-connections, lock-wait timeout, deadlock and invalid
// connection; SQLite busy and locked; plus everything
// retry.DefaultClassifier recognises. Lottery domain errors are never
// transient.
func IsTransient(err error) bool {
	if err == nil || lottery.IsDomainError(err) {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlLockWaitTimeout, mysqlDeadlock:
			return true
		}
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return retry.DefaultClassifier(err)
}

// isDuplicate reports a unique or primary key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
