// Backend error normalization into the shared taxonomy.
package client

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/quillsql/quill/dberr"
)

// Normalize classifies a backend error into the shared taxonomy. Already
// classified errors and unrecognized errors pass through unchanged.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var classified *dberr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return dberr.Wrap(dberr.DoesNotExist, "no rows matched", err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) {
		return dberr.Wrap(dberr.Interface, "connection unusable", err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		return dberr.Wrap(sqliteKind(se), "sqlite", err)
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return dberr.Wrap(postgresKind(string(pe.Code)), "postgres", err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return dberr.Wrap(mysqlKind(me.Number), "mysql", err)
	}
	return err
}

func sqliteKind(e sqlite3.Error) dberr.Kind {
	switch e.Code {
	case sqlite3.ErrConstraint:
		return dberr.Integrity
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return dberr.Operational
	case sqlite3.ErrError:
		// Generic SQL error: syntax, unknown table or column.
		return dberr.Programming
	case sqlite3.ErrMismatch:
		return dberr.Data
	case sqlite3.ErrCorrupt, sqlite3.ErrInternal:
		return dberr.Internal
	default:
		return dberr.Operational
	}
}

// postgresKind maps SQLSTATE classes to taxonomy kinds
func postgresKind(code string) dberr.Kind {
	if len(code) < 2 {
		return dberr.Operational
	}
	switch code[:2] {
	case "23":
		return dberr.Integrity
	case "22":
		return dberr.Data
	case "42":
		return dberr.Programming
	case "0A":
		return dberr.NotSupported
	case "08":
		return dberr.Interface
	case "53", "57", "58":
		return dberr.Operational
	case "XX":
		return dberr.Internal
	default:
		return dberr.Operational
	}
}

// mysqlKind maps MySQL error numbers to taxonomy kinds
func mysqlKind(n uint16) dberr.Kind {
	switch n {
	case 1048, 1062, 1216, 1217, 1451, 1452:
		return dberr.Integrity
	case 1054, 1064, 1146:
		return dberr.Programming
	case 1205, 1213:
		return dberr.Operational
	case 1265, 1366:
		return dberr.Data
	default:
		return dberr.Operational
	}
}
