package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsBusyError returns true if the error is a SQLITE_BUSY error.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_BUSY
	}
	return false
}

// IsCorruptionError returns true if the error indicates database corruption.
func IsCorruptionError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database")
}

// IsNotFoundError returns true if the error is a "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// QuarantineDatabase moves a corrupt database file and its WAL/SHM siblings
// aside so a fresh one can be created. Notice history is disposable, so the
// caller reopens without attempting repair.
func QuarantineDatabase(dbPath string) (string, error) {
	backup := fmt.Sprintf("%s.corrupt.%s", dbPath, time.Now().Format("20060102-150405"))

	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(dbPath+suffix, backup+suffix)
		if err == nil || os.IsNotExist(err) {
			continue
		}
		// A stale WAL or SHM that cannot be moved must at least be removed,
		// otherwise SQLite pairs it with the new file.
		if suffix != "" {
			if rmErr := os.Remove(dbPath + suffix); rmErr == nil {
				continue
			}
		}
		return "", fmt.Errorf("quarantine %s: %w", dbPath+suffix, err)
	}

	return backup, nil
}
