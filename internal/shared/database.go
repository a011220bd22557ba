package shared

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultBusyTimeoutMS is how long sqlite waits on a locked database before returning SQLITE_BUSY.
const DefaultBusyTimeoutMS = 5000

// NewDatabase opens a connection to a SQLite database at the specified path.
// The path can be ":memory:" for an in-memory database.
// File databases are opened in WAL mode so checksum reads never wait on the sync writer.
// Returns an open database connection or an error if connection fails.
func NewDatabase(path string) (*sql.DB, error) {
	return OpenDatabase(path, DefaultBusyTimeoutMS)
}

// OpenDatabase is [NewDatabase] with an explicit busy timeout.
func OpenDatabase(path string, busyTimeoutMS int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path, busyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func dsn(path string, busyTimeoutMS int) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = DefaultBusyTimeoutMS
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, busyTimeoutMS)
}

// ConfigureDatabase sets connection pool settings for the database.
// Recommended for production use to limit connections and improve performance.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
}
