package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens (and creates) the SQLite catalogue at path.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalogue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY between
	// the recorder and the status API.
	db.SetMaxOpenConns(1)

	if err := enableForeignKeys(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewInMemoryDB creates a new in-memory SQLite database for testing
func NewInMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)

	if err := enableForeignKeys(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func enableForeignKeys(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// storedTimeLayout keeps all nine fractional digits so stored values sort lexically.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TimeToString converts a time.Time to a fixed-width UTC string for database storage
func TimeToString(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// StringToTime converts an RFC3339Nano string from database to time.Time
func StringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// BoolToInt converts a boolean to integer for database storage (1 for true, 0 for false)
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IntToBool converts an integer from database to boolean (1 = true, 0 = false)
func IntToBool(i int) bool {
	return i == 1
}
