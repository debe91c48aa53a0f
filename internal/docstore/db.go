package docstore

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/vchat-dev/vchat/internal/bus"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the sqlite-backed document store. Writes land in a pending_writes
// journal first and are flushed into the documents table by the commit loop;
// subscriptions observe both, so a client sees its own writes immediately
// with HasPendingWrites set.
type DB struct {
	sql    *sql.DB
	bus    *bus.Bus
	logger *zap.Logger
	online atomic.Bool
	loop   loopState
}

// Open creates a new sqlite connection with WAL mode and recommended pragmas.
// The store starts online.
func Open(path string, b *bus.Bus, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db := &DB{sql: sqlDB, bus: b, logger: logger}
	db.online.Store(true)
	return db, nil
}

// Online reports current connectivity toward the durable store.
func (db *DB) Online() bool {
	return db.online.Load()
}

// SetOnline flips connectivity. While offline the commit loop idles, Get
// fails unavailable, and journaled writes accumulate; going back online
// lets the next flush drain them with no caller intervention.
func (db *DB) SetOnline(v bool) {
	db.online.Store(v)
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.sql.Close()
}
