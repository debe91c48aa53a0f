package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Set journals a full-document write. The write is visible to this client's
// subscriptions immediately, with HasPendingWrites set, and becomes durable
// on the next flush. Works offline.
func (db *DB) Set(_ context.Context, collection, id string, data []byte) error {
	if !json.Valid(data) {
		return newError(CodeFailedPrecondition, "set", errInvalidJSON)
	}
	return db.journal("set", collection, id, data)
}

// Add journals a new document with a store-issued id, returned synchronously
// so callers can navigate to the record before it is durable.
func (db *DB) Add(_ context.Context, collection string, data []byte) (string, error) {
	if !json.Valid(data) {
		return "", newError(CodeFailedPrecondition, "add", errInvalidJSON)
	}
	id := uuid.NewString()
	if err := db.journal("add", collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Update journals a partial write. Only the fields present in patch are
// merged into the document; the update is dropped at commit time if the
// document no longer exists.
func (db *DB) Update(_ context.Context, collection, id string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return newError(CodeFailedPrecondition, "update", err)
	}
	return db.journal("update", collection, id, body)
}

// Delete journals a document removal.
func (db *DB) Delete(_ context.Context, collection, id string) error {
	return db.journal("delete", collection, id, []byte("{}"))
}

// Get reads a single committed document. It models an authoritative server
// read: journaled writes are not visible and it fails unavailable while
// offline. Returns (nil, nil) when the document does not exist.
func (db *DB) Get(_ context.Context, collection, id string) (*Doc, error) {
	if !db.online.Load() {
		return nil, newError(CodeUnavailable, "get", nil)
	}
	var body string
	err := db.sql.QueryRow(`SELECT body FROM documents WHERE collection = ? AND doc_id = ?`,
		collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQL("get", err)
	}
	return &Doc{ID: id, Data: []byte(body)}, nil
}

// GetAll evaluates a one-shot query against the local view, journal included.
func (db *DB) GetAll(_ context.Context, q Query) (Snapshot, error) {
	return db.evaluate(q)
}

func (db *DB) journal(op, collection, docID string, body []byte) error {
	_, err := db.sql.Exec(`
		INSERT INTO pending_writes (collection, doc_id, op, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		collection, docID, op, string(body), time.Now().UnixMilli())
	if err != nil {
		return wrapSQL("journal "+op, err)
	}
	db.publish(collection)
	return nil
}

func (db *DB) publish(collection string) {
	if db.bus == nil {
		return
	}
	db.bus.Emit("store."+collection, nil)
}

// wrapSQL maps driver errors to coded store errors. A missing table means
// the store was never provisioned (migrations not run), which callers
// surface as a configuration problem.
func wrapSQL(op string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return newError(CodeNotFound, op, err)
	}
	return newError(CodeFailedPrecondition, op, err)
}

var errInvalidJSON = errors.New("body is not valid JSON")
