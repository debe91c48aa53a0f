package docstore

import (
	"context"
	"fmt"
)

// ServerTimestamp is a sentinel field value. A write may set any top-level
// field to it; the value is replaced with the commit-time unix-millisecond
// timestamp when the journaled write is flushed into the durable table.
// Snapshots that include the write before it commits see a local estimate.
const ServerTimestamp = "__server_timestamp__"

// Doc is a single document in a snapshot. Data is the raw JSON body.
// HasPendingWrites is true while the document reflects a journaled local
// write that has not yet been committed — it is the only source of truth
// for the UI-visible pending state of optimistic writes.
type Doc struct {
	ID               string
	Data             []byte
	HasPendingWrites bool
}

// Snapshot is the complete current result set for a query. Consumers must
// treat every snapshot as authoritative and replace prior state, not merge.
type Snapshot struct {
	Docs []Doc
}

// FieldFilter matches a document field against a value.
type FieldFilter struct {
	Field string
	Value string
}

// Query describes a predicate over one collection: an optional single
// document id, an optional equality or array-membership filter, an optional
// sort key and an optional row limit.
type Query struct {
	Collection    string
	DocID         string
	FieldEquals   *FieldFilter
	ArrayContains *FieldFilter
	OrderBy       string
	Descending    bool
	Limit         int
}

// Store is the document store contract the sync engine depends on.
// Writes are journaled locally first and acknowledged asynchronously;
// subscriptions deliver wholesale snapshots in arrival order, serialized
// per subscription.
type Store interface {
	// Get reads a single document from the durable store. Returns (nil, nil)
	// when the document does not exist. Fails with an unavailable-coded
	// error while offline: it models an authoritative server read.
	Get(ctx context.Context, collection, id string) (*Doc, error)
	// GetAll evaluates a one-shot query against the local view, including
	// journaled writes. Works offline.
	GetAll(ctx context.Context, q Query) (Snapshot, error)
	Set(ctx context.Context, collection, id string, data []byte) error
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// Add creates a document with a store-issued id, returned synchronously.
	Add(ctx context.Context, collection string, data []byte) (string, error)
	Delete(ctx context.Context, collection, id string) error
	// Subscribe opens a change feed for q. onSnapshot is invoked with the
	// full current result set, once immediately and once per subsequent
	// change. onError terminates the feed; the caller may resubscribe.
	// The returned unsubscribe function is safe to call more than once.
	Subscribe(q Query, onSnapshot func(Snapshot), onError func(error)) func()
}

// Code is a machine-readable error category, inspected by the fault
// classifier before any message matching.
type Code string

const (
	CodeUnavailable        Code = "unavailable"
	CodePermissionDenied   Code = "permission-denied"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeNotFound           Code = "not-found"
	CodeAlreadyExists      Code = "already-exists"
	CodeFailedPrecondition Code = "failed-precondition"
)

// Error is a coded document store error.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("docstore: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("docstore: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}
