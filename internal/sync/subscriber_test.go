package sync

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
)

// A feed whose evaluation starts failing must report one classified fault
// and then stay silent; the last delivered snapshot remains the cache's
// truth instead of being cleared.
func TestFeedFaultKeepsLastSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	b := bus.New()
	db, err := docstore.Open(path, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.Set(ctx, model.UsersCollection, "u1", []byte(`{"name":"ana"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	cache := NewCache()
	faultCh := make(chan *faults.Fault, 4)
	sub := Subscribe(db, docstore.Query{
		Collection: model.UsersCollection,
		OrderBy:    "name",
	}, zap.NewNop(), func(snap docstore.Snapshot) {
		users := make([]model.User, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			users = append(users, model.UserFromDoc(doc))
		}
		cache.SetUsers(users)
	}, func(f *faults.Fault) {
		faultCh <- f
	})
	t.Cleanup(sub.Close)

	eventually(t, "initial snapshot", func() bool {
		return len(cache.Users()) == 1
	})

	// Pull the table out from under the store, as an unprovisioned or
	// corrupted database would present, and wake the feed.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(`DROP TABLE documents`); err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()
	b.Emit("store."+model.UsersCollection, nil)

	var fault *faults.Fault
	select {
	case fault = <-faultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed fault")
	}
	if fault.Kind != faults.NotConfigured {
		t.Errorf("fault kind = %s, want NOT_CONFIGURED", fault.Kind)
	}

	// The feed is terminal: no retry, no second fault, and no delivery
	// that would clear the last good snapshot.
	b.Emit("store."+model.UsersCollection, nil)
	select {
	case extra := <-faultCh:
		t.Errorf("feed reported a second fault after terminating: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if users := cache.Users(); len(users) != 1 || users[0].Name != "ana" {
		t.Errorf("last snapshot not preserved after fault: %+v", users)
	}

	sub.Close()
	sub.Close()
}
