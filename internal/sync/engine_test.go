package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/model"
)

func testEngine(t *testing.T) (*Engine, *docstore.DB) {
	t.Helper()
	db, err := docstore.Open(filepath.Join(t.TempDir(), "store.db"), bus.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	cache := NewCache()
	writer := NewWriter(db, logger)
	rec := NewReconciler(db, cache, writer)
	engine := NewEngine(db, bus.New(), cache, writer, rec, 50, logger)
	t.Cleanup(engine.Close)
	return engine, db
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func seedUser(t *testing.T, db *docstore.DB, id, name string) {
	t.Helper()
	ctx := context.Background()
	body := []byte(`{"name":"` + name + `","handle":"` + name + `@vchat.dev"}`)
	if err := db.Set(ctx, model.UsersCollection, id, body); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestCacheTracksLastSnapshot(t *testing.T) {
	engine, db := testEngine(t)
	seedUser(t, db, "u1", "ana")
	engine.Start("u1")

	eventually(t, "user directory", func() bool {
		return len(engine.Cache().Users()) == 1
	})

	seedUser(t, db, "u2", "bruno")
	eventually(t, "directory refresh", func() bool {
		users := engine.Cache().Users()
		return len(users) == 2 && users[0].Name == "ana" && users[1].Name == "bruno"
	})
}

func TestSendMessagePendingLifecycle(t *testing.T) {
	engine, db := testEngine(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "ana")
	seedUser(t, db, "u2", "bruno")
	engine.Start("u1")

	chat, err := engine.Reconciler().EnsureDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	engine.OpenChat(chat.ID)

	eventually(t, "seed message", func() bool {
		return len(engine.Cache().Messages(chat.ID)) == 1
	})

	if err := engine.Writer().SendMessage(ctx, chat.ID, "u1", "hello"); err != nil {
		t.Fatal(err)
	}

	var pendingID string
	eventually(t, "pending message", func() bool {
		for _, m := range engine.Cache().Messages(chat.ID) {
			if m.Data().Text == "hello" && m.Pending() {
				pendingID = m.Data().ID
				return true
			}
		}
		return false
	})

	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "confirmed message", func() bool {
		for _, m := range engine.Cache().Messages(chat.ID) {
			if m.Data().Text == "hello" {
				return !m.Pending() && m.Data().ID == pendingID
			}
		}
		return false
	})
}

func TestOpenChatSwitchReleasesPrevious(t *testing.T) {
	engine, db := testEngine(t)
	ctx := context.Background()
	engine.Start("u1")

	first, err := engine.Reconciler().EnsureDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Reconciler().EnsureDirectChat(ctx, "u1", "u3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	engine.OpenChat(first.ID)
	eventually(t, "first chat messages", func() bool {
		return len(engine.Cache().Messages(first.ID)) == 1
	})

	engine.OpenChat(second.ID)
	if msgs := engine.Cache().Messages(first.ID); len(msgs) != 0 {
		t.Errorf("previous chat timeline not released: %d messages", len(msgs))
	}
	eventually(t, "second chat messages", func() bool {
		return len(engine.Cache().Messages(second.ID)) == 1
	})

	engine.CloseChat()
	if msgs := engine.Cache().Messages(second.ID); len(msgs) != 0 {
		t.Errorf("closed chat timeline not released: %d messages", len(msgs))
	}
}

func TestClosedChatFeedCannotRepopulateCache(t *testing.T) {
	engine, db := testEngine(t)
	ctx := context.Background()
	engine.Start("u1")

	chat, err := engine.Reconciler().EnsureDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	engine.OpenChat(chat.ID)
	eventually(t, "chat messages", func() bool {
		return len(engine.Cache().Messages(chat.ID)) == 1
	})

	// Writes landing around the close may still be in flight on the feed
	// goroutine; none of them may resurrect the dropped timeline.
	if err := engine.Writer().SendMessage(ctx, chat.ID, "u1", "late"); err != nil {
		t.Fatal(err)
	}
	engine.CloseChat()
	if _, err := db.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if msgs := engine.Cache().Messages(chat.ID); len(msgs) != 0 {
			t.Fatalf("closed chat timeline repopulated: %d messages", len(msgs))
		}
		if _, ok := engine.Cache().ActiveChat(); ok {
			t.Fatal("active chat projection restored after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopClearsCache(t *testing.T) {
	engine, db := testEngine(t)
	seedUser(t, db, "u1", "ana")
	engine.Start("u1")

	eventually(t, "user directory", func() bool {
		return len(engine.Cache().Users()) == 1
	})

	engine.Stop()
	if users := engine.Cache().Users(); len(users) != 0 {
		t.Errorf("cache not cleared on stop: %d users", len(users))
	}
	if chats := engine.Cache().Chats(); len(chats) != 0 {
		t.Errorf("cache not cleared on stop: %d chats", len(chats))
	}
}
