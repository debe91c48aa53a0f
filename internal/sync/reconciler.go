package sync

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
)

// Reconciler resolves "chat with user X" to a concrete chat document,
// creating one only when no existing chat qualifies. Concurrent requests
// for the same pair inside one process are collapsed so at most one chat
// is created; two separate clients racing can still each create one, and
// both survive (the feed shows both, the UI keeps using the one it got).
type Reconciler struct {
	store  docstore.Store
	cache  *Cache
	writer *Writer
	group  singleflight.Group
}

func NewReconciler(store docstore.Store, cache *Cache, writer *Writer) *Reconciler {
	return &Reconciler{store: store, cache: cache, writer: writer}
}

// FindDirectChat looks for an existing one-on-one chat between selfID and
// otherID: first in the cached chat list, then with a one-shot query so a
// chat the feed has not delivered yet is still found.
func (r *Reconciler) FindDirectChat(ctx context.Context, selfID, otherID string) (model.Chat, bool, error) {
	if chat, ok := r.cache.DirectChatWith(selfID, otherID); ok {
		return chat, true, nil
	}

	snap, err := r.store.GetAll(ctx, docstore.Query{
		Collection:    model.ChatsCollection,
		ArrayContains: &docstore.FieldFilter{Field: "participants", Value: selfID},
	})
	if err != nil {
		return model.Chat{}, false, faults.Classify(err)
	}
	for _, doc := range snap.Docs {
		chat := model.ChatFromDoc(doc)
		if chat.IsDirectBetween(selfID, otherID) {
			return chat, true, nil
		}
	}
	return model.Chat{}, false, nil
}

// EnsureDirectChat returns the one-on-one chat between selfID and otherID,
// creating it when none exists. Safe to call concurrently for the same pair.
func (r *Reconciler) EnsureDirectChat(ctx context.Context, selfID, otherID string) (model.Chat, error) {
	key := pairKey(selfID, otherID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		chat, ok, err := r.FindDirectChat(ctx, selfID, otherID)
		if err != nil {
			return model.Chat{}, err
		}
		if ok {
			return chat, nil
		}
		return r.writer.CreateDirectChat(ctx, selfID, otherID)
	})
	if err != nil {
		return model.Chat{}, err
	}
	return v.(model.Chat), nil
}

func pairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "\x00" + b
}
