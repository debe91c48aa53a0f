// Package sync materializes the remote document store into local
// projections: live queries deliver wholesale snapshots, a cache holds the
// latest one per predicate, and writers journal optimistic changes that the
// feeds later confirm.
package sync

import (
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/model"
)

// Engine composes the subscriber, cache, writer and reconciler into the
// session-scoped sync lifecycle. A session start opens the directory and
// chat-list feeds; opening a chat adds the per-view feeds; a session end
// tears everything down and wipes the cache.
type Engine struct {
	store    docstore.Store
	bus      *bus.Bus
	cache    *Cache
	writer   *Writer
	rec      *Reconciler
	logger   *zap.Logger
	pageSize int

	mu        stdsync.Mutex
	selfID    string
	usersFeed *Subscriber
	chatsFeed *Subscriber
	view      *chatView
	unbind    func()
}

// chatView is the feed set backing one open chat: its message timeline,
// its own document, and (for direct chats) the other participant.
type chatView struct {
	chatID   string
	messages *Subscriber
	chatDoc  *Subscriber
	peer     *Subscriber
}

func NewEngine(store docstore.Store, b *bus.Bus, cache *Cache, writer *Writer,
	rec *Reconciler, pageSize int, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		bus:      b,
		cache:    cache,
		writer:   writer,
		rec:      rec,
		logger:   logger,
		pageSize: pageSize,
	}
}

func (e *Engine) Cache() *Cache           { return e.cache }
func (e *Engine) Writer() *Writer         { return e.writer }
func (e *Engine) Reconciler() *Reconciler { return e.rec }

// Bind ties the engine's lifecycle to session changes. onSessionChange must
// invoke its handler once immediately and on every subsequent change.
func (e *Engine) Bind(onSessionChange func(func(*model.User)) func()) {
	e.unbind = onSessionChange(func(user *model.User) {
		if user == nil {
			e.Stop()
		} else {
			e.Start(user.ID)
		}
		e.publish("session.changed", user)
	})
}

// Start opens the session-scoped feeds for selfID. Starting again with the
// same id is a no-op; a different id restarts the feeds.
func (e *Engine) Start(selfID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selfID == selfID && e.usersFeed != nil {
		return
	}
	e.stopLocked()
	e.selfID = selfID

	e.usersFeed = Subscribe(e.store, docstore.Query{
		Collection: model.UsersCollection,
		OrderBy:    "name",
		Limit:      e.pageSize,
	}, e.logger, func(snap docstore.Snapshot) {
		users := make([]model.User, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			users = append(users, model.UserFromDoc(doc))
		}
		e.cache.SetUsers(users)
		e.refreshActivePeer()
		e.publish("user.updated", len(users))
	}, nil)

	e.chatsFeed = Subscribe(e.store, docstore.Query{
		Collection:    model.ChatsCollection,
		ArrayContains: &docstore.FieldFilter{Field: "participants", Value: selfID},
		OrderBy:       "lastMessageTime",
		Descending:    true,
	}, e.logger, func(snap docstore.Snapshot) {
		chats := make([]model.Chat, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			chats = append(chats, model.ChatFromDoc(doc))
		}
		e.cache.SetChats(chats)
		e.publish("chat.updated", len(chats))
	}, nil)

	e.logger.Info("sync engine started", zap.String("user", selfID))
}

// Stop closes every feed and wipes the cache.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.closeViewLocked()
	if e.usersFeed != nil {
		e.usersFeed.Close()
		e.usersFeed = nil
	}
	if e.chatsFeed != nil {
		e.chatsFeed.Close()
		e.chatsFeed = nil
	}
	if e.selfID != "" {
		e.logger.Info("sync engine stopped", zap.String("user", e.selfID))
	}
	e.selfID = ""
	e.cache.Clear()
}

// Close unbinds from session changes and stops the engine.
func (e *Engine) Close() {
	if e.unbind != nil {
		e.unbind()
	}
	e.Stop()
}

// OpenChat switches the per-view feeds to chatID. Opening the already open
// chat is a no-op; the previous chat's feeds are released first otherwise.
func (e *Engine) OpenChat(chatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view != nil && e.view.chatID == chatID {
		return
	}
	e.closeViewLocked()

	view := &chatView{chatID: chatID}
	e.view = view

	// Deliveries race view teardown: a snapshot already executing when the
	// view closes must not repopulate projections the close just dropped,
	// so every write below checks the view is still current under the lock.
	view.messages = Subscribe(e.store, docstore.Query{
		Collection: model.MessagesCollection(chatID),
		OrderBy:    "timestamp",
	}, e.logger, func(snap docstore.Snapshot) {
		msgs := make([]Tracked[model.Message], 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			msg := model.MessageFromDoc(chatID, doc)
			if doc.HasPendingWrites {
				msgs = append(msgs, Unconfirmed(msg))
			} else {
				msgs = append(msgs, Confirmed(msg))
			}
		}
		e.mu.Lock()
		if e.view != view {
			e.mu.Unlock()
			return
		}
		e.cache.SetMessages(chatID, msgs)
		e.mu.Unlock()
		e.publish("message.updated", chatID)
	}, nil)

	view.chatDoc = Subscribe(e.store, docstore.Query{
		Collection: model.ChatsCollection,
		DocID:      chatID,
	}, e.logger, func(snap docstore.Snapshot) {
		e.mu.Lock()
		if e.view != view {
			e.mu.Unlock()
			return
		}
		if len(snap.Docs) == 0 {
			e.cache.SetActiveChat(nil)
			e.mu.Unlock()
			return
		}
		chat := model.ChatFromDoc(snap.Docs[0])
		e.cache.SetActiveChat(&chat)
		e.mu.Unlock()
		e.ensurePeerFeed(view, chat)
		e.publish("chat.updated", chatID)
	}, nil)
}

// ensurePeerFeed opens the other-participant feed once the chat document
// reveals who that is. Runs on the chat-doc subscription goroutine.
func (e *Engine) ensurePeerFeed(view *chatView, chat model.Chat) {
	if chat.IsGroup {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view != view || view.peer != nil {
		return
	}
	peerID := chat.OtherParticipant(e.selfID)
	if peerID == "" {
		return
	}
	view.peer = Subscribe(e.store, docstore.Query{
		Collection: model.UsersCollection,
		DocID:      peerID,
	}, e.logger, func(snap docstore.Snapshot) {
		e.mu.Lock()
		if e.view != view {
			e.mu.Unlock()
			return
		}
		if len(snap.Docs) == 0 {
			e.cache.SetActivePeer(nil)
			e.mu.Unlock()
			return
		}
		peer := model.UserFromDoc(snap.Docs[0])
		e.cache.SetActivePeer(&peer)
		e.mu.Unlock()
		e.publish("user.updated", peerID)
	}, nil)
}

// refreshActivePeer keeps the open chat's peer projection aligned with the
// user directory when the dedicated peer feed has not delivered yet.
func (e *Engine) refreshActivePeer() {
	e.mu.Lock()
	hasView := e.view != nil && e.view.peer == nil
	selfID := e.selfID
	e.mu.Unlock()
	if !hasView {
		return
	}
	if _, ok := e.cache.ActivePeer(); ok {
		return
	}
	if chat, ok := e.cache.ActiveChat(); ok && !chat.IsGroup {
		if peer, ok := e.cache.UserByID(chat.OtherParticipant(selfID)); ok {
			e.cache.SetActivePeer(&peer)
		}
	}
}

// CloseChat releases the open chat's feeds and projections.
func (e *Engine) CloseChat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeViewLocked()
}

func (e *Engine) closeViewLocked() {
	if e.view == nil {
		return
	}
	e.view.messages.Close()
	e.view.chatDoc.Close()
	if e.view.peer != nil {
		e.view.peer.Close()
	}
	e.cache.DropMessages(e.view.chatID)
	e.cache.SetActiveChat(nil)
	e.cache.SetActivePeer(nil)
	e.view = nil
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Emit(kind, payload)
}
