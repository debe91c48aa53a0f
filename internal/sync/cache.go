package sync

import (
	stdsync "sync"

	"github.com/vchat-dev/vchat/internal/model"
)

// Cache holds the engine's current materialized view of the store: the
// latest snapshot of every live query, replaced wholesale on delivery.
// Readers get copies; the cache never hands out its internal slices.
type Cache struct {
	mu         stdsync.RWMutex
	users      []model.User
	chats      []model.Chat
	messages   map[string][]Tracked[model.Message]
	activeChat *model.Chat
	activePeer *model.User
}

func NewCache() *Cache {
	return &Cache{messages: make(map[string][]Tracked[model.Message])}
}

// SetUsers replaces the user directory projection.
func (c *Cache) SetUsers(users []model.User) {
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

// SetChats replaces the chat list projection, preserving feed order.
func (c *Cache) SetChats(chats []model.Chat) {
	c.mu.Lock()
	c.chats = chats
	c.mu.Unlock()
}

// SetMessages replaces the message timeline for one chat.
func (c *Cache) SetMessages(chatID string, msgs []Tracked[model.Message]) {
	c.mu.Lock()
	c.messages[chatID] = msgs
	c.mu.Unlock()
}

// DropMessages releases the timeline of a chat that is no longer open.
func (c *Cache) DropMessages(chatID string) {
	c.mu.Lock()
	delete(c.messages, chatID)
	c.mu.Unlock()
}

// SetActiveChat replaces the open chat's own document projection.
// A nil chat means the view is closed or the document disappeared.
func (c *Cache) SetActiveChat(chat *model.Chat) {
	c.mu.Lock()
	c.activeChat = chat
	c.mu.Unlock()
}

// SetActivePeer replaces the open direct chat's other-participant projection.
func (c *Cache) SetActivePeer(peer *model.User) {
	c.mu.Lock()
	c.activePeer = peer
	c.mu.Unlock()
}

// Clear wipes every projection. Called on sign-out so no data from the
// previous session can leak into the next one.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.users = nil
	c.chats = nil
	c.messages = make(map[string][]Tracked[model.Message])
	c.activeChat = nil
	c.activePeer = nil
	c.mu.Unlock()
}

func (c *Cache) Users() []model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.User, len(c.users))
	copy(out, c.users)
	return out
}

func (c *Cache) UserByID(id string) (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}

func (c *Cache) Chats() []model.Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

func (c *Cache) ChatByID(id string) (model.Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.chats {
		if ch.ID == id {
			return ch, true
		}
	}
	return model.Chat{}, false
}

// DirectChatWith returns the one-on-one chat between selfID and otherID
// from the cached chat list, if the feed has delivered it.
func (c *Cache) DirectChatWith(selfID, otherID string) (model.Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.chats {
		if ch.IsDirectBetween(selfID, otherID) {
			return ch, true
		}
	}
	return model.Chat{}, false
}

func (c *Cache) ActiveChat() (model.Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.activeChat == nil {
		return model.Chat{}, false
	}
	return *c.activeChat, true
}

func (c *Cache) ActivePeer() (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.activePeer == nil {
		return model.User{}, false
	}
	return *c.activePeer, true
}

func (c *Cache) Messages(chatID string) []Tracked[model.Message] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[chatID]
	out := make([]Tracked[model.Message], len(msgs))
	copy(out, msgs)
	return out
}
