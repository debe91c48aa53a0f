package api

import (
	"context"

	"github.com/vchat-dev/vchat/internal/account"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/sync"
)

// ChatService exposes the chat list and chat creation flows.
type ChatService struct {
	engine  *sync.Engine
	manager *account.Manager
}

func NewChatService(engine *sync.Engine, manager *account.Manager) *ChatService {
	return &ChatService{engine: engine, manager: manager}
}

// List returns the cached chat list, most recently active first.
func (s *ChatService) List() []model.Chat {
	return s.engine.Cache().Chats()
}

// Users returns the cached user directory.
func (s *ChatService) Users() []model.User {
	return s.engine.Cache().Users()
}

// StartDirectChat resolves (or creates) the one-on-one chat with otherID
// and opens it.
func (s *ChatService) StartDirectChat(ctx context.Context, otherID string) (model.Chat, error) {
	self := s.manager.Current()
	if self == nil {
		return model.Chat{}, faults.Newf(faults.Unauthenticated, "no active session")
	}
	chat, err := s.engine.Reconciler().EnsureDirectChat(ctx, self.ID, otherID)
	if err != nil {
		return model.Chat{}, faults.Classify(err)
	}
	s.engine.OpenChat(chat.ID)
	return chat, nil
}

// CreateGroup creates a named group chat with the given members and opens it.
func (s *ChatService) CreateGroup(ctx context.Context, name string, memberIDs []string) (model.Chat, error) {
	self := s.manager.Current()
	if self == nil {
		return model.Chat{}, faults.Newf(faults.Unauthenticated, "no active session")
	}
	chat, err := s.engine.Writer().CreateGroupChat(ctx, name, self.ID, memberIDs)
	if err != nil {
		return model.Chat{}, faults.Classify(err)
	}
	s.engine.OpenChat(chat.ID)
	return chat, nil
}

// Open switches the active chat view to chatID.
func (s *ChatService) Open(chatID string) {
	s.engine.OpenChat(chatID)
}

// Close releases the active chat view.
func (s *ChatService) Close() {
	s.engine.CloseChat()
}

// Active returns the open chat's latest document, if a chat is open and
// its feed has delivered.
func (s *ChatService) Active() (model.Chat, bool) {
	return s.engine.Cache().ActiveChat()
}

// Peer returns the open direct chat's other participant, if known.
func (s *ChatService) Peer() (model.User, bool) {
	return s.engine.Cache().ActivePeer()
}
