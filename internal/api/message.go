package api

import (
	"context"
	"strings"

	"github.com/vchat-dev/vchat/internal/account"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/sync"
)

// MessageService exposes a chat's message timeline and sending.
type MessageService struct {
	engine  *sync.Engine
	manager *account.Manager
}

func NewMessageService(engine *sync.Engine, manager *account.Manager) *MessageService {
	return &MessageService{engine: engine, manager: manager}
}

// List returns the cached timeline for chatID, oldest first, each entry
// carrying its pending flag.
func (s *MessageService) List(chatID string) []sync.Tracked[model.Message] {
	return s.engine.Cache().Messages(chatID)
}

// Send appends a text message to chatID as the signed-in user.
func (s *MessageService) Send(ctx context.Context, chatID, text string) error {
	self := s.manager.Current()
	if self == nil {
		return faults.Newf(faults.Unauthenticated, "no active session")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := s.engine.Writer().SendMessage(ctx, chatID, self.ID, text); err != nil {
		return faults.Classify(err)
	}
	return nil
}
