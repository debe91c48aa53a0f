package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/model"
)

// Writer issues the engine's document writes. Every write is journaled by
// the store and acknowledged later; callers see results immediately through
// their live queries, flagged pending until the commit loop confirms them.
type Writer struct {
	store  docstore.Store
	logger *zap.Logger
}

func NewWriter(store docstore.Store, logger *zap.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// SendMessage appends a text message to a chat and refreshes the chat's
// last-message preview. The preview update is best-effort: a stale preview
// is tolerable, a lost message is not.
func (w *Writer) SendMessage(ctx context.Context, chatID, senderID, text string) error {
	body, err := json.Marshal(map[string]any{
		"text":      text,
		"senderId":  senderID,
		"timestamp": docstore.ServerTimestamp,
		"type":      model.KindText,
	})
	if err != nil {
		return err
	}
	if _, err := w.store.Add(ctx, model.MessagesCollection(chatID), body); err != nil {
		return faults.Classify(err)
	}

	if err := w.store.Update(ctx, model.ChatsCollection, chatID, map[string]any{
		"lastMessage":     text,
		"lastMessageTime": docstore.ServerTimestamp,
	}); err != nil {
		w.logger.Warn("chat preview update failed",
			zap.String("chat", chatID), zap.Error(err))
	}
	return nil
}

// CreateDirectChat creates a one-on-one chat between self and other and
// seeds it with a system message. Callers are expected to check for an
// existing chat first; this method always creates.
func (w *Writer) CreateDirectChat(ctx context.Context, selfID, otherID string) (model.Chat, error) {
	return w.createChat(ctx, model.Chat{
		IsGroup:      false,
		Participants: []string{selfID, otherID},
	}, "Chat started")
}

// CreateGroupChat creates a named group containing the creator and the
// given members, with a generated avatar and a system seed message.
func (w *Writer) CreateGroupChat(ctx context.Context, name, creatorID string, memberIDs []string) (model.Chat, error) {
	participants := append([]string{creatorID}, memberIDs...)
	return w.createChat(ctx, model.Chat{
		Name:         name,
		IsGroup:      true,
		Participants: participants,
		Avatar:       model.DefaultAvatar(name),
	}, fmt.Sprintf("Group %q created", name))
}

func (w *Writer) createChat(ctx context.Context, chat model.Chat, seedText string) (model.Chat, error) {
	body, err := json.Marshal(map[string]any{
		"name":            chat.Name,
		"isGroup":         chat.IsGroup,
		"participants":    chat.Participants,
		"avatar":          chat.Avatar,
		"lastMessage":     seedText,
		"lastMessageTime": docstore.ServerTimestamp,
		"createdAt":       docstore.ServerTimestamp,
	})
	if err != nil {
		return model.Chat{}, err
	}
	id, err := w.store.Add(ctx, model.ChatsCollection, body)
	if err != nil {
		return model.Chat{}, faults.Classify(err)
	}
	chat.ID = id
	chat.LastMessage = seedText

	seed, err := json.Marshal(map[string]any{
		"text":      seedText,
		"senderId":  model.SystemSenderID,
		"timestamp": docstore.ServerTimestamp,
		"type":      model.KindSystem,
	})
	if err != nil {
		return model.Chat{}, err
	}
	if _, err := w.store.Add(ctx, model.MessagesCollection(id), seed); err != nil {
		return model.Chat{}, faults.Classify(err)
	}
	return chat, nil
}

// UpdateProfile patches the given fields on a user's profile document.
// Only the provided fields change; the rest of the document is preserved.
func (w *Writer) UpdateProfile(ctx context.Context, userID string, patch map[string]any) error {
	if err := w.store.Update(ctx, model.UsersCollection, userID, patch); err != nil {
		return faults.Classify(err)
	}
	return nil
}
