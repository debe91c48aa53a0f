package model

import (
	"encoding/json"
	"slices"

	"github.com/vchat-dev/vchat/internal/docstore"
)

// Chat is a conversation record. A non-group chat has exactly two
// participants; uniqueness of the unordered pair is enforced by the
// reconciler, not by the store.
type Chat struct {
	ID            string   `json:"-"`
	Name          string   `json:"name"` // meaningful only when IsGroup
	IsGroup       bool     `json:"isGroup"`
	Participants  []string `json:"participants"` // set semantics, creator first
	LastMessage   string   `json:"lastMessage"`
	LastMessageAt int64    `json:"lastMessageTime"`
	Avatar        string   `json:"avatar"`
	CreatedAt     int64    `json:"createdAt"`

	// UnreadCount is a local projection; it is not persisted on the record.
	UnreadCount int `json:"-"`
}

// ChatFromDoc decodes a chat document.
func ChatFromDoc(doc docstore.Doc) Chat {
	var c Chat
	_ = json.Unmarshal(doc.Data, &c)
	c.ID = doc.ID
	return c
}

// HasParticipant reports whether id is a member of the chat.
func (c Chat) HasParticipant(id string) bool {
	return slices.Contains(c.Participants, id)
}

// IsDirectBetween reports whether the chat is the one-to-one chat with
// participant set exactly {a, b}.
func (c Chat) IsDirectBetween(a, b string) bool {
	return !c.IsGroup && len(c.Participants) == 2 &&
		c.HasParticipant(a) && c.HasParticipant(b)
}

// OtherParticipant returns the participant that is not selfID, for
// rendering the counterpart of a direct chat. Empty for groups.
func (c Chat) OtherParticipant(selfID string) string {
	if c.IsGroup {
		return ""
	}
	for _, p := range c.Participants {
		if p != selfID {
			return p
		}
	}
	return ""
}
