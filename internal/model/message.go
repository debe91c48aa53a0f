package model

import (
	"encoding/json"

	"github.com/vchat-dev/vchat/internal/docstore"
)

// Message is a single chat message. The owning chat is implicit in the
// subcollection the document lives in. Pending state is not part of the
// record: it is tracked by the sync layer from feed metadata.
type Message struct {
	ID        string `json:"-"`
	ChatID    string `json:"-"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"type"`
}

// MessageFromDoc decodes a message document belonging to chatID.
func MessageFromDoc(chatID string, doc docstore.Doc) Message {
	var m Message
	_ = json.Unmarshal(doc.Data, &m)
	m.ID = doc.ID
	m.ChatID = chatID
	if m.Kind == "" {
		m.Kind = KindText
	}
	return m
}
