// Package model holds the synced entities and their document mapping.
// Field names follow the persisted document schema; mapping applies the
// defaulting rules for records written by older or partial clients.
package model

import (
	"net/url"
	"strings"
)

// Collection paths in the document store.
const (
	UsersCollection = "users"
	ChatsCollection = "chats"
)

// MessagesCollection returns the per-chat message subcollection path.
func MessagesCollection(chatID string) string {
	return ChatsCollection + "/" + chatID + "/messages"
}

// Message kinds.
const (
	KindText   = "text"
	KindSystem = "system"
	KindImage  = "image"
)

// SystemSenderID is the sender id of store-generated messages.
const SystemSenderID = "system"

// DefaultStatus is the status a fresh profile gets.
const DefaultStatus = "Hey there! I am using vChat."

// DefaultAvatar derives an avatar reference from a seed.
func DefaultAvatar(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(seed)
}

// DeriveName builds a display name from a contact handle, for healed or
// zombie profiles that never stored one.
func DeriveName(handle string) string {
	name, _, _ := strings.Cut(handle, "@")
	if name == "" {
		return "Unknown"
	}
	return name
}
