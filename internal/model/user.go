package model

import (
	"encoding/json"

	"github.com/vchat-dev/vchat/internal/docstore"
)

// User is a profile record. Exactly one user is "current" per client
// instance, owned exclusively by the account manager.
type User struct {
	ID     string `json:"-"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar"`
	Status string `json:"status"`
	Online bool   `json:"isOnline"`
}

// UserFromDoc decodes a user document, applying defaults for fields a
// partial record may lack.
func UserFromDoc(doc docstore.Doc) User {
	var u User
	_ = json.Unmarshal(doc.Data, &u)
	u.ID = doc.ID
	if u.Name == "" {
		u.Name = "Unknown"
	}
	if u.Avatar == "" {
		u.Avatar = DefaultAvatar(doc.ID)
	}
	return u
}

// Doc encodes the persisted fields of u.
func (u User) Doc() ([]byte, error) {
	return json.Marshal(u)
}
