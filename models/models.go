package models

import (
	"encoding/json"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Password  string `json:"-"` // bcrypt hash, never serialized
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Signature string `json:"signature"`
	Role      string `json:"role"`
}

// Profile carries the mutable account fields of a profile update. Nil
// fields are left untouched.
type Profile struct {
	Nickname  *string `json:"nickname,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

type Group struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}

// Message is one row of the message log. Group sends create one row per
// member, all addressed to the group id; Delivered tracks that row only.
type Message struct {
	ID            int64           `json:"id"`
	SenderID      int64           `json:"sender_id"`
	RecipientType string          `json:"recipient_type"` // "user" or "group"
	RecipientID   int64           `json:"recipient_id"`
	ContentType   string          `json:"content_type"` // "text" or "file"
	Content       json.RawMessage `json:"content"`
	CreatedAt     time.Time       `json:"created_at"`
	Delivered     bool            `json:"delivered"`
}
