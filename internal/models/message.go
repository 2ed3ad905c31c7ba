package models

import (
	"time"
)

// Attachment is a file referenced by a chat message
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

// Message is one chat message in a team conversation
type Message struct {
	TeamID      string       `json:"teamId"`
	SenderID    string       `json:"senderId"`
	Body        string       `json:"body"`
	SentAt      time.Time    `json:"sentAt"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// ReadLocally marks the message as read on this device only
	ReadLocally bool `json:"readLocally,omitempty"`
}
