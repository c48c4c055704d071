// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once persisted.
package domain

import (
	"encoding/base64"
	"time"
)

type MessageID int64

// Message represents an immutable chat message.
// ReceiverID is zero for group messages.
type Message struct {
	ID         MessageID
	ChatID     ChatID
	SenderID   UserID
	ReceiverID UserID
	Content    string
	Image      []byte
	ImageType  string
	CreatedAt  time.Time
}

func (m Message) HasImage() bool { return len(m.Image) > 0 }

// EncodedImage returns the image as base64 text, or nil when there is none.
func (m Message) EncodedImage() *string {
	if !m.HasImage() {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(m.Image)
	return &s
}

// DecodeImage decodes a base64 image as received on the wire.
func DecodeImage(encoded string) ([]byte, error) {
	return base64.StdEncoding.Strict().DecodeString(encoded)
}
