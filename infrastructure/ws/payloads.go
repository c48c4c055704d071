package ws

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"time"

	"github.com/samber/lo"
)

type MessagePayload struct {
	ID         domain.MessageID `json:"id"`
	ChatID     domain.ChatID    `json:"chatId"`
	SenderID   domain.UserID    `json:"senderId"`
	ReceiverID *domain.UserID   `json:"receiverId"`
	Content    string           `json:"content"`
	Image      *string          `json:"image"`
	ImageType  string           `json:"imageType,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	Group      bool             `json:"group,omitempty"`
}

// toMessagePayload re-encodes the stored image on every call.
func toMessagePayload(m domain.Message, chat domain.Chat) MessagePayload {
	var receiverID *domain.UserID
	if m.ReceiverID != 0 {
		receiverID = lo.ToPtr(m.ReceiverID)
	}
	return MessagePayload{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: receiverID,
		Content:    m.Content,
		Image:      m.EncodedImage(),
		ImageType:  m.ImageType,
		CreatedAt:  m.CreatedAt,
		Group:      chat.Kind == domain.GroupChat,
	}
}

type GroupPayload struct {
	ID        domain.ChatID   `json:"id"`
	Name      string          `json:"name"`
	Type      domain.ChatKind `json:"type"`
	Members   []domain.UserID `json:"participants"`
	CreatedBy domain.UserID   `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toGroupPayload(chat domain.Chat, creator domain.UserID) GroupPayload {
	return GroupPayload{
		ID:        chat.ID,
		Name:      chat.Name,
		Type:      chat.Kind,
		Members:   chat.Members,
		CreatedBy: creator,
		CreatedAt: chat.CreatedAt,
	}
}

type TypingPayload struct {
	UserID domain.UserID `json:"userId"`
	ChatID domain.ChatID `json:"chatId,omitempty"`
	Typing bool          `json:"typing"`
}

type HistoryPayload struct {
	ChatID   domain.ChatID    `json:"chatId"`
	Messages []MessagePayload `json:"messages"`
}

// NewHistoryPayload is the answer to a history request, over websocket or HTTP.
func NewHistoryPayload(chat domain.Chat, messages []domain.Message) HistoryPayload {
	return HistoryPayload{
		ChatID: chat.ID,
		Messages: lo.Map(messages, func(m domain.Message, _ int) MessagePayload {
			return toMessagePayload(m, chat)
		}),
	}
}

type ChatDeletedPayload struct {
	ChatID domain.ChatID `json:"chatId"`
}

// SignalPayload is what the target of a webrtc message receives. From is the
// transient session id of the sender, to answer the right device.
type SignalPayload struct {
	From       string          `json:"from"`
	FromUserID domain.UserID   `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload"`
}

type ConnectedPayload struct {
	SessionID string         `json:"sessionId"`
	UserID    *domain.UserID `json:"userId"`
}

type ErrorPayload struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code"`
}

const internalErrorMessage = "internal error"

// toErrorPayload never leaks the cause of an internal error.
func toErrorPayload(err error) ErrorPayload {
	code := errors.CodeOf(err)
	if code == errors.CodeInternal {
		return ErrorPayload{Error: internalErrorMessage, Code: code}
	}
	return ErrorPayload{Error: err.Error(), Code: code}
}
