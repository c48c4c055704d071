package postgres

import (
	"chat-relay/domain"
	"time"

	"github.com/samber/lo"
)

type UserModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"not null"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Verified  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

// ChatModel holds both kinds of chat. PairKey is only set for direct chats;
// its unique index is what rejects a second chat for the same pair. Members
// and messages reference the chat and go with it.
type ChatModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"not null"`
	Name      string
	PairKey   *string           `gorm:"uniqueIndex"`
	CreatedAt time.Time         `gorm:"not null"`
	Members   []ChatMemberModel `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
	Messages  []MessageModel    `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (ChatModel) TableName() string { return "chats" }

type ChatMemberModel struct {
	ChatID int64 `gorm:"primaryKey"`
	UserID int64 `gorm:"primaryKey;index"`
}

func (ChatMemberModel) TableName() string { return "chat_members" }

type MessageModel struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	ChatID     int64 `gorm:"not null;index:idx_messages_chat_created,priority:1"`
	SenderID   int64 `gorm:"not null"`
	ReceiverID int64
	Content    string `gorm:"type:text;not null"`
	Image      []byte `gorm:"type:bytea"`
	ImageType  string
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

func toUser(m UserModel) domain.User {
	return domain.User{
		ID:        domain.UserID(m.ID),
		Name:      m.Name,
		Email:     m.Email,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromChat(chat domain.Chat) ChatModel {
	model := ChatModel{
		ID:        int64(chat.ID),
		Kind:      string(chat.Kind),
		Name:      chat.Name,
		CreatedAt: chat.CreatedAt,
		Members: lo.Map(chat.Members, func(id domain.UserID, _ int) ChatMemberModel {
			return ChatMemberModel{ChatID: int64(chat.ID), UserID: int64(id)}
		}),
	}
	if pair, ok := chat.Pair(); ok {
		model.PairKey = lo.ToPtr(pair.String())
	}
	return model
}

func toChat(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:   domain.ChatID(m.ID),
		Kind: domain.ChatKind(m.Kind),
		Name: m.Name,
		Members: domain.NormalizeMembers(lo.Map(m.Members, func(member ChatMemberModel, _ int) domain.UserID {
			return domain.UserID(member.UserID)
		})),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromMessage(m domain.Message) MessageModel {
	return MessageModel{
		ID:         int64(m.ID),
		ChatID:     int64(m.ChatID),
		SenderID:   int64(m.SenderID),
		ReceiverID: int64(m.ReceiverID),
		Content:    m.Content,
		Image:      m.Image,
		ImageType:  m.ImageType,
		CreatedAt:  m.CreatedAt,
	}
}

func toMessage(m MessageModel) domain.Message {
	return domain.Message{
		ID:         domain.MessageID(m.ID),
		ChatID:     domain.ChatID(m.ChatID),
		SenderID:   domain.UserID(m.SenderID),
		ReceiverID: domain.UserID(m.ReceiverID),
		Content:    m.Content,
		Image:      m.Image,
		ImageType:  m.ImageType,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
