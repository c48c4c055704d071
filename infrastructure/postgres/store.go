// Package postgres is the SQL identity store. It implements the same
// repository interfaces as the badger store.
package postgres

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	_ repositories.IUserRepository    = (*Store)(nil)
	_ repositories.IChatRepository    = (*Store)(nil)
	_ repositories.IMessageRepository = (*Store)(nil)
)

type Store struct {
	db            *gorm.DB
	log           *slog.Logger
	limitMessages *int
}

// Open connects to the database and migrates the schema.
func Open(dsn string, log *slog.Logger, limitMessages *int) (*Store, error) {
	gormLog := gormlogger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ChatModel{}, &ChatMemberModel{}, &MessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{db: db, log: log, limitMessages: limitMessages}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateUser(ctx context.Context, name, email string) (domain.User, error) {
	model := UserModel{Name: name, Email: email, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, errors.ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(model), nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, errors.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return toUser(model), nil
}

func (s *Store) SetVerified(ctx context.Context, id domain.UserID, verified bool) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", int64(id)).Update("verified", verified)
	if res.Error != nil {
		return fmt.Errorf("set verified %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// CreateChat inserts the chat with its members in one statement group.
// A second direct chat for the same pair violates the pair index and is
// reported as ErrPairAlreadyExists.
func (s *Store) CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	model := fromChat(chat)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Chat{}, errors.ErrPairAlreadyExists
		}
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return toChat(model), nil
}

func (s *Store) GetChat(ctx context.Context, id domain.ChatID) (domain.Chat, error) {
	return s.firstChat(s.db.WithContext(ctx).Where("id = ?", int64(id)))
}

func (s *Store) FindDirectChat(ctx context.Context, pair domain.PairKey) (domain.Chat, error) {
	return s.firstChat(s.db.WithContext(ctx).Where("pair_key = ?", pair.String()))
}

func (s *Store) firstChat(query *gorm.DB) (domain.Chat, error) {
	var model ChatModel
	if err := query.Preload("Members").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chat{}, errors.ErrChatNotFound
		}
		return domain.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return toChat(model), nil
}

// ListGroupsForUser returns the groups of a user in creation order.
func (s *Store) ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]domain.Chat, error) {
	var models []ChatModel
	err := s.db.WithContext(ctx).
		Preload("Members").
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id").
		Where("chat_members.user_id = ? AND chats.kind = ?", int64(userID), string(domain.GroupChat)).
		Order("chats.id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list groups of %d: %w", userID, err)
	}
	chats := make([]domain.Chat, 0, len(models))
	for _, model := range models {
		chats = append(chats, toChat(model))
	}
	return chats, nil
}

// DeleteChat removes the chat, its members and its messages atomically.
func (s *Store) DeleteChat(ctx context.Context, id domain.ChatID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", int64(id)).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("delete messages of %d: %w", id, err)
		}
		if err := tx.Where("chat_id = ?", int64(id)).Delete(&ChatMemberModel{}).Error; err != nil {
			return fmt.Errorf("delete members of %d: %w", id, err)
		}
		res := tx.Delete(&ChatModel{}, int64(id))
		if res.Error != nil {
			return fmt.Errorf("delete chat %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.ErrChatNotFound
		}
		return nil
	})
}

func (s *Store) StoreMessage(ctx context.Context, message domain.Message) (domain.Message, error) {
	model := fromMessage(message)
	model.ID = 0
	// The chat foreign key rejects a message for a missing or concurrently
	// deleted chat.
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return domain.Message{}, fmt.Errorf("store message: %w", errors.ErrChatNotFound)
		}
		return domain.Message{}, fmt.Errorf("store message: %w", err)
	}
	return toMessage(model), nil
}

// GetMessages returns the messages of a chat oldest first. With a limit, only
// the most recent ones are kept.
func (s *Store) GetMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	var models []MessageModel
	query := s.db.WithContext(ctx).Where("chat_id = ?", int64(chatID))
	if s.limitMessages != nil {
		query = query.Order("created_at DESC, id DESC").Limit(*s.limitMessages)
	} else {
		query = query.Order("created_at, id")
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get messages of %d: %w", chatID, err)
	}
	if s.limitMessages != nil {
		slices.Reverse(models)
	}
	messages := make([]domain.Message, 0, len(models))
	for _, model := range models {
		messages = append(messages, toMessage(model))
	}
	return messages, nil
}
