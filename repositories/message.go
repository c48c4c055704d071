//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	StoreMessage(ctx context.Context, message domain.Message) (domain.Message, error)
	GetMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	ids           *idSequence
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) (*MessageRepository, error) {
	ids, err := newIDSequence(db, messageSequence)
	if err != nil {
		return nil, err
	}
	return &MessageRepository{db: db, log: log, ids: ids, limitMessages: limitMessages}, nil
}

type messageRecord struct {
	ID         int64  `cbor:"id"`
	ChatID     int64  `cbor:"chat_id"`
	SenderID   int64  `cbor:"sender_id"`
	ReceiverID int64  `cbor:"receiver_id,omitempty"`
	Content    string `cbor:"content"`
	Image      []byte `cbor:"image,omitempty"`
	ImageType  string `cbor:"image_type,omitempty"`
	CreatedAt  int64  `cbor:"created_at"`
}

// StoreMessage assigns an id and persists the message.
// The key is formatted as "msg:{chat}:{timestamp_padded}:{id_padded}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Break ties between messages created within the same nanosecond by id,
//     which is the insertion order.
//
// The chat record is read in the same transaction, so a message can never be
// attached to a chat deleted concurrently.
func (m *MessageRepository) StoreMessage(_ context.Context, message domain.Message) (domain.Message, error) {
	id, err := m.ids.next()
	if err != nil {
		return domain.Message{}, err
	}
	message.ID = domain.MessageID(id)

	err = update(m.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(chatKey(message.ChatID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d", errors.ErrChatNotFound, message.ChatID)
		} else if err != nil {
			return err
		}
		return setRecord(txn, messageKey(message), fromMessage(message))
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// GetMessages returns the messages of a chat in ascending creation order.
// When limitMessages is set only the most recent ones are kept: the scan runs
// backwards from the newest key and the page is reversed before returning.
func (m *MessageRepository) GetMessages(_ context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.Reverse = m.limitMessages != nil
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix
		if options.Reverse {
			seekKey = append(slices.Clone(prefix), []byte(maxPadded)...)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			var record messageRecord
			err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			messages = append(messages, toMessage(record))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.limitMessages != nil {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (m *MessageRepository) Close() error {
	return m.ids.release()
}

func fromMessage(message domain.Message) messageRecord {
	return messageRecord{
		ID:         int64(message.ID),
		ChatID:     int64(message.ChatID),
		SenderID:   int64(message.SenderID),
		ReceiverID: int64(message.ReceiverID),
		Content:    message.Content,
		Image:      message.Image,
		ImageType:  message.ImageType,
		CreatedAt:  message.CreatedAt.UnixNano(),
	}
}

func toMessage(record messageRecord) domain.Message {
	return domain.Message{
		ID:         domain.MessageID(record.ID),
		ChatID:     domain.ChatID(record.ChatID),
		SenderID:   domain.UserID(record.SenderID),
		ReceiverID: domain.UserID(record.ReceiverID),
		Content:    record.Content,
		Image:      record.Image,
		ImageType:  record.ImageType,
		CreatedAt:  time.Unix(0, record.CreatedAt).UTC(),
	}
}
