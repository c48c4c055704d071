//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IChatRepository interface {
	CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	GetChat(ctx context.Context, id domain.ChatID) (domain.Chat, error)
	FindDirectChat(ctx context.Context, pair domain.PairKey) (domain.Chat, error)
	ListGroupsForUser(ctx context.Context, userID domain.UserID) ([]domain.Chat, error)
	DeleteChat(ctx context.Context, id domain.ChatID) error
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
	ids *idSequence
}

func NewChatRepository(db *badger.DB, log *slog.Logger) (*ChatRepository, error) {
	ids, err := newIDSequence(db, chatSequence)
	if err != nil {
		return nil, err
	}
	return &ChatRepository{db: db, log: log, ids: ids}, nil
}

type chatRecord struct {
	ID        int64   `cbor:"id"`
	Kind      string  `cbor:"kind"`
	Name      string  `cbor:"name,omitempty"`
	Members   []int64 `cbor:"members"`
	CreatedAt int64   `cbor:"created_at"`
}

// CreateChat assigns an id and persists the chat with its membership index.
// For a direct chat the pair index is written in the same transaction; if the
// pair already has a chat, ErrPairAlreadyExists is returned and nothing is
// written, which makes the pair index the storage-level uniqueness guarantee.
func (c *ChatRepository) CreateChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	id, err := c.ids.next()
	if err != nil {
		return domain.Chat{}, err
	}
	chat.ID = domain.ChatID(id)

	err = update(c.db, func(txn *badger.Txn) error {
		if pair, ok := chat.Pair(); ok {
			if _, err := txn.Get(pairKey(pair)); err == nil {
				return errors.ErrPairAlreadyExists
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(pairKey(pair), []byte(strconv.FormatInt(id, 10))); err != nil {
				return err
			}
		}
		for _, member := range chat.Members {
			if err := txn.Set(memberKey(member, chat.ID), nil); err != nil {
				return err
			}
		}
		return setRecord(txn, chatKey(chat.ID), fromChat(chat))
	})
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (c *ChatRepository) GetChat(_ context.Context, id domain.ChatID) (domain.Chat, error) {
	var chat domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = getChat(txn, id)
		return err
	})
	return chat, err
}

func (c *ChatRepository) FindDirectChat(_ context.Context, pair domain.PairKey) (domain.Chat, error) {
	var chat domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(pair))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: no direct chat for %s", errors.ErrChatNotFound, pair)
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupted pair index %s: %w", pair, err)
		}
		chat, err = getChat(txn, domain.ChatID(id))
		return err
	})
	return chat, err
}

// ListGroupsForUser scans the membership index of the user. Chat ids grow
// monotonically, so the scan order is the creation order.
func (c *ChatRepository) ListGroupsForUser(_ context.Context, userID domain.UserID) ([]domain.Chat, error) {
	var groups []domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rawID := string(it.Item().Key()[len(prefix):])
			id, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupted membership key %q: %w", it.Item().Key(), err)
			}
			chat, err := getChat(txn, domain.ChatID(id))
			if err != nil {
				return err
			}
			if chat.Kind == domain.GroupChat {
				groups = append(groups, chat)
			}
		}
		return nil
	})
	return groups, err
}

// DeleteChat removes the chat, its indexes and then every message of the chat.
// Once the first transaction commits the chat is gone for every reader and
// StoreMessage refuses new messages for it, so the message sweep cannot race
// with writers.
func (c *ChatRepository) DeleteChat(_ context.Context, id domain.ChatID) error {
	err := update(c.db, func(txn *badger.Txn) error {
		chat, err := getChat(txn, id)
		if err != nil {
			return err
		}
		if pair, ok := chat.Pair(); ok {
			if err := txn.Delete(pairKey(pair)); err != nil {
				return err
			}
		}
		for _, member := range chat.Members {
			if err := txn.Delete(memberKey(member, id)); err != nil {
				return err
			}
		}
		return txn.Delete(chatKey(id))
	})
	if err != nil {
		return err
	}
	return c.deleteMessages(id)
}

func (c *ChatRepository) deleteMessages(id domain.ChatID) error {
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(id)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	batch := c.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	if err := batch.Flush(); err != nil {
		return err
	}
	c.log.Debug("Chat messages deleted", "chat_id", id, "count", len(keys))
	return nil
}

func (c *ChatRepository) Close() error {
	return c.ids.release()
}

func getChat(txn *badger.Txn, id domain.ChatID) (domain.Chat, error) {
	var record chatRecord
	err := getRecord(txn, chatKey(id), &record)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Chat{}, fmt.Errorf("%w: %d", errors.ErrChatNotFound, id)
	}
	if err != nil {
		return domain.Chat{}, err
	}
	return toChat(record), nil
}

func fromChat(chat domain.Chat) chatRecord {
	return chatRecord{
		ID:   int64(chat.ID),
		Kind: string(chat.Kind),
		Name: chat.Name,
		Members: lo.Map(chat.Members, func(item domain.UserID, _ int) int64 {
			return int64(item)
		}),
		CreatedAt: chat.CreatedAt.UnixNano(),
	}
}

func toChat(record chatRecord) domain.Chat {
	return domain.Chat{
		ID:   domain.ChatID(record.ID),
		Kind: domain.ChatKind(record.Kind),
		Name: record.Name,
		Members: lo.Map(record.Members, func(item int64, _ int) domain.UserID {
			return domain.UserID(item)
		}),
		CreatedAt: time.Unix(0, record.CreatedAt).UTC(),
	}
}
