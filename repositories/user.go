//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
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
)

type IUserRepository interface {
	CreateUser(ctx context.Context, name, email string) (domain.User, error)
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
	SetVerified(ctx context.Context, id domain.UserID, verified bool) error
}

type UserRepository struct {
	db  *badger.DB
	log *slog.Logger
	ids *idSequence
}

func NewUserRepository(db *badger.DB, log *slog.Logger) (*UserRepository, error) {
	ids, err := newIDSequence(db, userSequence)
	if err != nil {
		return nil, err
	}
	return &UserRepository{db: db, log: log, ids: ids}, nil
}

type userRecord struct {
	ID        int64  `cbor:"id"`
	Name      string `cbor:"name"`
	Email     string `cbor:"email"`
	Verified  bool   `cbor:"verified"`
	CreatedAt int64  `cbor:"created_at"`
}

// CreateUser persists a new unverified user. Emails are unique.
func (u *UserRepository) CreateUser(_ context.Context, name, email string) (domain.User, error) {
	id, err := u.ids.next()
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:        domain.UserID(id),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	err = update(u.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(email)); err == nil {
			return errors.ErrEmailTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(emailKey(email), []byte(strconv.FormatInt(id, 10))); err != nil {
			return err
		}
		return setRecord(txn, userKey(user.ID), fromUser(user))
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (u *UserRepository) GetUser(_ context.Context, id domain.UserID) (domain.User, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, userKey(id), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, fmt.Errorf("%w: %d", errors.ErrUserNotFound, id)
	}
	if err != nil {
		return domain.User{}, err
	}
	return toUser(record), nil
}

// SetVerified toggles the verification flag, the only user field this
// service ever writes.
func (u *UserRepository) SetVerified(_ context.Context, id domain.UserID, verified bool) error {
	err := update(u.db, func(txn *badger.Txn) error {
		var record userRecord
		if err := getRecord(txn, userKey(id), &record); err != nil {
			return err
		}
		record.Verified = verified
		return setRecord(txn, userKey(id), record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %d", errors.ErrUserNotFound, id)
	}
	return err
}

func (u *UserRepository) Close() error {
	return u.ids.release()
}

func fromUser(user domain.User) userRecord {
	return userRecord{
		ID:        int64(user.ID),
		Name:      user.Name,
		Email:     user.Email,
		Verified:  user.Verified,
		CreatedAt: user.CreatedAt.UnixNano(),
	}
}

func toUser(record userRecord) domain.User {
	return domain.User{
		ID:        domain.UserID(record.ID),
		Name:      record.Name,
		Email:     record.Email,
		Verified:  record.Verified,
		CreatedAt: time.Unix(0, record.CreatedAt).UTC(),
	}
}
