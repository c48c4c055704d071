package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func givenChat(t *testing.T, db *badger.DB, members ...domain.UserID) domain.Chat {
	t.Helper()
	repository, err := NewChatRepository(db, slog.Default())
	require.NoError(t, err)
	chat, err := repository.CreateChat(context.Background(), domain.NewGroupChat("friends", members, time.Now().UTC()))
	require.NoError(t, err)
	return chat
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	chat := givenChat(t, db, 1, 2, 3)

	repository, err := NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)
	content := "this message will self destruct in 5 seconds"
	at := time.Now().UTC()

	// Given three messages stored out of chronological order
	messages := []domain.Message{
		{ChatID: chat.ID, SenderID: 3, Content: content, CreatedAt: at.Add(2 * time.Minute)},
		{ChatID: chat.ID, SenderID: 1, Content: content, CreatedAt: at},
		{ChatID: chat.ID, SenderID: 2, Content: content, CreatedAt: at.Add(1 * time.Minute)},
	}
	for _, m := range messages {
		stored, err := repository.StoreMessage(ctx, m)
		req.NoError(err)
		req.NotZero(stored.ID)
	}

	// When the history is fetched
	fetched, err := repository.GetMessages(ctx, chat.ID)
	req.NoError(err)

	// Then it is sorted by creation time
	req.Len(fetched, 3)
	req.Equal([]domain.UserID{1, 2, 3}, []domain.UserID{fetched[0].SenderID, fetched[1].SenderID, fetched[2].SenderID})
	for i := 1; i < len(fetched); i++ {
		req.False(fetched[i].CreatedAt.Before(fetched[i-1].CreatedAt))
	}
}

func Test_Messages_With_Same_Timestamp_Keep_Insertion_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	chat := givenChat(t, db, 1, 2)

	repository, err := NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)
	at := time.Now().UTC()

	// Given messages sharing the same timestamp
	var ids []domain.MessageID
	for _, content := range []string{"first", "second", "third"} {
		stored, err := repository.StoreMessage(ctx, domain.Message{ChatID: chat.ID, SenderID: 1, Content: content, CreatedAt: at})
		req.NoError(err)
		ids = append(ids, stored.ID)
	}

	// When the history is fetched
	fetched, err := repository.GetMessages(ctx, chat.ID)
	req.NoError(err)

	// Then ties are broken by id
	req.Len(fetched, 3)
	req.Equal(ids, []domain.MessageID{fetched[0].ID, fetched[1].ID, fetched[2].ID})
	req.Equal("first", fetched[0].Content)
	req.Equal("third", fetched[2].Content)
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	chat := givenChat(t, db, 1, 2, 3)

	limit := 2
	repository, err := NewMessageRepository(db, slog.Default(), &limit)
	req.NoError(err)
	at := time.Now().UTC()
	for i, sender := range []domain.UserID{1, 2, 3} {
		_, err := repository.StoreMessage(ctx, domain.Message{
			ChatID:    chat.ID,
			SenderID:  sender,
			Content:   "hello",
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		})
		req.NoError(err)
	}

	fetched, err := repository.GetMessages(ctx, chat.ID)
	req.NoError(err)

	// The two most recent, still ascending
	req.Len(fetched, limit)
	req.Equal(domain.UserID(2), fetched[0].SenderID)
	req.Equal(domain.UserID(3), fetched[1].SenderID)
}

func Test_Store_Message_Keeps_Image(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	chat := givenChat(t, db, 1, 2)

	repository, err := NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)
	image := []byte{0x89, 0x50, 0x4e, 0x47}

	_, err = repository.StoreMessage(ctx, domain.Message{
		ChatID:     chat.ID,
		SenderID:   1,
		ReceiverID: 2,
		Image:      image,
		ImageType:  "image/png",
		CreatedAt:  time.Now().UTC(),
	})
	req.NoError(err)

	fetched, err := repository.GetMessages(ctx, chat.ID)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal(image, fetched[0].Image)
	req.Equal("image/png", fetched[0].ImageType)
	req.Equal(domain.UserID(2), fetched[0].ReceiverID)
	req.Empty(fetched[0].Content)
}

func Test_Store_Message_In_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	db := openDB(t)

	repository, err := NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)

	_, err = repository.StoreMessage(context.Background(), domain.Message{ChatID: 42, SenderID: 1, Content: "hi", CreatedAt: time.Now()})
	req.ErrorIs(err, errors.ErrChatNotFound)
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_Messages_Are_Isolated_Per_Chat(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	first := givenChat(t, db, 1, 2)
	second := givenChat(t, db, 1, 3)

	repository, err := NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)
	_, err = repository.StoreMessage(ctx, domain.Message{ChatID: first.ID, SenderID: 1, Content: "first", CreatedAt: time.Now()})
	req.NoError(err)
	_, err = repository.StoreMessage(ctx, domain.Message{ChatID: second.ID, SenderID: 1, Content: "second", CreatedAt: time.Now()})
	req.NoError(err)

	fetched, err := repository.GetMessages(ctx, second.ID)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("second", fetched[0].Content)
}
