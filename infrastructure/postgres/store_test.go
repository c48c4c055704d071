package postgres

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// openStore connects to the database named by POSTGRES_DSN and empties it.
func openStore(t *testing.T, limitMessages *int) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	store, err := Open(dsn, logs.GetLoggerFromLevel(slog.LevelDebug), limitMessages)
	require.NoError(t, err)
	require.NoError(t, store.db.Exec("TRUNCATE messages, chat_members, chats, users RESTART IDENTITY CASCADE").Error)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func givenUsers(t *testing.T, store *Store, names ...string) []domain.UserID {
	t.Helper()
	ids := make([]domain.UserID, 0, len(names))
	for _, name := range names {
		user, err := store.CreateUser(context.Background(), name, name+"@example.com")
		require.NoError(t, err)
		ids = append(ids, user.ID)
	}
	return ids
}

func TestStore_Users(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, "alice", "alice@example.com")
	req.NoError(err)
	_, err = store.CreateUser(ctx, "other alice", "alice@example.com")
	req.ErrorIs(err, errors.ErrEmailTaken)

	req.NoError(store.SetVerified(ctx, created.ID, true))
	user, err := store.GetUser(ctx, created.ID)
	req.NoError(err)
	req.True(user.Verified)
	req.Equal("alice", user.Name)

	_, err = store.GetUser(ctx, 404)
	req.ErrorIs(err, errors.ErrUserNotFound)
	req.ErrorIs(store.SetVerified(ctx, 404, false), errors.ErrUserNotFound)
}

func TestStore_Direct_Chat_Pair_Is_Unique(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()
	ids := givenUsers(t, store, "alice", "bob")

	// Given a direct chat
	chat, err := store.CreateChat(ctx, domain.NewDirectChat(ids[1], ids[0], time.Now().UTC()))
	req.NoError(err)

	// When the same pair is created again, in any order
	_, err = store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))

	// Then the pair index rejects it and the first chat is found
	req.ErrorIs(err, errors.ErrPairAlreadyExists)
	found, err := store.FindDirectChat(ctx, domain.NewPairKey(ids[0], ids[1]))
	req.NoError(err)
	req.Equal(chat.ID, found.ID)
	req.Equal([]domain.UserID{ids[0], ids[1]}, found.Members)
}

func TestStore_Groups(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()
	ids := givenUsers(t, store, "one", "two", "three")

	first, err := store.CreateChat(ctx, domain.NewGroupChat("first", ids, time.Now().UTC()))
	req.NoError(err)
	second, err := store.CreateChat(ctx, domain.NewGroupChat("second", ids[1:], time.Now().UTC()))
	req.NoError(err)
	_, err = store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)

	groups, err := store.ListGroupsForUser(ctx, ids[1])
	req.NoError(err)
	req.Len(groups, 2)
	req.Equal(first.ID, groups[0].ID)
	req.Equal(second.ID, groups[1].ID)
	req.Equal(ids, groups[0].Members)

	groups, err = store.ListGroupsForUser(ctx, ids[0])
	req.NoError(err)
	req.Len(groups, 1)
}

func TestStore_Messages(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()
	ids := givenUsers(t, store, "alice", "bob")
	chat, err := store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)
	at := time.Now().UTC().Truncate(time.Microsecond)

	// Given messages stored out of order
	for _, m := range []domain.Message{
		{ChatID: chat.ID, SenderID: ids[0], ReceiverID: ids[1], Content: "second", CreatedAt: at.Add(time.Second)},
		{ChatID: chat.ID, SenderID: ids[1], ReceiverID: ids[0], Content: "first", CreatedAt: at},
		{ChatID: chat.ID, SenderID: ids[0], ReceiverID: ids[1], Image: []byte{0x89, 'P', 'N', 'G'}, ImageType: "image/png", CreatedAt: at.Add(2 * time.Second)},
	} {
		_, err := store.StoreMessage(ctx, m)
		req.NoError(err)
	}

	// Then history is ascending by time
	messages, err := store.GetMessages(ctx, chat.ID)
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal("first", messages[0].Content)
	req.Equal("second", messages[1].Content)
	req.Equal([]byte{0x89, 'P', 'N', 'G'}, messages[2].Image)

	// And an unknown chat takes no message
	_, err = store.StoreMessage(ctx, domain.Message{ChatID: 404, SenderID: ids[0], Content: "lost", CreatedAt: at})
	req.ErrorIs(err, errors.ErrChatNotFound)
}

func TestStore_Messages_Limit(t *testing.T) {
	req := require.New(t)
	limit := 2
	store := openStore(t, &limit)
	ctx := context.Background()
	ids := givenUsers(t, store, "alice", "bob")
	chat, err := store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)
	at := time.Now().UTC()
	for i, content := range []string{"a", "b", "c"} {
		_, err := store.StoreMessage(ctx, domain.Message{ChatID: chat.ID, SenderID: ids[0], Content: content, CreatedAt: at.Add(time.Duration(i) * time.Second)})
		req.NoError(err)
	}

	messages, err := store.GetMessages(ctx, chat.ID)

	req.NoError(err)
	req.Len(messages, 2)
	req.Equal("b", messages[0].Content)
	req.Equal("c", messages[1].Content)
}

func TestStore_Delete_Chat_Cascades(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()
	ids := givenUsers(t, store, "alice", "bob")
	chat, err := store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)
	_, err = store.StoreMessage(ctx, domain.Message{ChatID: chat.ID, SenderID: ids[0], Content: "bye", CreatedAt: time.Now().UTC()})
	req.NoError(err)

	// When
	req.NoError(store.DeleteChat(ctx, chat.ID))

	// Then the chat, its messages and its pair are gone
	_, err = store.GetChat(ctx, chat.ID)
	req.ErrorIs(err, errors.ErrChatNotFound)
	messages, err := store.GetMessages(ctx, chat.ID)
	req.NoError(err)
	req.Empty(messages)
	recreated, err := store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)
	req.NotEqual(chat.ID, recreated.ID)

	req.ErrorIs(store.DeleteChat(ctx, 404), errors.ErrChatNotFound)
}

func TestStore_Messages_Reference_Their_Chat(t *testing.T) {
	req := require.New(t)
	store := openStore(t, nil)
	ctx := context.Background()
	ids := givenUsers(t, store, "alice", "bob")
	chat, err := store.CreateChat(ctx, domain.NewDirectChat(ids[0], ids[1], time.Now().UTC()))
	req.NoError(err)
	_, err = store.StoreMessage(ctx, domain.Message{ChatID: chat.ID, SenderID: ids[0], Content: "hi", CreatedAt: time.Now().UTC()})
	req.NoError(err)

	// When the chat row alone is removed
	req.NoError(store.db.Delete(&ChatModel{}, int64(chat.ID)).Error)

	// Then no message is left behind and none can be added
	var count int64
	req.NoError(store.db.Model(&MessageModel{}).Where("chat_id = ?", int64(chat.ID)).Count(&count).Error)
	req.Zero(count)
	_, err = store.StoreMessage(ctx, domain.Message{ChatID: chat.ID, SenderID: ids[0], Content: "late", CreatedAt: time.Now().UTC()})
	req.ErrorIs(err, errors.ErrChatNotFound)
}
