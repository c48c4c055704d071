package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/infrastructure/broker"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type liveServer struct {
	url      string
	registry *runtime.Registry
	users    *repositories.UserRepository
}

// newLiveServer runs the whole relay of one instance behind an httptest server.
func newLiveServer(t *testing.T) liveServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	metrics := observability.NewMetrics()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	users, err := repositories.NewUserRepository(db, log)
	require.NoError(t, err)
	chats, err := repositories.NewChatRepository(db, log)
	require.NoError(t, err)
	messages, err := repositories.NewMessageRepository(db, log, nil)
	require.NoError(t, err)

	registry := runtime.NewRegistry(log, metrics)
	deliveries := make(chan event.Delivery, 64)
	fanout := workers.NewEventFanout(log, metrics, registry, deliveries, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = fanout.Run(ctx) }()

	conversationService := services.NewConversationService(log, users, chats)
	messageService := services.NewMessageService(log, users, messages, conversationService, 1<<20)
	gateway := NewGateway(log, metrics, registry, broker.NewLocalBackplane(log, metrics, deliveries),
		conversationService, messageService, 5*time.Second, time.Second)
	server := httptest.NewServer(NewServer(log, gateway, ServerConfig{ConnectionBufferSize: 16, InboundRate: 100, InboundBurst: 10}))

	t.Cleanup(func() {
		server.Close()
		cancel()
		_ = db.Close()
	})
	return liveServer{url: "ws" + strings.TrimPrefix(server.URL, "http"), registry: registry, users: users}
}

func (l liveServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(l.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (l liveServer) user(t *testing.T, name string) domain.UserID {
	t.Helper()
	user, err := l.users.CreateUser(context.Background(), name, name+"@example.com")
	require.NoError(t, err)
	return user.ID
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func expectFrame[T any](t *testing.T, conn *websocket.Conn, name event.Name) T {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, string(name), f.Event, string(f.Data))
	var payload T
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	return payload
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": name, "data": data}))
}

func TestServer_Direct_Conversation(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)
	alice, bob := server.user(t, "alice"), server.user(t, "bob")

	// Given both users online
	aliceConn := server.dial(t, fmt.Sprintf("?userId=%d", alice))
	bobConn := server.dial(t, fmt.Sprintf("?userId=%d", bob))
	connected := expectFrame[ConnectedPayload](t, aliceConn, event.Connected)
	req.Equal(alice, *connected.UserID)
	req.NotEmpty(connected.SessionID)
	expectFrame[ConnectedPayload](t, bobConn, event.Connected)

	// When alice writes then bob answers
	send(t, aliceConn, SendMessageEvent, map[string]any{"senderId": alice, "receiverId": bob, "content": "hi"})
	sent := expectFrame[MessagePayload](t, aliceConn, event.MessageSent)
	received := expectFrame[MessagePayload](t, bobConn, event.NewMessage)

	send(t, bobConn, SendMessageEvent, map[string]any{"senderId": bob, "receiverId": alice, "content": "hello"})
	answer := expectFrame[MessagePayload](t, aliceConn, event.NewMessage)
	expectFrame[MessagePayload](t, bobConn, event.MessageSent)

	// Then both messages live in one chat
	req.Equal(sent.ID, received.ID)
	req.Equal("hi", received.Content)
	req.Equal(sent.ChatID, answer.ChatID)
	req.Equal(bob, answer.SenderID)

	// And the history holds both, oldest first
	send(t, aliceConn, FetchMessagesEvent, map[string]any{"loggedInUserId": alice, "otherUserId": bob})
	history := expectFrame[HistoryPayload](t, aliceConn, event.MessagesFetched)
	req.Equal(sent.ChatID, history.ChatID)
	req.Len(history.Messages, 2)
	req.Equal("hi", history.Messages[0].Content)
	req.Equal("hello", history.Messages[1].Content)
}

func TestServer_Frames_Are_Processed_In_Order(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)
	alice, bob := server.user(t, "alice"), server.user(t, "bob")
	aliceConn := server.dial(t, fmt.Sprintf("?userId=%d", alice))
	bobConn := server.dial(t, fmt.Sprintf("?userId=%d", bob))
	expectFrame[ConnectedPayload](t, aliceConn, event.Connected)
	expectFrame[ConnectedPayload](t, bobConn, event.Connected)

	for i := range 5 {
		send(t, aliceConn, SendMessageEvent, map[string]any{"senderId": alice, "receiverId": bob, "content": fmt.Sprintf("m%d", i)})
	}

	for i := range 5 {
		message := expectFrame[MessagePayload](t, bobConn, event.NewMessage)
		req.Equal(fmt.Sprintf("m%d", i), message.Content)
	}
}

func TestServer_Rejects_Invalid_User_Id(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(server.url+"?userId=abc", nil)

	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Unbound_Session(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)
	alice, bob := server.user(t, "alice"), server.user(t, "bob")
	conn := server.dial(t, "")

	connected := expectFrame[ConnectedPayload](t, conn, event.Connected)
	req.Nil(connected.UserID)

	// History stays readable, writes are refused
	send(t, conn, FetchMessagesEvent, map[string]any{"loggedInUserId": alice, "otherUserId": bob})
	failure := expectFrame[ErrorPayload](t, conn, event.ErrorFetchingMessages)
	req.Equal("NOT_FOUND", string(failure.Code))

	send(t, conn, SendMessageEvent, map[string]any{"senderId": alice, "receiverId": bob, "content": "hi"})
	failure = expectFrame[ErrorPayload](t, conn, event.MessageError)
	req.Equal("INVALID_INPUT", string(failure.Code))
}

func TestServer_Disconnect_Unbinds(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)
	alice := server.user(t, "alice")
	conn := server.dial(t, fmt.Sprintf("?userId=%d", alice))
	expectFrame[ConnectedPayload](t, conn, event.Connected)
	req.Len(server.registry.SinksFor(domain.ChannelFor(alice), ""), 1)

	// When the client goes away
	req.NoError(conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	// Then the session leaves the channel
	req.Eventually(func() bool {
		return len(server.registry.SinksFor(domain.ChannelFor(alice), "")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Frame_In_Progress_Completes_After_Disconnect(t *testing.T) {
	req := require.New(t)
	server := newLiveServer(t)
	alice, bob := server.user(t, "alice"), server.user(t, "bob")
	aliceConn := server.dial(t, fmt.Sprintf("?userId=%d", alice))
	bobConn := server.dial(t, fmt.Sprintf("?userId=%d", bob))
	expectFrame[ConnectedPayload](t, aliceConn, event.Connected)
	expectFrame[ConnectedPayload](t, bobConn, event.Connected)

	// When alice sends and leaves at once
	send(t, aliceConn, SendMessageEvent, map[string]any{"senderId": alice, "receiverId": bob, "content": "last words"})
	_ = aliceConn.Close()

	// Then the message is still stored and pushed to bob
	received := expectFrame[MessagePayload](t, bobConn, event.NewMessage)
	req.Equal("last words", received.Content)

	// And alice's session is unbound once it is handled
	req.Eventually(func() bool {
		return len(server.registry.SinksFor(domain.ChannelFor(alice), "")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
