package main

import (
	"chat-relay/infrastructure/api"
	"chat-relay/infrastructure/broker"
	"chat-relay/infrastructure/postgres"
	"chat-relay/infrastructure/ws"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server failure.
// Returning an error instead of exiting lets the deferred closes run.
func run() error {
	// 1. Configuration & Logger
	config, err := loadConfig(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	metrics := observability.NewMetrics()

	// 2. Identity store
	store, err := openStore(config, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing identity store...", "driver", config.StoreDriver)
		_ = store.close()
	}()

	// 3. Presence: registry, backplane and supervised workers
	hubConfig := runtime.HubConfig{
		BufferSize:      config.BufferSize,
		SinkTimeout:     config.SinkTimeout,
		RestartInterval: config.RestartInterval,

		MetricInterval:       config.MetricInterval,
		LowCapacityThreshold: config.LowCapacityThreshold,
	}
	if config.RedisAddr != "" {
		client := broker.NewRedisClient(config.RedisAddr, config.RedisPassword)
		defer func() { _ = client.Close() }()
		hubConfig.Redis = client
		hubConfig.RedisChannel = config.RedisChannel
	}
	hub := runtime.NewHub(log, metrics, hubConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Start(ctx)
	}()

	// 4. Services and transports
	conversationService := services.NewConversationService(log, store.users, store.chats)
	messageService := services.NewMessageService(log, store.users, store.messages, conversationService, config.MaxImageBytes)
	gateway := ws.NewGateway(log, metrics, hub.Registry(), hub.Backplane(),
		conversationService, messageService, config.PersistenceTimeout, config.SinkTimeout)
	wsServer := ws.NewServer(log, gateway, ws.ServerConfig{
		ConnectionBufferSize: config.ConnectionBufferSize,
		InboundRate:          config.InboundRate,
		InboundBurst:         config.InboundBurst,
	})
	handler := api.NewHandler(log, hub.Registry(), store.users, conversationService, messageService)
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           api.NewRouter(handler, wsServer, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 5. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		hub.Stop()
		<-hubDone
		return err
	}

	// 6. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	hub.Stop()
	<-hubDone
	log.Info("Program stopped cleanly")
	return nil
}

type identityStore struct {
	users    repositories.IUserRepository
	chats    repositories.IChatRepository
	messages repositories.IMessageRepository
	close    func() error
}

func openStore(config Config, log *slog.Logger) (identityStore, error) {
	if config.StoreDriver == storePostgres {
		store, err := postgres.Open(config.PostgresDSN, log, config.LimitMessages)
		if err != nil {
			return identityStore{}, fmt.Errorf("postgres opening failed: %w", err)
		}
		return identityStore{users: store, chats: store, messages: store, close: store.Close}, nil
	}

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return identityStore{}, fmt.Errorf("database opening failed: %w", err)
	}
	users, err := repositories.NewUserRepository(db, log)
	if err != nil {
		_ = db.Close()
		return identityStore{}, err
	}
	chats, err := repositories.NewChatRepository(db, log)
	if err != nil {
		_ = db.Close()
		return identityStore{}, err
	}
	messages, err := repositories.NewMessageRepository(db, log, config.LimitMessages)
	if err != nil {
		_ = db.Close()
		return identityStore{}, err
	}
	return identityStore{
		users:    users,
		chats:    chats,
		messages: messages,
		close: func() error {
			_ = users.Close()
			_ = chats.Close()
			_ = messages.Close()
			return db.Close()
		},
	}, nil
}
