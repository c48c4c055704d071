//go:generate go run go.uber.org/mock/mockgen -source=conversation_service.go -destination=../mocks/mock_conversation_service.go -package=mocks
package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

type IConversationService interface {
	ResolveDirect(ctx context.Context, userA, userB domain.UserID) (domain.Chat, error)
	FindDirect(ctx context.Context, userA, userB domain.UserID) (domain.Chat, error)
	CreateGroup(ctx context.Context, creator domain.UserID, name string, members []domain.UserID) (domain.Chat, error)
	GetGroupsFor(ctx context.Context, userID domain.UserID) ([]domain.Chat, error)
	GetConversation(ctx context.Context, id domain.ChatID) (domain.Chat, error)
	DeleteConversation(ctx context.Context, id domain.ChatID) (domain.Chat, error)
}

// ConversationService resolves chats. It is, with MessageService, the only
// writer of the identity store.
type ConversationService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	chatRepository repositories.IChatRepository
	pairs          singleflight.Group
	now            func() time.Time
}

func NewConversationService(log *slog.Logger, userRepository repositories.IUserRepository,
	chatRepository repositories.IChatRepository) *ConversationService {
	return &ConversationService{
		log:            log,
		userRepository: userRepository,
		chatRepository: chatRepository,
		now:            time.Now,
	}
}

// ResolveDirect returns the direct chat of the pair, creating it on first use.
// Concurrent calls for one pair share a single find-or-create; across
// processes the pair index of the store rejects the second creation and the
// loser re-reads the winner's chat.
func (s *ConversationService) ResolveDirect(ctx context.Context, userA, userB domain.UserID) (domain.Chat, error) {
	if userA == userB {
		return domain.Chat{}, errors.ErrSelfMessage
	}
	for _, id := range []domain.UserID{userA, userB} {
		if _, err := s.userRepository.GetUser(ctx, id); err != nil {
			return domain.Chat{}, err
		}
	}

	pair := domain.NewPairKey(userA, userB)
	// The resolution is shared by every caller of the pair, so it must not
	// end with the context of the first one.
	shared := context.WithoutCancel(ctx)
	res, err, joined := s.pairs.Do(pair.String(), func() (any, error) {
		return s.findOrCreate(shared, pair)
	})
	if err != nil {
		return domain.Chat{}, err
	}
	if joined {
		s.log.Debug("Direct chat resolution shared", "pair", pair.String())
	}
	return res.(domain.Chat), nil
}

func (s *ConversationService) findOrCreate(ctx context.Context, pair domain.PairKey) (domain.Chat, error) {
	chat, err := s.chatRepository.FindDirectChat(ctx, pair)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, errors.ErrChatNotFound) {
		return domain.Chat{}, err
	}

	chat, err = s.chatRepository.CreateChat(ctx, domain.NewDirectChat(pair.Low, pair.High, s.now().UTC()))
	if errors.Is(err, errors.ErrPairAlreadyExists) {
		s.log.Debug("Direct chat created concurrently, reloading", "pair", pair.String())
		return s.chatRepository.FindDirectChat(ctx, pair)
	}
	if err != nil {
		return domain.Chat{}, err
	}
	s.log.Info("Direct chat created", "chat_id", chat.ID, "pair", pair.String())
	return chat, nil
}

// FindDirect never creates: a pair without a chat is ErrChatNotFound.
func (s *ConversationService) FindDirect(ctx context.Context, userA, userB domain.UserID) (domain.Chat, error) {
	return s.chatRepository.FindDirectChat(ctx, domain.NewPairKey(userA, userB))
}

// CreateGroup always creates a new chat. The creator is added to the members.
func (s *ConversationService) CreateGroup(ctx context.Context, creator domain.UserID, name string, members []domain.UserID) (domain.Chat, error) {
	if name == "" {
		return domain.Chat{}, errors.ErrEmptyGroupName
	}
	if len(members) == 0 {
		return domain.Chat{}, errors.ErrEmptyMembers
	}

	group := domain.NewGroupChat(name, append([]domain.UserID{creator}, members...), s.now().UTC())
	for _, id := range group.Members {
		if _, err := s.userRepository.GetUser(ctx, id); err != nil {
			return domain.Chat{}, err
		}
	}

	chat, err := s.chatRepository.CreateChat(ctx, group)
	if err != nil {
		return domain.Chat{}, err
	}
	s.log.Info("Group created", "chat_id", chat.ID, "name", chat.Name, "members", len(chat.Members))
	return chat, nil
}

func (s *ConversationService) GetGroupsFor(ctx context.Context, userID domain.UserID) ([]domain.Chat, error) {
	return s.chatRepository.ListGroupsForUser(ctx, userID)
}

func (s *ConversationService) GetConversation(ctx context.Context, id domain.ChatID) (domain.Chat, error) {
	return s.chatRepository.GetChat(ctx, id)
}

// DeleteConversation removes the chat and its messages.
// The deleted chat is returned so callers still know who its members were.
func (s *ConversationService) DeleteConversation(ctx context.Context, id domain.ChatID) (domain.Chat, error) {
	chat, err := s.chatRepository.GetChat(ctx, id)
	if err != nil {
		return domain.Chat{}, err
	}
	if err := s.chatRepository.DeleteChat(ctx, id); err != nil {
		return domain.Chat{}, fmt.Errorf("delete chat %d: %w", id, err)
	}
	s.log.Info("Chat deleted", "chat_id", id)
	return chat, nil
}
