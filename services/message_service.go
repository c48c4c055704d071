//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

type IMessageService interface {
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, domain.Chat, error)
	History(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error)
	HistoryBetween(ctx context.Context, userA, userB domain.UserID) (domain.Chat, []domain.Message, error)
}

type MessageService struct {
	log                 *slog.Logger
	userRepository      repositories.IUserRepository
	messageRepository   repositories.IMessageRepository
	conversationService IConversationService
	maxImageBytes       int
	now                 func() time.Time
}

func NewMessageService(log *slog.Logger, userRepository repositories.IUserRepository,
	messageRepository repositories.IMessageRepository, conversationService IConversationService,
	maxImageBytes int) *MessageService {
	return &MessageService{
		log:                 log,
		userRepository:      userRepository,
		messageRepository:   messageRepository,
		conversationService: conversationService,
		maxImageBytes:       maxImageBytes,
		now:                 time.Now,
	}
}

// Send validates and persists a message. It has no delivery side effect: the
// returned chat tells the caller who has to be notified.
func (s *MessageService) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, domain.Chat, error) {
	if strings.TrimSpace(cmd.Content) == "" && len(cmd.Image) == 0 {
		return domain.Message{}, domain.Chat{}, errors.ErrEmptyMessage
	}
	imageType, err := s.imageType(cmd.Image)
	if err != nil {
		return domain.Message{}, domain.Chat{}, err
	}
	if _, err := s.userRepository.GetUser(ctx, cmd.SenderID); err != nil {
		return domain.Message{}, domain.Chat{}, err
	}

	chat, receiverID, err := s.resolveTarget(ctx, cmd)
	if err != nil {
		return domain.Message{}, domain.Chat{}, err
	}

	message, err := s.messageRepository.StoreMessage(ctx, domain.Message{
		ChatID:     chat.ID,
		SenderID:   cmd.SenderID,
		ReceiverID: receiverID,
		Content:    cmd.Content,
		Image:      cmd.Image,
		ImageType:  imageType,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return domain.Message{}, domain.Chat{}, err
	}
	s.log.Debug("Message stored", "message_id", message.ID, "chat_id", chat.ID, "user_id", cmd.SenderID)
	return message, chat, nil
}

// resolveTarget returns the chat of the message and, for a direct chat, the
// receiver. A chat id is never re-created implicitly.
func (s *MessageService) resolveTarget(ctx context.Context, cmd domain.SendMessageCommand) (domain.Chat, domain.UserID, error) {
	if cmd.TargetsChat() {
		chat, err := s.conversationService.GetConversation(ctx, cmd.ChatID)
		if err != nil {
			return domain.Chat{}, 0, err
		}
		if !chat.HasMember(cmd.SenderID) {
			return domain.Chat{}, 0, fmt.Errorf("%w: user %d in chat %d", errors.ErrNotMember, cmd.SenderID, chat.ID)
		}
		receiverID, _ := chat.OtherMember(cmd.SenderID)
		return chat, receiverID, nil
	}

	if cmd.ReceiverID == 0 {
		return domain.Chat{}, 0, errors.ErrMissingTarget
	}
	if cmd.ReceiverID == cmd.SenderID {
		return domain.Chat{}, 0, errors.ErrSelfMessage
	}
	chat, err := s.conversationService.ResolveDirect(ctx, cmd.SenderID, cmd.ReceiverID)
	if err != nil {
		return domain.Chat{}, 0, err
	}
	return chat, cmd.ReceiverID, nil
}

// imageType checks the decoded size and sniffs the MIME type of an attachment.
func (s *MessageService) imageType(image []byte) (string, error) {
	if len(image) == 0 {
		return "", nil
	}
	if s.maxImageBytes > 0 && len(image) > s.maxImageBytes {
		return "", fmt.Errorf("%w: %d bytes, maximum is %d", errors.ErrImageTooLarge, len(image), s.maxImageBytes)
	}
	// Any binary payload is accepted; the detected type is only recorded.
	return mimetype.Detect(image).String(), nil
}

// History returns the messages of an existing chat, oldest first.
func (s *MessageService) History(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	if _, err := s.conversationService.GetConversation(ctx, chatID); err != nil {
		return nil, err
	}
	return s.messageRepository.GetMessages(ctx, chatID)
}

// HistoryBetween returns the direct chat of two users with its messages.
// It never creates the chat.
func (s *MessageService) HistoryBetween(ctx context.Context, userA, userB domain.UserID) (domain.Chat, []domain.Message, error) {
	chat, err := s.conversationService.FindDirect(ctx, userA, userB)
	if err != nil {
		return domain.Chat{}, nil, err
	}
	messages, err := s.messageRepository.GetMessages(ctx, chat.ID)
	if err != nil {
		return domain.Chat{}, nil, err
	}
	return chat, messages, nil
}
