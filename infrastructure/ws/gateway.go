package ws

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

// Session is one live connection. UserID is only meaningful when Bound.
type Session struct {
	ID     string
	UserID domain.UserID
	Bound  bool
	Sink   contract.EventSink
}

func (s *Session) requireBound() error {
	if !s.Bound {
		return errors.ErrUnboundSession
	}
	return nil
}

// requireSelf rejects payloads speaking for another user than the bound one.
func (s *Session) requireSelf(userID domain.UserID) error {
	if err := s.requireBound(); err != nil {
		return err
	}
	if userID != s.UserID {
		return fmt.Errorf("%w: got %d, connected as %d", errors.ErrSenderMismatch, userID, s.UserID)
	}
	return nil
}

// Gateway routes inbound events to the services and publishes the results.
// Pushes to other users go through the backplane; answers meant for the
// originating session only are written to its sink directly.
type Gateway struct {
	log                 *slog.Logger
	metrics             *observability.Metrics
	decoder             *Decoder
	registry            contract.IRegistry
	backplane           contract.Backplane
	conversationService services.IConversationService
	messageService      services.IMessageService
	persistenceTimeout  time.Duration
	sinkTimeout         time.Duration
}

var _ Handlers = (*Gateway)(nil)

func NewGateway(log *slog.Logger, metrics *observability.Metrics, registry contract.IRegistry,
	backplane contract.Backplane, conversationService services.IConversationService,
	messageService services.IMessageService, persistenceTimeout, sinkTimeout time.Duration) *Gateway {
	return &Gateway{
		log:                 log,
		metrics:             metrics,
		decoder:             NewDecoder(),
		registry:            registry,
		backplane:           backplane,
		conversationService: conversationService,
		messageService:      messageService,
		persistenceTimeout:  persistenceTimeout,
		sinkTimeout:         sinkTimeout,
	}
}

// Connect opens a session. Without a user id the session stays unbound and
// can only fetch history.
func (g *Gateway) Connect(ctx context.Context, sessionID string, userID *domain.UserID, sink contract.EventSink) (*Session, error) {
	session := &Session{ID: sessionID, Sink: sink}
	if userID != nil {
		if err := g.registry.Bind(sessionID, *userID, sink); err != nil {
			return nil, err
		}
		session.UserID = *userID
		session.Bound = true
	}
	g.reply(ctx, session, event.New(event.Connected, ConnectedPayload{SessionID: sessionID, UserID: userID}))
	g.log.Info("Session connected", "session_id", sessionID, "bound", session.Bound, "user_id", session.UserID)
	return session, nil
}

// Disconnect unbinds the session. Work already running for it still completes.
func (g *Gateway) Disconnect(session *Session) {
	if session.Bound {
		g.registry.Unbind(session.ID)
	}
	g.log.Info("Session disconnected", "session_id", session.ID, "user_id", session.UserID)
}

// Handle processes one raw frame to completion. Failures are reported to the
// originating session only.
func (g *Gateway) Handle(ctx context.Context, session *Session, raw []byte) {
	in, err := g.decoder.Decode(raw)
	if err != nil {
		name, failure := "unknown", event.GenericError
		if in != nil {
			name, failure = in.Name(), in.failure()
		}
		g.fail(ctx, session, name, failure, err)
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, g.persistenceTimeout)
	defer cancel()
	if err := in.dispatch(handlerCtx, g, session); err != nil {
		g.fail(ctx, session, in.Name(), in.failure(), err)
		return
	}
	g.metrics.Event(in.Name(), observability.OutcomeOK)
}

func (g *Gateway) fail(ctx context.Context, session *Session, name string, failure event.Name, err error) {
	g.metrics.Event(name, observability.OutcomeFailed)
	if errors.CodeOf(err) == errors.CodeInternal {
		g.log.Error("Event failed", "event", name, "session_id", session.ID, "user_id", session.UserID, "error", err)
	} else {
		g.log.Debug("Event rejected", "event", name, "session_id", session.ID, "error", err)
	}
	g.reply(ctx, session, event.New(failure, toErrorPayload(err)))
}

// reply writes to the originating session only.
func (g *Gateway) reply(ctx context.Context, session *Session, evt event.Outbound) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.sinkTimeout)
	defer cancel()
	if err := session.Sink.Consume(sinkCtx, evt); err != nil {
		g.metrics.Push(observability.OutcomeDropped)
		g.log.Debug("Reply dropped", "session_id", session.ID, "event", evt.Name, "error", err)
		return
	}
	g.metrics.Push(observability.OutcomeOK)
}

// publish is fire-and-forget: a delivery that cannot be published is logged
// and never fails the request that produced it.
func (g *Gateway) publish(ctx context.Context, deliveries ...event.Delivery) {
	ctx = context.WithoutCancel(ctx)
	for _, delivery := range deliveries {
		if err := g.backplane.Publish(ctx, delivery); err != nil {
			g.log.Debug("Delivery not published", "channel", delivery.Channel.String(), "event", delivery.Event.Name, "error", err)
		}
	}
}

func (g *Gateway) SendMessage(ctx context.Context, s *Session, in SendMessage) error {
	if err := s.requireSelf(in.SenderID); err != nil {
		return err
	}
	var image []byte
	if in.Image != nil && *in.Image != "" {
		decoded, err := domain.DecodeImage(*in.Image)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidImage, err)
		}
		image = decoded
	}

	message, chat, err := g.messageService.Send(ctx, domain.SendMessageCommand{
		SenderID:   in.SenderID,
		ChatID:     in.ChatID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		Image:      image,
	})
	if err != nil {
		return err
	}

	payload := toMessagePayload(message, chat)
	deliveries := []event.Delivery{event.To(s.UserID, event.New(event.MessageSent, payload))}
	// The sender never gets its own message back through the broadcast.
	for _, member := range chat.MembersExcept(s.UserID) {
		deliveries = append(deliveries, event.To(member, event.New(event.NewMessage, payload)))
	}
	g.publish(ctx, deliveries...)
	return nil
}

func (g *Gateway) CreateGroup(ctx context.Context, s *Session, in CreateGroup) error {
	if err := s.requireBound(); err != nil {
		return err
	}
	chat, err := g.conversationService.CreateGroup(ctx, s.UserID, in.GroupName, participantIDs(in.Participants))
	if err != nil {
		return err
	}

	payload := toGroupPayload(chat, s.UserID)
	deliveries := []event.Delivery{event.To(s.UserID, event.New(event.GroupCreatedAck, payload))}
	for _, member := range chat.MembersExcept(s.UserID) {
		deliveries = append(deliveries, event.To(member, event.New(event.GroupCreated, payload)))
	}
	g.publish(ctx, deliveries...)
	return nil
}

// Typing reaches the named receiver only when there is one. Otherwise the
// stored members of the chat are used, then the participants of the payload.
// The typist is never notified.
func (g *Gateway) Typing(ctx context.Context, s *Session, in Typing) error {
	if err := s.requireSelf(in.UserID); err != nil {
		return err
	}

	var targets []domain.UserID
	switch {
	case in.ReceiverID != 0:
		targets = []domain.UserID{in.ReceiverID}
	case in.ChatID != 0:
		chat, err := g.conversationService.GetConversation(ctx, in.ChatID)
		if err != nil {
			return err
		}
		if !chat.HasMember(s.UserID) {
			return fmt.Errorf("%w: user %d in chat %d", errors.ErrNotMember, s.UserID, chat.ID)
		}
		targets = chat.Members
	case len(in.Participants) > 0:
		targets = participantIDs(in.Participants)
	default:
		return errors.ErrMissingTarget
	}

	payload := TypingPayload{UserID: in.UserID, ChatID: in.ChatID, Typing: in.Typing}
	deliveries := lo.Map(lo.Without(lo.Uniq(targets), s.UserID), func(target domain.UserID, _ int) event.Delivery {
		return event.To(target, event.New(event.ReceiveTyping, payload))
	})
	g.publish(ctx, deliveries...)
	return nil
}

// FetchMessages answers the requesting session only and never creates a chat.
// A chat id is only served to a bound member of that chat.
func (g *Gateway) FetchMessages(ctx context.Context, s *Session, in FetchMessages) error {
	if in.ChatID != 0 {
		if err := s.requireBound(); err != nil {
			return err
		}
		chat, err := g.conversationService.GetConversation(ctx, in.ChatID)
		if err != nil {
			return err
		}
		if !chat.HasMember(s.UserID) {
			return fmt.Errorf("%w: user %d in chat %d", errors.ErrNotMember, s.UserID, chat.ID)
		}
		messages, err := g.messageService.History(ctx, chat.ID)
		if err != nil {
			return err
		}
		g.reply(ctx, s, event.New(event.MessagesFetched, NewHistoryPayload(chat, messages)))
		return nil
	}

	if in.LoggedInUserID == 0 || in.OtherUserID == 0 {
		return errors.ErrMissingTarget
	}
	if s.Bound {
		if err := s.requireSelf(in.LoggedInUserID); err != nil {
			return err
		}
	}
	chat, messages, err := g.messageService.HistoryBetween(ctx, in.LoggedInUserID, in.OtherUserID)
	if err != nil {
		return err
	}
	g.reply(ctx, s, event.New(event.MessagesFetched, NewHistoryPayload(chat, messages)))
	return nil
}

// DeleteChat acknowledges to the requesting session and notifies every other
// session of every prior member.
func (g *Gateway) DeleteChat(ctx context.Context, s *Session, in DeleteChat) error {
	if err := s.requireBound(); err != nil {
		return err
	}
	chat, err := g.conversationService.GetConversation(ctx, in.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(s.UserID) {
		return fmt.Errorf("%w: user %d in chat %d", errors.ErrNotMember, s.UserID, chat.ID)
	}
	deleted, err := g.conversationService.DeleteConversation(ctx, chat.ID)
	if err != nil {
		return err
	}

	payload := ChatDeletedPayload{ChatID: deleted.ID}
	g.reply(ctx, s, event.New(event.ChatDeletedAck, payload))
	deliveries := lo.Map(deleted.Members, func(member domain.UserID, _ int) event.Delivery {
		delivery := event.To(member, event.New(event.ChatDeleted, payload))
		delivery.ExceptSession = s.ID
		return delivery
	})
	g.publish(ctx, deliveries...)
	return nil
}

// Signal relays a webrtc message as is. Its content is never inspected.
func (g *Gateway) Signal(ctx context.Context, s *Session, in Signal) error {
	if err := s.requireBound(); err != nil {
		return err
	}
	g.publish(ctx, event.To(in.TargetUserID, event.New(in.Kind, SignalPayload{
		From:       s.ID,
		FromUserID: s.UserID,
		Payload:    in.Payload,
	})))
	return nil
}
